package aggregator

import (
	"context"
	"fmt"

	"github.com/canopy-network/certifier/pkg/db/postgres"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/jackc/pgx/v5"
)

func (db *DB) initSigners(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS signer (
			party_id TEXT PRIMARY KEY,
			first_registered_at TIMESTAMPTZ NOT NULL,
			last_registered_at TIMESTAMPTZ NOT NULL
		)
	`
	return db.Exec(ctx, query)
}

func (db *DB) initSignerRegistrations(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS signer_registration (
			epoch BIGINT NOT NULL,
			party_id TEXT NOT NULL,
			verification_key TEXT NOT NULL,
			verification_key_signature TEXT NOT NULL DEFAULT '',
			operational_certificate JSONB,
			kes_period BIGINT,
			stake BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (epoch, party_id)
		)
	`
	return db.Exec(ctx, query)
}

func (db *DB) RecordSignerRegistration(ctx context.Context, partyID entities.PartyID) error {
	query := `
		INSERT INTO signer (party_id, first_registered_at, last_registered_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (party_id) DO UPDATE SET
			last_registered_at = EXCLUDED.last_registered_at
	`
	if err := db.Exec(ctx, query, partyID, db.timestamp()); err != nil {
		return fmt.Errorf("record signer %s: %w", partyID, err)
	}
	return nil
}

const signerColumns = `party_id, verification_key, verification_key_signature, operational_certificate, kes_period, stake`

func scanSigner(row pgx.Row) (entities.SignerWithStake, error) {
	var (
		s      entities.SignerWithStake
		opcert []byte
		kes    *int64
		stake  int64
	)
	if err := row.Scan(&s.PartyID, &s.VerificationKey, &s.VerificationKeySignature, &opcert, &kes, &stake); err != nil {
		return s, err
	}
	s.Stake = uint64(stake)
	if kes != nil {
		period := entities.KESPeriod(*kes)
		s.KESPeriod = &period
	}
	if len(opcert) > 0 {
		s.OperationalCertificate = &entities.OperationalCertificate{}
		if err := json.Unmarshal(opcert, s.OperationalCertificate); err != nil {
			return s, fmt.Errorf("decode operational certificate of %s: %w", s.PartyID, err)
		}
	}
	return s, nil
}

// SaveVerificationKey locks the (epoch, party) row, reads the record it replaces and upserts.
func (db *DB) SaveVerificationKey(ctx context.Context, epoch entities.Epoch, signer entities.SignerWithStake) (*entities.SignerWithStake, error) {
	var opcert []byte
	if signer.OperationalCertificate != nil {
		encoded, err := json.Marshal(signer.OperationalCertificate)
		if err != nil {
			return nil, fmt.Errorf("encode operational certificate: %w", err)
		}
		opcert = encoded
	}
	var kes *int64
	if signer.KESPeriod != nil {
		period := int64(*signer.KESPeriod)
		kes = &period
	}

	var previous *entities.SignerWithStake
	err := db.BeginFunc(ctx, func(ctx context.Context) error {
		row := db.QueryRow(ctx,
			`SELECT `+signerColumns+` FROM signer_registration WHERE epoch = $1 AND party_id = $2 FOR UPDATE`,
			int64(epoch), signer.PartyID)
		existing, err := scanSigner(row)
		switch {
		case postgres.IsNoRows(err):
		case err != nil:
			return fmt.Errorf("read previous registration: %w", err)
		default:
			previous = &existing
		}

		query := `
			INSERT INTO signer_registration (epoch, ` + signerColumns + `, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
			ON CONFLICT (epoch, party_id) DO UPDATE SET
				verification_key = EXCLUDED.verification_key,
				verification_key_signature = EXCLUDED.verification_key_signature,
				operational_certificate = EXCLUDED.operational_certificate,
				kes_period = EXCLUDED.kes_period,
				stake = EXCLUDED.stake,
				created_at = EXCLUDED.created_at
		`
		return db.Exec(ctx, query, int64(epoch), signer.PartyID, signer.VerificationKey, signer.VerificationKeySignature,
			jsonParam(opcert), kes, int64(signer.Stake), db.timestamp())
	})
	if err != nil {
		return nil, fmt.Errorf("save verification key of %s at epoch %d: %w", signer.PartyID, epoch, err)
	}
	return previous, nil
}

// GetSigners returns the signers recorded for epoch ordered by party id.
func (db *DB) GetSigners(ctx context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error) {
	rows, err := db.Query(ctx,
		`SELECT `+signerColumns+` FROM signer_registration WHERE epoch = $1 ORDER BY party_id`, int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("get signers %d: %w", epoch, err)
	}
	defer rows.Close()

	out := []entities.SignerWithStake{}
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signer: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) GetVerificationKeys(ctx context.Context, epoch entities.Epoch) (map[entities.PartyID]entities.Signer, error) {
	signers, err := db.GetSigners(ctx, epoch)
	if err != nil {
		return nil, err
	}
	out := make(map[entities.PartyID]entities.Signer, len(signers))
	for _, s := range signers {
		out[s.PartyID] = s.Signer
	}
	return out, nil
}

func (db *DB) PruneVerificationKeys(ctx context.Context, epoch entities.Epoch) error {
	if err := db.Exec(ctx, `DELETE FROM signer_registration WHERE epoch < $1`, int64(epoch)); err != nil {
		return fmt.Errorf("prune verification keys below %d: %w", epoch, err)
	}
	return nil
}

// jsonParam passes encoded JSON as text so an empty value becomes NULL.
func jsonParam(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}
