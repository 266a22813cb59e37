package aggregator

import (
	"context"
	"fmt"

	storage "github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/postgres"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/jackc/pgx/v5"
)

func (db *DB) initCertificates(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS certificate (
			certificate_id TEXT PRIMARY KEY,
			parent_certificate_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			signature_kind TEXT NOT NULL,
			signature TEXT NOT NULL,
			aggregate_verification_key TEXT NOT NULL,
			epoch BIGINT NOT NULL,
			signed_entity_type_id SMALLINT NOT NULL,
			signed_entity_type_key TEXT NOT NULL UNIQUE,
			signed_entity_type JSONB NOT NULL,
			protocol_version TEXT NOT NULL,
			protocol_parameters JSONB NOT NULL,
			protocol_message JSONB NOT NULL,
			signers JSONB NOT NULL,
			initiated_at TIMESTAMPTZ NOT NULL,
			sealed_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS certificate_epoch_idx ON certificate (epoch DESC, seq DESC);
	`
	return db.Exec(ctx, query)
}

const certificateColumns = `certificate_id, parent_certificate_id, message, signature_kind, signature,
	aggregate_verification_key, epoch, signed_entity_type, protocol_version, protocol_parameters,
	protocol_message, signers, initiated_at, sealed_at`

func scanCertificate(row pgx.Row) (*entities.Certificate, error) {
	var (
		c                                          entities.Certificate
		epoch                                      int64
		typeJSON, paramsJSON, messageJSON, signers []byte
	)
	err := row.Scan(&c.ID, &c.ParentID, &c.Message, &c.Signature.Kind, &c.Signature.Value,
		&c.AggregateVerificationKey, &epoch, &typeJSON, &c.ProtocolVersion, &paramsJSON,
		&messageJSON, &signers, &c.InitiatedAt, &c.SealedAt)
	if err != nil {
		return nil, err
	}
	c.Epoch = entities.Epoch(epoch)
	c.InitiatedAt = c.InitiatedAt.UTC()
	c.SealedAt = c.SealedAt.UTC()
	c.ProtocolMessage = entities.NewProtocolMessage()

	for _, field := range []struct {
		name string
		raw  []byte
		into any
	}{
		{"signed entity type", typeJSON, &c.SignedEntityType},
		{"protocol parameters", paramsJSON, &c.ProtocolParameters},
		{"protocol message", messageJSON, &c.ProtocolMessage},
		{"signers", signers, &c.Signers},
	} {
		if err := json.Unmarshal(field.raw, field.into); err != nil {
			return nil, fmt.Errorf("decode %s of certificate %s: %w", field.name, c.ID, err)
		}
	}
	return &c, nil
}

func (db *DB) queryCertificate(ctx context.Context, where string, args ...any) (*entities.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificate ` + where + ` LIMIT 1`
	cert, err := scanCertificate(db.QueryRow(ctx, query, args...))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	return cert, err
}

// CreateCertificate relies on the unique signed entity type key to keep one certificate per beacon.
func (db *DB) CreateCertificate(ctx context.Context, cert *entities.Certificate) error {
	signedEntityType := cert.SignedEntityType.Normalize()
	encoded := make([]string, 0, 4)
	for _, v := range []any{signedEntityType, cert.ProtocolParameters, cert.ProtocolMessage, cert.Signers} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode certificate %s: %w", cert.ID, err)
		}
		encoded = append(encoded, string(b))
	}

	query := `
		INSERT INTO certificate (certificate_id, parent_certificate_id, message, signature_kind, signature,
			aggregate_verification_key, epoch, signed_entity_type_id, signed_entity_type_key, signed_entity_type,
			protocol_version, protocol_parameters, protocol_message, signers, initiated_at, sealed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16)
	`
	err := db.Exec(ctx, query, cert.ID, cert.ParentID, cert.Message, string(cert.Signature.Kind), cert.Signature.Value,
		cert.AggregateVerificationKey, int64(cert.Epoch), int16(signedEntityType.Discriminant), signedEntityType.Key(),
		encoded[0], cert.ProtocolVersion, encoded[1], encoded[2], encoded[3], cert.InitiatedAt, cert.SealedAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", storage.ErrCertificateExists, signedEntityType.Key())
	}
	if err != nil {
		return fmt.Errorf("create certificate %s: %w", cert.ID, err)
	}
	return nil
}

func (db *DB) GetCertificate(ctx context.Context, id string) (*entities.Certificate, error) {
	cert, err := db.queryCertificate(ctx, `WHERE certificate_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get certificate %s: %w", id, err)
	}
	return cert, nil
}

func (db *DB) GetLatestCertificate(ctx context.Context) (*entities.Certificate, error) {
	cert, err := db.queryCertificate(ctx, `ORDER BY epoch DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("get latest certificate: %w", err)
	}
	return cert, nil
}

func (db *DB) GetLatestCertificateBefore(ctx context.Context, epoch entities.Epoch) (*entities.Certificate, error) {
	cert, err := db.queryCertificate(ctx, `WHERE epoch < $1 ORDER BY epoch DESC, seq DESC`, int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("get latest certificate before %d: %w", epoch, err)
	}
	return cert, nil
}

func (db *DB) GetCertificateBySignedEntityType(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error) {
	cert, err := db.queryCertificate(ctx, `WHERE signed_entity_type_key = $1`, signedEntityType.Normalize().Key())
	if err != nil {
		return nil, fmt.Errorf("get certificate %s: %w", signedEntityType, err)
	}
	return cert, nil
}

// ListCertificates returns the newest certificates first. A limit of zero lists them all.
func (db *DB) ListCertificates(ctx context.Context, limit int) ([]entities.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificate ORDER BY epoch DESC, seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	out := []entities.Certificate{}
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, *cert)
	}
	return out, rows.Err()
}
