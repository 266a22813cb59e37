package aggregator

import (
	"context"
	"fmt"
	"time"

	storage "github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/postgres"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (db *DB) initOpenMessages(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS open_message (
			open_message_id TEXT PRIMARY KEY,
			epoch BIGINT NOT NULL,
			signed_entity_type_id SMALLINT NOT NULL,
			signed_entity_type_key TEXT NOT NULL,
			signed_entity_type JSONB NOT NULL,
			protocol_message JSONB NOT NULL,
			is_certified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS open_message_type_idx ON open_message (signed_entity_type_key, created_at DESC, seq DESC);
		CREATE INDEX IF NOT EXISTS open_message_epoch_idx ON open_message (epoch);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initSingleSignatures(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS single_signature (
			open_message_id TEXT NOT NULL REFERENCES open_message (open_message_id) ON DELETE CASCADE,
			party_id TEXT NOT NULL,
			lottery_indexes BIGINT[] NOT NULL,
			signature TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL,
			PRIMARY KEY (open_message_id, party_id)
		)
	`
	return db.Exec(ctx, query)
}

const openMessageColumns = `open_message_id, epoch, signed_entity_type, protocol_message, is_certified, created_at`

func scanOpenMessage(row pgx.Row) (*entities.OpenMessage, error) {
	var (
		msg         entities.OpenMessage
		epoch       int64
		typeJSON    []byte
		messageJSON []byte
	)
	if err := row.Scan(&msg.ID, &epoch, &typeJSON, &messageJSON, &msg.IsCertified, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Epoch = entities.Epoch(epoch)
	msg.CreatedAt = msg.CreatedAt.UTC()
	if err := json.Unmarshal(typeJSON, &msg.SignedEntityType); err != nil {
		return nil, fmt.Errorf("decode signed entity type of %s: %w", msg.ID, err)
	}
	msg.ProtocolMessage = entities.NewProtocolMessage()
	if err := json.Unmarshal(messageJSON, &msg.ProtocolMessage); err != nil {
		return nil, fmt.Errorf("decode protocol message of %s: %w", msg.ID, err)
	}
	return &msg, nil
}

func (db *DB) CreateOpenMessage(ctx context.Context, epoch entities.Epoch, signedEntityType entities.SignedEntityType, protocolMessage entities.ProtocolMessage) (*entities.OpenMessage, error) {
	msg := &entities.OpenMessage{
		ID:               uuid.NewString(),
		Epoch:            epoch,
		SignedEntityType: signedEntityType.Normalize(),
		ProtocolMessage:  protocolMessage.Clone(),
		CreatedAt:        db.timestamp(),
	}
	typeJSON, err := json.Marshal(msg.SignedEntityType)
	if err != nil {
		return nil, fmt.Errorf("encode signed entity type: %w", err)
	}
	messageJSON, err := json.Marshal(msg.ProtocolMessage)
	if err != nil {
		return nil, fmt.Errorf("encode protocol message: %w", err)
	}

	query := `
		INSERT INTO open_message (open_message_id, epoch, signed_entity_type_id, signed_entity_type_key,
			signed_entity_type, protocol_message, is_certified, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, FALSE, $7)
	`
	if err := db.Exec(ctx, query, msg.ID, int64(epoch), int16(msg.SignedEntityType.Discriminant),
		msg.SignedEntityType.Key(), string(typeJSON), string(messageJSON), msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("create open message %s: %w", msg.SignedEntityType, err)
	}
	return msg, nil
}

// GetOpenMessage returns the newest open message for the signed entity type, or nil.
func (db *DB) GetOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error) {
	query := `
		SELECT ` + openMessageColumns + `
		FROM open_message
		WHERE signed_entity_type_key = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	msg, err := scanOpenMessage(db.QueryRow(ctx, query, signedEntityType.Normalize().Key()))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open message %s: %w", signedEntityType, err)
	}
	return msg, nil
}

func (db *DB) GetOpenMessageWithSignatures(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessageWithSignatures, error) {
	msg, err := db.GetOpenMessage(ctx, signedEntityType)
	if err != nil || msg == nil {
		return nil, err
	}

	rows, err := db.Query(ctx, `
		SELECT party_id, lottery_indexes, signature, created_at
		FROM single_signature
		WHERE open_message_id = $1
		ORDER BY seq
	`, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("get single signatures of %s: %w", msg.ID, err)
	}
	defer rows.Close()

	out := &entities.OpenMessageWithSignatures{OpenMessage: *msg, SingleSignatures: []entities.SingleSignature{}}
	for rows.Next() {
		var (
			sig     = entities.SingleSignature{OpenMessageID: msg.ID}
			indexes []int64
		)
		if err := rows.Scan(&sig.PartyID, &indexes, &sig.Signature, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan single signature: %w", err)
		}
		sig.CreatedAt = sig.CreatedAt.UTC()
		sig.LotteryIndexes = make([]uint64, len(indexes))
		for i, idx := range indexes {
			sig.LotteryIndexes[i] = uint64(idx)
		}
		out.SingleSignatures = append(out.SingleSignatures, sig)
	}
	return out, rows.Err()
}

// UpdateOpenMessage replaces every mutable field of the stored record.
func (db *DB) UpdateOpenMessage(ctx context.Context, msg *entities.OpenMessage) error {
	signedEntityType := msg.SignedEntityType.Normalize()
	typeJSON, err := json.Marshal(signedEntityType)
	if err != nil {
		return fmt.Errorf("encode signed entity type: %w", err)
	}
	messageJSON, err := json.Marshal(msg.ProtocolMessage)
	if err != nil {
		return fmt.Errorf("encode protocol message: %w", err)
	}

	query := `
		UPDATE open_message SET
			epoch = $2,
			signed_entity_type_id = $3,
			signed_entity_type_key = $4,
			signed_entity_type = $5::jsonb,
			protocol_message = $6::jsonb,
			is_certified = $7,
			created_at = $8
		WHERE open_message_id = $1
	`
	tag, err := db.GetExecutor(ctx).Exec(ctx, query, msg.ID, int64(msg.Epoch), int16(signedEntityType.Discriminant),
		signedEntityType.Key(), string(typeJSON), string(messageJSON), msg.IsCertified,
		msg.CreatedAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("update open message %s: %w", msg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update open message %s: %w", msg.ID, storage.ErrNotFound)
	}
	return nil
}

// CleanEpoch removes open messages below epoch. Their signatures go with them.
func (db *DB) CleanEpoch(ctx context.Context, epoch entities.Epoch) (int, error) {
	tag, err := db.GetExecutor(ctx).Exec(ctx, `DELETE FROM open_message WHERE epoch < $1`, int64(epoch))
	if err != nil {
		return 0, fmt.Errorf("clean open messages below %d: %w", epoch, err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveSingleSignature upserts per (open message, party).
func (db *DB) SaveSingleSignature(ctx context.Context, sig entities.SingleSignature) error {
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.timestamp()
	}
	indexes := make([]int64, len(sig.LotteryIndexes))
	for i, idx := range sig.LotteryIndexes {
		indexes[i] = int64(idx)
	}

	query := `
		INSERT INTO single_signature (open_message_id, party_id, lottery_indexes, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (open_message_id, party_id) DO UPDATE SET
			lottery_indexes = EXCLUDED.lottery_indexes,
			signature = EXCLUDED.signature,
			created_at = EXCLUDED.created_at,
			seq = nextval(pg_get_serial_sequence('single_signature', 'seq'))
	`
	err := db.Exec(ctx, query, sig.OpenMessageID, sig.PartyID, indexes, sig.Signature, createdAt)
	if postgres.IsForeignKeyViolation(err) {
		return fmt.Errorf("save single signature for open message %s: %w", sig.OpenMessageID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("save single signature of %s: %w", sig.PartyID, err)
	}
	return nil
}
