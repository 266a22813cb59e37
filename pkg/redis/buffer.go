package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/certifier/pkg/buffer"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultBufferTTL bounds how long signatures of an abandoned open message survive.
const DefaultBufferTTL = 24 * time.Hour

// SignatureBuffer keeps buffered signatures in one Redis list per open message,
// so they survive an aggregator restart.
type SignatureBuffer struct {
	client *Client
	ttl    time.Duration
}

var _ buffer.SignatureBuffer = (*SignatureBuffer)(nil)

func NewSignatureBuffer(client *Client, ttl time.Duration) *SignatureBuffer {
	if ttl <= 0 {
		ttl = DefaultBufferTTL
	}
	return &SignatureBuffer{client: client, ttl: ttl}
}

func (b *SignatureBuffer) key(openMessageID string) string {
	return b.client.Key("buffer", openMessageID)
}

func (b *SignatureBuffer) Buffer(ctx context.Context, sig entities.SingleSignature) error {
	if sig.OpenMessageID == "" {
		return buffer.ErrMissingOpenMessageID
	}
	entry, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode buffered signature: %w", err)
	}

	key := b.key(sig.OpenMessageID)
	_, err = b.client.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entry)
		pipe.Expire(ctx, key, b.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("buffer signature of %s: %w", sig.PartyID, err)
	}
	return nil
}

// Drain reads and deletes the list in one MULTI/EXEC, so a concurrent Buffer lands in a fresh list.
func (b *SignatureBuffer) Drain(ctx context.Context, openMessageID string) ([]entities.SingleSignature, error) {
	key := b.key(openMessageID)
	var entries *redis.StringSliceCmd
	_, err := b.client.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		entries = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain buffered signatures of %s: %w", openMessageID, err)
	}

	raw := entries.Val()
	out := make([]entities.SingleSignature, 0, len(raw))
	for _, entry := range raw {
		var sig entities.SingleSignature
		if err := json.Unmarshal([]byte(entry), &sig); err != nil {
			b.client.logger.Warn("Dropping undecodable buffered signature",
				zap.String("open_message_id", openMessageID),
				zap.Error(err))
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// Len reports how many signatures wait for openMessageID.
func (b *SignatureBuffer) Len(ctx context.Context, openMessageID string) (int64, error) {
	return b.client.client.LLen(ctx, b.key(openMessageID)).Result()
}
