// Package buffer stores single signatures until the next aggregation attempt drains them.
package buffer

import (
	"context"
	"errors"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/puzpuzpuz/xsync/v4"
)

var ErrMissingOpenMessageID = errors.New("buffered signature has no open message id")

// SignatureBuffer is a store-and-forward queue keyed by open message id.
// Drain is atomic with respect to concurrent Buffer calls: a signature is
// returned by exactly one Drain.
type SignatureBuffer interface {
	Buffer(ctx context.Context, sig entities.SingleSignature) error
	Drain(ctx context.Context, openMessageID string) ([]entities.SingleSignature, error)
}

// MemoryBuffer is the process-local SignatureBuffer.
type MemoryBuffer struct {
	entries *xsync.Map[string, []entities.SingleSignature]
}

var _ SignatureBuffer = (*MemoryBuffer)(nil)

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{entries: xsync.NewMap[string, []entities.SingleSignature]()}
}

func (b *MemoryBuffer) Buffer(_ context.Context, sig entities.SingleSignature) error {
	if sig.OpenMessageID == "" {
		return ErrMissingOpenMessageID
	}
	sig.LotteryIndexes = append([]uint64(nil), sig.LotteryIndexes...)
	b.entries.Compute(sig.OpenMessageID, func(old []entities.SingleSignature, _ bool) ([]entities.SingleSignature, xsync.ComputeOp) {
		return append(old, sig), xsync.UpdateOp
	})
	return nil
}

func (b *MemoryBuffer) Drain(_ context.Context, openMessageID string) ([]entities.SingleSignature, error) {
	sigs, _ := b.entries.LoadAndDelete(openMessageID)
	return sigs, nil
}

// Len reports how many signatures wait for openMessageID.
func (b *MemoryBuffer) Len(openMessageID string) int {
	sigs, _ := b.entries.Load(openMessageID)
	return len(sigs)
}
