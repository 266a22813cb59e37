// Package lock tracks signed entity types whose artifacts are being built.
package lock

import (
	"sort"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/puzpuzpuz/xsync/v4"
)

// SignedEntityTypeLock is a set of locked discriminants. Safe for concurrent use.
type SignedEntityTypeLock struct {
	locked *xsync.Map[entities.SignedEntityTypeDiscriminant, struct{}]
}

func New() *SignedEntityTypeLock {
	return &SignedEntityTypeLock{locked: xsync.NewMap[entities.SignedEntityTypeDiscriminant, struct{}]()}
}

// Lock returns false if d was already locked.
func (l *SignedEntityTypeLock) Lock(d entities.SignedEntityTypeDiscriminant) bool {
	_, loaded := l.locked.LoadOrStore(d, struct{}{})
	return !loaded
}

func (l *SignedEntityTypeLock) Release(d entities.SignedEntityTypeDiscriminant) {
	l.locked.Delete(d)
}

func (l *SignedEntityTypeLock) IsLocked(d entities.SignedEntityTypeDiscriminant) bool {
	_, ok := l.locked.Load(d)
	return ok
}

func (l *SignedEntityTypeLock) HasLockedEntities() bool {
	return l.locked.Size() > 0
}

func (l *SignedEntityTypeLock) LockedEntities() []entities.SignedEntityTypeDiscriminant {
	out := make([]entities.SignedEntityTypeDiscriminant, 0, l.locked.Size())
	l.locked.Range(func(d entities.SignedEntityTypeDiscriminant, _ struct{}) bool {
		out = append(out, d)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FilterUnlocked keeps the discriminants that are not locked, preserving order.
func (l *SignedEntityTypeLock) FilterUnlocked(ds []entities.SignedEntityTypeDiscriminant) []entities.SignedEntityTypeDiscriminant {
	out := make([]entities.SignedEntityTypeDiscriminant, 0, len(ds))
	for _, d := range ds {
		if !l.IsLocked(d) {
			out = append(out, d)
		}
	}
	return out
}
