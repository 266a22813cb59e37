package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

func copyOpenMessage(m entities.OpenMessage) *entities.OpenMessage {
	m.ProtocolMessage = m.ProtocolMessage.Clone()
	return &m
}

func (s *Store) CreateOpenMessage(_ context.Context, epoch entities.Epoch, signedEntityType entities.SignedEntityType, protocolMessage entities.ProtocolMessage) (*entities.OpenMessage, error) {
	msg := entities.OpenMessage{
		ID:               uuid.NewString(),
		Epoch:            epoch,
		SignedEntityType: signedEntityType.Normalize(),
		ProtocolMessage:  protocolMessage.Clone(),
		IsCertified:      false,
		CreatedAt:        s.now().UTC(),
	}
	s.openMessages.Store(msg.ID, openMessageRecord{msg: msg, seq: s.nextSeq()})
	return copyOpenMessage(msg), nil
}

func (s *Store) latestOpenMessage(signedEntityType entities.SignedEntityType) (openMessageRecord, bool) {
	key := signedEntityType.Normalize().Key()
	var (
		best  openMessageRecord
		found bool
	)
	s.openMessages.Range(func(_ string, rec openMessageRecord) bool {
		if rec.msg.Epoch != signedEntityType.Epoch || rec.msg.SignedEntityType.Key() != key {
			return true
		}
		if !found || rec.msg.CreatedAt.After(best.msg.CreatedAt) ||
			(rec.msg.CreatedAt.Equal(best.msg.CreatedAt) && rec.seq > best.seq) {
			best, found = rec, true
		}
		return true
	})
	return best, found
}

func (s *Store) GetOpenMessage(_ context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error) {
	rec, ok := s.latestOpenMessage(signedEntityType)
	if !ok {
		return nil, nil
	}
	return copyOpenMessage(rec.msg), nil
}

func (s *Store) GetOpenMessageWithSignatures(_ context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessageWithSignatures, error) {
	rec, ok := s.latestOpenMessage(signedEntityType)
	if !ok {
		return nil, nil
	}

	var sigs []signatureRecord
	s.signatures.Range(func(k signatureKey, sr signatureRecord) bool {
		if k.openMessageID == rec.msg.ID {
			sigs = append(sigs, sr)
		}
		return true
	})
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].seq < sigs[j].seq })

	out := &entities.OpenMessageWithSignatures{
		OpenMessage:      *copyOpenMessage(rec.msg),
		SingleSignatures: make([]entities.SingleSignature, 0, len(sigs)),
	}
	for _, sr := range sigs {
		out.SingleSignatures = append(out.SingleSignatures, copySignature(sr.sig))
	}
	return out, nil
}

func (s *Store) UpdateOpenMessage(_ context.Context, msg *entities.OpenMessage) error {
	found := false
	s.openMessages.Compute(msg.ID, func(old openMessageRecord, loaded bool) (openMessageRecord, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		found = true
		updated := *copyOpenMessage(*msg)
		updated.SignedEntityType = updated.SignedEntityType.Normalize()
		return openMessageRecord{msg: updated, seq: old.seq}, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("update open message %s: %w", msg.ID, db.ErrNotFound)
	}
	return nil
}

func (s *Store) CleanEpoch(_ context.Context, epoch entities.Epoch) (int, error) {
	removed := map[string]struct{}{}
	s.openMessages.Range(func(id string, rec openMessageRecord) bool {
		if rec.msg.Epoch < epoch {
			s.openMessages.Delete(id)
			removed[id] = struct{}{}
		}
		return true
	})
	if len(removed) > 0 {
		s.signatures.Range(func(k signatureKey, _ signatureRecord) bool {
			if _, ok := removed[k.openMessageID]; ok {
				s.signatures.Delete(k)
			}
			return true
		})
	}
	return len(removed), nil
}

func copySignature(sig entities.SingleSignature) entities.SingleSignature {
	sig.LotteryIndexes = append([]uint64(nil), sig.LotteryIndexes...)
	return sig
}

func (s *Store) SaveSingleSignature(_ context.Context, sig entities.SingleSignature) error {
	if _, ok := s.openMessages.Load(sig.OpenMessageID); !ok {
		return fmt.Errorf("save single signature for open message %s: %w", sig.OpenMessageID, db.ErrNotFound)
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now().UTC()
	}
	s.signatures.Store(signatureKey{openMessageID: sig.OpenMessageID, partyID: sig.PartyID}, signatureRecord{
		sig: copySignature(sig),
		seq: s.nextSeq(),
	})
	return nil
}
