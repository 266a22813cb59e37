// Package memory is a process-local implementation of the aggregator stores.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/puzpuzpuz/xsync/v4"
)

type openMessageRecord struct {
	msg entities.OpenMessage
	seq uint64
}

type signatureKey struct {
	openMessageID string
	partyID       entities.PartyID
}

type signatureRecord struct {
	sig entities.SingleSignature
	seq uint64
}

type certificateRecord struct {
	cert entities.Certificate
	seq  uint64
}

type verificationKeyKey struct {
	epoch   entities.Epoch
	partyID entities.PartyID
}

type signerRecord struct {
	firstRegisteredAt time.Time
	lastRegisteredAt  time.Time
}

// Store keeps everything in xsync maps. Safe for concurrent use.
type Store struct {
	seq atomic.Uint64
	now func() time.Time

	openMessages      *xsync.Map[string, openMessageRecord]
	signatures        *xsync.Map[signatureKey, signatureRecord]
	certificates      *xsync.Map[string, certificateRecord]
	certificateByType *xsync.Map[string, string]
	verificationKeys  *xsync.Map[verificationKeyKey, entities.SignerWithStake]
	stakes            *xsync.Map[entities.Epoch, entities.StakeDistribution]
	epochSettings     *xsync.Map[entities.Epoch, entities.ProtocolParameters]
	signers           *xsync.Map[entities.PartyID, signerRecord]
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:               time.Now,
		openMessages:      xsync.NewMap[string, openMessageRecord](),
		signatures:        xsync.NewMap[signatureKey, signatureRecord](),
		certificates:      xsync.NewMap[string, certificateRecord](),
		certificateByType: xsync.NewMap[string, string](),
		verificationKeys:  xsync.NewMap[verificationKeyKey, entities.SignerWithStake](),
		stakes:            xsync.NewMap[entities.Epoch, entities.StakeDistribution](),
		epochSettings:     xsync.NewMap[entities.Epoch, entities.ProtocolParameters](),
		signers:           xsync.NewMap[entities.PartyID, signerRecord](),
	}
}

func (s *Store) nextSeq() uint64 {
	return s.seq.Add(1)
}

// Vacuum has nothing to reclaim in memory.
func (s *Store) Vacuum(_ context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) SaveStakes(_ context.Context, epoch entities.Epoch, sd entities.StakeDistribution) error {
	s.stakes.Store(epoch, sd.Clone())
	return nil
}

func (s *Store) GetStakes(_ context.Context, epoch entities.Epoch) (entities.StakeDistribution, error) {
	sd, ok := s.stakes.Load(epoch)
	if !ok {
		return nil, nil
	}
	return sd.Clone(), nil
}

func (s *Store) SaveEpochSettings(_ context.Context, epoch entities.Epoch, params entities.ProtocolParameters) error {
	s.epochSettings.Store(epoch, params)
	return nil
}

func (s *Store) GetEpochSettings(_ context.Context, epoch entities.Epoch) (*entities.ProtocolParameters, error) {
	p, ok := s.epochSettings.Load(epoch)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) RecordSignerRegistration(_ context.Context, partyID entities.PartyID) error {
	now := s.now()
	s.signers.Compute(partyID, func(old signerRecord, loaded bool) (signerRecord, xsync.ComputeOp) {
		if !loaded {
			old.firstRegisteredAt = now
		}
		old.lastRegisteredAt = now
		return old, xsync.UpdateOp
	})
	return nil
}

// RegisteredParties lists every party recorded so far.
func (s *Store) RegisteredParties() []entities.PartyID {
	out := make([]entities.PartyID, 0, s.signers.Size())
	s.signers.Range(func(p entities.PartyID, _ signerRecord) bool {
		out = append(out, p)
		return true
	})
	return out
}
