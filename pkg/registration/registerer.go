// Package registration manages the signer registration round.
package registration

import (
	"context"
	"fmt"
	"sync"

	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/canopy-network/certifier/pkg/observer"
	"go.uber.org/zap"
)

// Round is the registration window for one recording epoch.
type Round struct {
	Epoch             entities.Epoch
	StakeDistribution entities.StakeDistribution
}

// RoundState owns the current round. Registrations read it, open and close replace it.
type RoundState struct {
	mu    sync.RWMutex
	round *Round
}

func NewRoundState() *RoundState {
	return &RoundState{}
}

// Snapshot returns a copy of the current round, or nil.
func (s *RoundState) Snapshot() *Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.round == nil {
		return nil
	}
	return &Round{Epoch: s.round.Epoch, StakeDistribution: s.round.StakeDistribution.Clone()}
}

// Registerer validates and records signer registrations against the open round.
type Registerer struct {
	state     *RoundState
	observer  observer.ChainObserver
	keys      db.VerificationKeyStore
	recorder  db.SignerRecorder
	registrar multisig.KeyRegistrar
	// retentionLimit, when set, bounds how many past epochs of keys are kept.
	retentionLimit *uint64
	logger         *zap.Logger
}

type Config struct {
	RetentionLimit *uint64
}

func NewRegisterer(
	state *RoundState,
	chainObserver observer.ChainObserver,
	keys db.VerificationKeyStore,
	recorder db.SignerRecorder,
	registrar multisig.KeyRegistrar,
	cfg Config,
	logger *zap.Logger,
) *Registerer {
	if state == nil {
		state = NewRoundState()
	}
	return &Registerer{
		state:          state,
		observer:       chainObserver,
		keys:           keys,
		recorder:       recorder,
		registrar:      registrar,
		retentionLimit: cfg.RetentionLimit,
		logger:         logging.Component(logger, "signer_registerer"),
	}
}

// CurrentRound returns a copy of the open round, or nil.
func (r *Registerer) CurrentRound() *Round {
	return r.state.Snapshot()
}

// OpenRound replaces the current round and prunes keys older than the retention window.
func (r *Registerer) OpenRound(ctx context.Context, epoch entities.Epoch, sd entities.StakeDistribution) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	r.logger.Info("Opening signer registration round",
		zap.Uint64("epoch", uint64(epoch)),
		zap.Int("parties", len(sd)),
	)
	r.state.round = &Round{Epoch: epoch, StakeDistribution: sd.Clone()}

	if r.retentionLimit != nil {
		bound := epoch.SaturatingSub(*r.retentionLimit)
		if err := r.keys.PruneVerificationKeys(ctx, bound); err != nil {
			return fmt.Errorf("%w: prune verification keys below epoch %d: %v", ErrStore, bound, err)
		}
		r.logger.Debug("Pruned verification keys", zap.Uint64("below_epoch", uint64(bound)))
	}
	return nil
}

func (r *Registerer) CloseRound(_ context.Context) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.state.round != nil {
		r.logger.Info("Closing signer registration round", zap.Uint64("epoch", uint64(r.state.round.Epoch)))
	}
	r.state.round = nil
	return nil
}

// RegisterSigner records a signer for epoch. The read lock is held for the
// whole registration so a concurrent OpenRound waits for it.
func (r *Registerer) RegisterSigner(ctx context.Context, epoch entities.Epoch, signer entities.Signer) (entities.SignerWithStake, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	round := r.state.round
	if round == nil {
		return entities.SignerWithStake{}, ErrRoundNotOpened
	}
	if round.Epoch != epoch {
		return entities.SignerWithStake{}, &UnexpectedEpochError{Current: round.Epoch, Received: epoch}
	}

	partyID, err := resolvePartyID(signer)
	if err != nil {
		return entities.SignerWithStake{}, fmt.Errorf("%w: %w", ErrFailedSignerRegistration, err)
	}
	signer.PartyID = partyID

	stake, ok := round.StakeDistribution[partyID]
	if !ok {
		return entities.SignerWithStake{}, fmt.Errorf("%w: %w: %s", ErrFailedSignerRegistration, ErrPartyNotInDistribution, partyID)
	}

	var kesPeriod *entities.KESPeriod
	if signer.OperationalCertificate != nil {
		current, err := r.observer.CurrentKESPeriod(ctx, *signer.OperationalCertificate)
		if err != nil {
			return entities.SignerWithStake{}, fmt.Errorf("%w: %v", ErrChainObserver, err)
		}
		start := signer.OperationalCertificate.StartKESPeriod
		if current < start {
			return entities.SignerWithStake{}, fmt.Errorf("%w: operational certificate starts at kes period %d, chain is at %d",
				ErrFailedSignerRegistration, start, current)
		}
		p := current - start
		kesPeriod = &p
	}

	if err := r.registrar.VerifyRegistration(signer, kesPeriod); err != nil {
		r.logger.Warn("Rejected signer registration",
			zap.String("party_id", partyID),
			zap.Uint64("epoch", uint64(epoch)),
			zap.Error(err),
		)
		return entities.SignerWithStake{}, fmt.Errorf("%w: %w", ErrFailedSignerRegistration, err)
	}
	signer.KESPeriod = kesPeriod

	if err := r.recorder.RecordSignerRegistration(ctx, partyID); err != nil {
		return entities.SignerWithStake{}, fmt.Errorf("%w: %v", ErrFailedSignerRecorder, err)
	}

	registered := entities.SignerWithStake{Signer: signer, Stake: stake}
	previous, err := r.keys.SaveVerificationKey(ctx, epoch, registered)
	if err != nil {
		return entities.SignerWithStake{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if previous != nil {
		r.logger.Debug("Signer already registered",
			zap.String("party_id", partyID),
			zap.Uint64("epoch", uint64(epoch)),
		)
		return registered, &ExistingSignerError{Signer: *previous}
	}

	r.logger.Info("Registered signer",
		zap.String("party_id", partyID),
		zap.Uint64("epoch", uint64(epoch)),
		zap.Uint64("stake", stake),
	)
	return registered, nil
}

func resolvePartyID(signer entities.Signer) (entities.PartyID, error) {
	if signer.OperationalCertificate != nil {
		poolID, err := signer.OperationalCertificate.PoolID()
		if err != nil {
			return "", err
		}
		if signer.PartyID != "" && signer.PartyID != poolID {
			return "", fmt.Errorf("party id %s does not match operational certificate pool %s", signer.PartyID, poolID)
		}
		return poolID, nil
	}
	if signer.PartyID == "" {
		return "", ErrUnresolvedPartyID
	}
	return signer.PartyID, nil
}
