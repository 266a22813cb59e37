// Package epoch tracks the current epoch and what is signable in it.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized           = errors.New("epoch service not initialized, call InformEpoch first")
	ErrMissingEpochSettings     = errors.New("missing epoch settings")
	ErrMissingStakeDistribution = errors.New("missing stake distribution")
)

// Config holds the values the operator declares for every new epoch.
type Config struct {
	ProtocolParameters       entities.ProtocolParameters
	AllowedSignedEntityTypes []entities.SignedEntityTypeDiscriminant
}

// Store is the persistence the service reads through.
type Store interface {
	db.EpochSettingsStore
	db.VerificationKeyStore
	db.StakeStore
}

type epochData struct {
	epoch    entities.Epoch
	current  entities.ProtocolParameters
	next     entities.ProtocolParameters
	upcoming entities.ProtocolParameters
	allowed  []entities.SignedEntityTypeDiscriminant
}

// Discrepancy is one protocol parameter whose persisted value differs from configuration.
type Discrepancy struct {
	Field      string
	Persisted  string
	Configured string
}

type Service struct {
	mu      sync.RWMutex
	data    *epochData
	cfg     Config
	store   Store
	deriver multisig.KeyDeriver
	logger  *zap.Logger
}

func NewService(cfg Config, store Store, deriver multisig.KeyDeriver, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		deriver: deriver,
		logger:  logging.Component(logger, "epoch_service"),
	}
}

// InformEpoch makes epoch the current one. Settings missing for the signer
// retrieval, next signer retrieval and recording epochs are filled from configuration.
func (s *Service) InformEpoch(ctx context.Context, epoch entities.Epoch) error {
	retrieval, err := epoch.OffsetToSignerRetrievalEpoch()
	if err != nil {
		retrieval = epoch
	}
	next := epoch.OffsetToNextSignerRetrievalEpoch()
	recording := epoch.OffsetToRecordingEpoch()

	params := make(map[entities.Epoch]entities.ProtocolParameters, 3)
	for _, e := range []entities.Epoch{retrieval, next, recording} {
		p, err := s.ensureEpochSettings(ctx, e)
		if err != nil {
			return err
		}
		params[e] = p
	}

	data := &epochData{
		epoch:    epoch,
		current:  params[retrieval],
		next:     params[next],
		upcoming: params[recording],
		allowed:  allowedTypes(s.cfg.AllowedSignedEntityTypes),
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	s.logger.Info("Epoch service informed of new epoch",
		zap.Uint64("epoch", uint64(epoch)),
		zap.Uint64("k", data.current.K),
		zap.Uint64("m", data.current.M),
		zap.Float64("phi_f", data.current.PhiF),
	)
	return nil
}

func (s *Service) ensureEpochSettings(ctx context.Context, epoch entities.Epoch) (entities.ProtocolParameters, error) {
	stored, err := s.store.GetEpochSettings(ctx, epoch)
	if err != nil {
		return entities.ProtocolParameters{}, fmt.Errorf("get epoch settings for epoch %d: %w", epoch, err)
	}
	if stored != nil {
		return *stored, nil
	}
	if err := s.store.SaveEpochSettings(ctx, epoch, s.cfg.ProtocolParameters); err != nil {
		return entities.ProtocolParameters{}, fmt.Errorf("save epoch settings for epoch %d: %w", epoch, err)
	}
	s.logger.Debug("Inserted epoch settings from configuration", zap.Uint64("epoch", uint64(epoch)))
	return s.cfg.ProtocolParameters, nil
}

// allowedTypes always contains MithrilStakeDistribution, sorted and without duplicates.
func allowedTypes(configured []entities.SignedEntityTypeDiscriminant) []entities.SignedEntityTypeDiscriminant {
	seen := map[entities.SignedEntityTypeDiscriminant]struct{}{entities.MithrilStakeDistribution: {}}
	out := []entities.SignedEntityTypeDiscriminant{entities.MithrilStakeDistribution}
	for _, d := range configured {
		if _, ok := seen[d]; ok || !d.Valid() {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) snapshot() (*epochData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrNotInitialized
	}
	return s.data, nil
}

func (s *Service) Epoch() (entities.Epoch, error) {
	d, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	return d.epoch, nil
}

// CurrentProtocolParameters are the parameters signers use for messages of the current epoch.
func (s *Service) CurrentProtocolParameters() (entities.ProtocolParameters, error) {
	d, err := s.snapshot()
	if err != nil {
		return entities.ProtocolParameters{}, err
	}
	return d.current, nil
}

// NextProtocolParameters are the parameters of the next epoch, committed in stake distribution messages.
func (s *Service) NextProtocolParameters() (entities.ProtocolParameters, error) {
	d, err := s.snapshot()
	if err != nil {
		return entities.ProtocolParameters{}, err
	}
	return d.next, nil
}

// UpcomingProtocolParameters are recorded for the epoch the open registration round feeds.
func (s *Service) UpcomingProtocolParameters() (entities.ProtocolParameters, error) {
	d, err := s.snapshot()
	if err != nil {
		return entities.ProtocolParameters{}, err
	}
	return d.upcoming, nil
}

func (s *Service) AllowedSignedEntityTypes() ([]entities.SignedEntityTypeDiscriminant, error) {
	d, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return append([]entities.SignedEntityTypeDiscriminant(nil), d.allowed...), nil
}

func (s *Service) IsAllowed(discriminant entities.SignedEntityTypeDiscriminant) bool {
	d, err := s.snapshot()
	if err != nil {
		return false
	}
	for _, a := range d.allowed {
		if a == discriminant {
			return true
		}
	}
	return false
}

// ProtocolParameters returns the parameters that apply to messages of epoch.
func (s *Service) ProtocolParameters(ctx context.Context, epoch entities.Epoch) (entities.ProtocolParameters, error) {
	at, err := epoch.OffsetToSignerRetrievalEpoch()
	if err != nil {
		at = epoch
	}
	stored, err := s.store.GetEpochSettings(ctx, at)
	if err != nil {
		return entities.ProtocolParameters{}, fmt.Errorf("get epoch settings for epoch %d: %w", at, err)
	}
	if stored == nil {
		return entities.ProtocolParameters{}, fmt.Errorf("%w: epoch %d", ErrMissingEpochSettings, at)
	}
	return *stored, nil
}

// Signers returns the signers allowed to sign messages of epoch.
func (s *Service) Signers(ctx context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error) {
	at, err := epoch.OffsetToSignerRetrievalEpoch()
	if err != nil {
		return nil, err
	}
	return s.store.GetSigners(ctx, at)
}

// NextSigners returns the signers that will sign messages of the epoch after epoch.
func (s *Service) NextSigners(ctx context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error) {
	return s.store.GetSigners(ctx, epoch.OffsetToNextSignerRetrievalEpoch())
}

func (s *Service) StakeDistribution(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error) {
	sd, err := s.store.GetStakes(ctx, epoch)
	if err != nil {
		return nil, err
	}
	if sd == nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrMissingStakeDistribution, epoch)
	}
	return sd, nil
}

func (s *Service) AggregateVerificationKey(ctx context.Context, epoch entities.Epoch) (string, error) {
	signers, err := s.Signers(ctx, epoch)
	if err != nil {
		return "", err
	}
	return s.deriver.DeriveAggregateVerificationKey(signers)
}

func (s *Service) NextAggregateVerificationKey(ctx context.Context, epoch entities.Epoch) (string, error) {
	signers, err := s.NextSigners(ctx, epoch)
	if err != nil {
		return "", err
	}
	return s.deriver.DeriveAggregateVerificationKey(signers)
}

// ReconcileProtocolParameters overwrites the settings recorded for the recording
// epoch of epoch with the configured ones and reports what changed.
func (s *Service) ReconcileProtocolParameters(ctx context.Context, epoch entities.Epoch) ([]Discrepancy, error) {
	recording := epoch.OffsetToRecordingEpoch()
	stored, err := s.store.GetEpochSettings(ctx, recording)
	if err != nil {
		return nil, fmt.Errorf("get epoch settings for epoch %d: %w", recording, err)
	}

	configured := s.cfg.ProtocolParameters
	var discrepancies []Discrepancy
	if stored != nil {
		discrepancies = diff(*stored, configured)
		if len(discrepancies) == 0 {
			return nil, nil
		}
	}
	for _, d := range discrepancies {
		s.logger.Warn("Protocol parameter discrepancy, configuration wins",
			zap.Uint64("epoch", uint64(recording)),
			zap.String("field", d.Field),
			zap.String("persisted", d.Persisted),
			zap.String("configured", d.Configured),
		)
	}
	if err := s.store.SaveEpochSettings(ctx, recording, configured); err != nil {
		return nil, fmt.Errorf("save epoch settings for epoch %d: %w", recording, err)
	}
	return discrepancies, nil
}

func diff(persisted, configured entities.ProtocolParameters) []Discrepancy {
	var out []Discrepancy
	if persisted.K != configured.K {
		out = append(out, Discrepancy{"k", strconv.FormatUint(persisted.K, 10), strconv.FormatUint(configured.K, 10)})
	}
	if persisted.M != configured.M {
		out = append(out, Discrepancy{"m", strconv.FormatUint(persisted.M, 10), strconv.FormatUint(configured.M, 10)})
	}
	if persisted.PhiF != configured.PhiF {
		out = append(out, Discrepancy{
			"phi_f",
			strconv.FormatFloat(persisted.PhiF, 'f', -1, 64),
			strconv.FormatFloat(configured.PhiF, 'f', -1, 64),
		})
	}
	return out
}
