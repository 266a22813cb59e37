// Package runner drives the aggregator: epoch transitions, open messages and aggregation attempts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/certifier/pkg/certifier"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/canopy-network/certifier/pkg/lock"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/canopy-network/certifier/pkg/observer"
	"github.com/canopy-network/certifier/pkg/retry"
	"go.uber.org/zap"
)

// Chain is the observer the runner polls each cycle.
type Chain interface {
	observer.ChainObserver
	observer.TimePointProvider
}

type Epochs interface {
	SignableEpochs
	InformEpoch(ctx context.Context, epoch entities.Epoch) error
	ReconcileProtocolParameters(ctx context.Context, epoch entities.Epoch) ([]epoch.Discrepancy, error)
	AllowedSignedEntityTypes() ([]entities.SignedEntityTypeDiscriminant, error)
}

type Certifier interface {
	GetOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error)
	CreateOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType, protocolMessage entities.ProtocolMessage) (*entities.OpenMessage, error)
	TryAggregate(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error)
	Prune(ctx context.Context, epoch entities.Epoch) (int, error)
}

type Registerer interface {
	OpenRound(ctx context.Context, epoch entities.Epoch, sd entities.StakeDistribution) error
	CloseRound(ctx context.Context) error
}

type Config struct {
	// OpenMessageRetention keeps open messages of that many past epochs. Zero keeps everything.
	OpenMessageRetention uint64
	// Parallelism bounds concurrent aggregation attempts.
	Parallelism int
	Retry       retry.Config
}

// Report summarises one cycle.
type Report struct {
	Epoch   entities.Epoch
	Skipped bool
	Opened  int
	Sealed  int
	Waiting int
	Failed  int
}

type counters struct {
	opened, sealed, waiting, failed atomic.Int32
}

type Runner struct {
	chain      Chain
	epochs     Epochs
	certifier  Certifier
	registerer Registerer
	stakes     db.StakeStore
	signables  *SignableBuilder
	artifacts  ArtifactBuilder
	lock       *lock.SignedEntityTypeLock
	cfg        Config
	pool       pond.Pool
	logger     *zap.Logger

	// running serialises cycles; current is only touched while it is held.
	running sync.Mutex
	current *entities.Epoch
}

func New(
	chain Chain,
	epochs Epochs,
	cert Certifier,
	registerer Registerer,
	stakes db.StakeStore,
	signables *SignableBuilder,
	artifacts ArtifactBuilder,
	entityLock *lock.SignedEntityTypeLock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 4
	}
	if entityLock == nil {
		entityLock = lock.New()
	}
	return &Runner{
		chain:      chain,
		epochs:     epochs,
		certifier:  cert,
		registerer: registerer,
		stakes:     stakes,
		signables:  signables,
		artifacts:  artifacts,
		lock:       entityLock,
		cfg:        cfg,
		pool:       pond.NewPool(cfg.Parallelism),
		logger:     logging.Component(logger, "runner"),
	}
}

// Close waits for running aggregation attempts and stops the worker pool.
func (r *Runner) Close() {
	r.pool.StopAndWait()
}

// CurrentEpoch returns the last epoch the runner transitioned to.
func (r *Runner) CurrentEpoch() (entities.Epoch, bool) {
	r.running.Lock()
	defer r.running.Unlock()
	if r.current == nil {
		return 0, false
	}
	return *r.current, true
}

// TransitionEpoch moves every service to epoch: parameters, stake snapshot,
// registration round for the recording epoch and open message retention.
func (r *Runner) TransitionEpoch(ctx context.Context, e entities.Epoch) error {
	if _, err := r.epochs.ReconcileProtocolParameters(ctx, e); err != nil {
		return fmt.Errorf("reconcile protocol parameters: %w", err)
	}
	if err := r.epochs.InformEpoch(ctx, e); err != nil {
		return fmt.Errorf("inform epoch service: %w", err)
	}

	sd, err := r.chain.CurrentStakeDistribution(ctx, e)
	if err != nil {
		return fmt.Errorf("stake distribution of epoch %d: %w", e, err)
	}
	if err := r.stakes.SaveStakes(ctx, e, sd); err != nil {
		return fmt.Errorf("save stakes of epoch %d: %w", e, err)
	}

	if err := r.registerer.CloseRound(ctx); err != nil {
		return fmt.Errorf("close registration round: %w", err)
	}
	if err := r.registerer.OpenRound(ctx, e.OffsetToRecordingEpoch(), sd); err != nil {
		return fmt.Errorf("open registration round: %w", err)
	}

	if r.cfg.OpenMessageRetention > 0 {
		if _, err := r.certifier.Prune(ctx, e.SaturatingSub(r.cfg.OpenMessageRetention)); err != nil {
			return err
		}
	}

	r.logger.Info("Epoch transition done",
		zap.Uint64("epoch", uint64(e)),
		zap.Int("parties", len(sd)),
	)
	return nil
}

// Cycle runs one pass. A cycle that finds another one running is skipped.
func (r *Runner) Cycle(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		r.logger.Debug("Previous cycle still running, skipping")
		return Report{Skipped: true}, nil
	}
	defer r.running.Unlock()

	start := time.Now()
	tp, err := r.chain.CurrentTimePoint(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("current time point: %w", err)
	}
	report := Report{Epoch: tp.Epoch}

	if r.current == nil || *r.current != tp.Epoch {
		err := retry.WithBackoff(ctx, r.cfg.Retry, r.logger, "epoch_transition", func() error {
			return r.TransitionEpoch(ctx, tp.Epoch)
		})
		if err != nil {
			return report, err
		}
		e := tp.Epoch
		r.current = &e
	}

	allowed, err := r.epochs.AllowedSignedEntityTypes()
	if err != nil {
		return report, err
	}

	var c counters
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, d := range r.lock.FilterUnlocked(allowed) {
		if !r.signables.Supports(d) {
			continue
		}
		signedEntityType, err := SignedEntityType(d, tp)
		if err != nil {
			return report, err
		}
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			r.certify(groupCtx, signedEntityType, &c)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Aggregation group failed", zap.Error(err))
	}

	report.Opened = int(c.opened.Load())
	report.Sealed = int(c.sealed.Load())
	report.Waiting = int(c.waiting.Load())
	report.Failed = int(c.failed.Load())
	r.logger.Debug("Cycle done",
		zap.Uint64("epoch", uint64(report.Epoch)),
		zap.Int("opened", report.Opened),
		zap.Int("sealed", report.Sealed),
		zap.Int("waiting", report.Waiting),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (r *Runner) certify(ctx context.Context, signedEntityType entities.SignedEntityType, c *counters) {
	logger := r.logger.With(zap.String("signed_entity_type", signedEntityType.String()))

	msg, err := r.certifier.GetOpenMessage(ctx, signedEntityType)
	if err != nil {
		logger.Warn("Failed to read open message", zap.Error(err))
		c.failed.Add(1)
		return
	}
	if msg != nil && msg.IsCertified {
		return
	}
	if msg == nil {
		pm, err := r.signables.ProtocolMessage(ctx, signedEntityType)
		if err != nil {
			logger.Warn("Failed to build protocol message", zap.Error(err))
			c.failed.Add(1)
			return
		}
		if _, err := r.certifier.CreateOpenMessage(ctx, signedEntityType, pm); err != nil {
			if errors.Is(err, certifier.ErrAlreadyCertified) {
				return
			}
			logger.Warn("Failed to create open message", zap.Error(err))
			c.failed.Add(1)
			return
		}
		c.opened.Add(1)
	}

	cert, err := r.certifier.TryAggregate(ctx, signedEntityType)
	switch {
	case certifier.IsWaiting(err):
		logger.Debug("Not certified yet", zap.Error(err))
		c.waiting.Add(1)
		return
	case err != nil:
		logger.Warn("Aggregation failed", zap.Error(err))
		c.failed.Add(1)
		return
	}
	c.sealed.Add(1)
	r.buildArtifact(ctx, cert)
}

func (r *Runner) buildArtifact(ctx context.Context, cert *entities.Certificate) {
	d := cert.SignedEntityType.Discriminant
	if !r.lock.Lock(d) {
		r.logger.Warn("Artifact build already running", zap.String("signed_entity_type", d.String()))
		return
	}
	defer r.lock.Release(d)

	if err := r.artifacts.Build(ctx, cert); err != nil {
		r.logger.Error("Failed to build artifact",
			zap.String("certificate_id", cert.ID),
			zap.Error(err),
		)
	}
}
