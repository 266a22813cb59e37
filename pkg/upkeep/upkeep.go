// Package upkeep runs store maintenance when no artifact is being built.
package upkeep

import (
	"context"
	"time"

	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"go.uber.org/zap"
)

// LockReader reports the signed entity types currently being built.
type LockReader interface {
	HasLockedEntities() bool
	LockedEntities() []entities.SignedEntityTypeDiscriminant
}

// Result summarizes one upkeep pass.
type Result struct {
	Skipped  bool
	Locked   []entities.SignedEntityTypeDiscriminant
	Duration time.Duration
}

type Service struct {
	maintainer db.Maintainer
	locks      LockReader
	logger     *zap.Logger
}

func NewService(maintainer db.Maintainer, locks LockReader, logger *zap.Logger) *Service {
	return &Service{
		maintainer: maintainer,
		locks:      locks,
		logger:     logging.Component(logger, "upkeep"),
	}
}

// Run vacuums the store unless an artifact is being built, in which case the pass is skipped.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if s.locks.HasLockedEntities() {
		locked := s.locks.LockedEntities()
		names := make([]string, 0, len(locked))
		for _, d := range locked {
			names = append(names, d.String())
		}
		s.logger.Info("Skipping upkeep, signed entity types are locked", zap.Strings("locked", names))
		return Result{Skipped: true, Locked: locked}, nil
	}

	start := time.Now()
	s.logger.Info("Starting store upkeep")
	if err := s.maintainer.Vacuum(ctx); err != nil {
		s.logger.Error("Store upkeep failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return Result{Duration: time.Since(start)}, err
	}
	duration := time.Since(start)
	s.logger.Info("Store upkeep completed", zap.Duration("duration", duration))
	return Result{Duration: duration}, nil
}
