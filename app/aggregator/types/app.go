package types

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/certifier/app/aggregator/runner"
	"github.com/canopy-network/certifier/pkg/certifier"
	"github.com/canopy-network/certifier/pkg/chain"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/canopy-network/certifier/pkg/lock"
	"github.com/canopy-network/certifier/pkg/redis"
	"github.com/canopy-network/certifier/pkg/registration"
	"github.com/canopy-network/certifier/pkg/upkeep"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config Config

	// Store is postgres or in-memory, per STORE_BACKEND.
	Store db.Store

	// Redis Client, nil unless BUFFER_BACKEND=redis
	RedisClient *redis.Client

	Observer   runner.Chain
	Epochs     *epoch.Service
	Certifier  *certifier.Certifier
	Registerer *registration.Registerer
	Verifier   *chain.Verifier
	Locks      *lock.SignedEntityTypeLock
	Artifacts  *runner.SignedEntities
	Runner     *runner.Runner
	Upkeep     *upkeep.Service

	// Cron triggers the runner cycle and the upkeep pass.
	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// SetupScheduler registers the runner cycle and the upkeep pass.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.Config.RunCronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		if _, err := a.Runner.Cycle(rctx); err != nil {
			a.Logger.Error("[aggregator] cycle error", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	_, err = a.Cron.AddFunc(a.Config.UpkeepCronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		if _, err := a.Upkeep.Run(rctx); err != nil {
			a.Logger.Error("[aggregator] upkeep error", zap.Error(err))
		}
	})
	return err
}

func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[aggregator] Cron started",
		zap.String("runCronSpec", a.Config.RunCronSpec),
		zap.String("upkeepCronSpec", a.Config.UpkeepCronSpec))
}

// StopCron waits for running jobs.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start serves the API and runs the scheduler until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.StartCron()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	a.Logger.Info("stopping scheduler")
	a.StopCron()
	a.Runner.Close()

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Logger.Info("closing database connection")
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// CronLogger routes cron's own messages (recovered panics, schedule info) to zap.
func CronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{logger.Sugar()}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
