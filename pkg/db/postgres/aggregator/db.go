// Package aggregator is the PostgreSQL implementation of the aggregator stores.
package aggregator

import (
	"context"
	"fmt"
	"time"

	storage "github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB persists the certification state of one aggregator.
type DB struct {
	postgres.Client
	Name string

	now func() time.Time
}

var _ storage.Store = (*DB)(nil)

// NewWithPoolConfig connects to the named database and creates the schema when missing.
func NewWithPoolConfig(ctx context.Context, logger *zap.Logger, name string, poolConfig postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", poolConfig.Component),
	), name, &poolConfig)
	if err != nil {
		return nil, err
	}

	aggregatorDB := &DB{
		Client: client,
		Name:   name,
		now:    time.Now,
	}

	if err := aggregatorDB.InitializeDB(ctx); err != nil {
		aggregatorDB.Pool.Close()
		return nil, err
	}

	return aggregatorDB, nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// DatabaseName returns the name of the aggregator database
func (db *DB) DatabaseName() string {
	return db.Name
}

// InitializeDB ensures the required tables exist
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing aggregator database", zap.String("database", db.Name))

	steps := []struct {
		table string
		init  func(context.Context) error
	}{
		{"epoch_setting", db.initEpochSettings},
		{"stake_pool", db.initStakePools},
		{"signer", db.initSigners},
		{"signer_registration", db.initSignerRegistrations},
		{"open_message", db.initOpenMessages},
		{"single_signature", db.initSingleSignatures},
		{"certificate", db.initCertificates},
	}
	for _, step := range steps {
		db.Logger.Info("Initialize table", zap.String("database", db.Name), zap.String("table", step.table))
		if err := step.init(ctx); err != nil {
			return fmt.Errorf("initialize %s table: %w", step.table, err)
		}
	}
	return nil
}

// Vacuum reclaims space left by pruned rows and refreshes planner statistics.
func (db *DB) Vacuum(ctx context.Context) error {
	start := time.Now()
	if err := db.Exec(ctx, "VACUUM ANALYZE"); err != nil {
		return fmt.Errorf("vacuum %s: %w", db.Name, err)
	}
	db.Logger.Info("Vacuumed aggregator database",
		zap.String("database", db.Name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Microsecond)
}
