package aggregator

import (
	"context"
	"fmt"

	"github.com/canopy-network/certifier/pkg/db/postgres"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/jackc/pgx/v5"
)

func (db *DB) initEpochSettings(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS epoch_setting (
			epoch BIGINT PRIMARY KEY,
			k BIGINT NOT NULL,
			m BIGINT NOT NULL,
			phi_f DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	return db.Exec(ctx, query)
}

func (db *DB) initStakePools(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS stake_pool (
			epoch BIGINT NOT NULL,
			party_id TEXT NOT NULL,
			stake BIGINT NOT NULL,
			PRIMARY KEY (epoch, party_id)
		)
	`
	return db.Exec(ctx, query)
}

func (db *DB) SaveEpochSettings(ctx context.Context, epoch entities.Epoch, params entities.ProtocolParameters) error {
	query := `
		INSERT INTO epoch_setting (epoch, k, m, phi_f, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (epoch) DO UPDATE SET
			k = EXCLUDED.k,
			m = EXCLUDED.m,
			phi_f = EXCLUDED.phi_f,
			updated_at = NOW()
	`
	if err := db.Exec(ctx, query, int64(epoch), int64(params.K), int64(params.M), params.PhiF); err != nil {
		return fmt.Errorf("save epoch settings %d: %w", epoch, err)
	}
	return nil
}

func (db *DB) GetEpochSettings(ctx context.Context, epoch entities.Epoch) (*entities.ProtocolParameters, error) {
	var k, m int64
	var phiF float64
	err := db.QueryRow(ctx, `SELECT k, m, phi_f FROM epoch_setting WHERE epoch = $1`, int64(epoch)).Scan(&k, &m, &phiF)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get epoch settings %d: %w", epoch, err)
	}
	return &entities.ProtocolParameters{K: uint64(k), M: uint64(m), PhiF: phiF}, nil
}

// SaveStakes replaces the whole snapshot recorded for epoch.
func (db *DB) SaveStakes(ctx context.Context, epoch entities.Epoch, sd entities.StakeDistribution) error {
	return db.BeginFunc(ctx, func(ctx context.Context) error {
		if err := db.Exec(ctx, `DELETE FROM stake_pool WHERE epoch = $1`, int64(epoch)); err != nil {
			return fmt.Errorf("clear stakes %d: %w", epoch, err)
		}
		if len(sd) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, party := range sd.SortedParties() {
			batch.Queue(`INSERT INTO stake_pool (epoch, party_id, stake) VALUES ($1, $2, $3)`,
				int64(epoch), party, int64(sd[party]))
		}
		if err := db.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save stakes %d: %w", epoch, err)
		}
		return nil
	})
}

func (db *DB) GetStakes(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error) {
	rows, err := db.Query(ctx, `SELECT party_id, stake FROM stake_pool WHERE epoch = $1`, int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("get stakes %d: %w", epoch, err)
	}
	defer rows.Close()

	var sd entities.StakeDistribution
	for rows.Next() {
		var party string
		var stake int64
		if err := rows.Scan(&party, &stake); err != nil {
			return nil, fmt.Errorf("scan stake: %w", err)
		}
		if sd == nil {
			sd = entities.StakeDistribution{}
		}
		sd[party] = uint64(stake)
	}
	return sd, rows.Err()
}
