package aggregator

import (
	"context"

	"github.com/canopy-network/certifier/app/aggregator/runner"
	"github.com/canopy-network/certifier/app/aggregator/types"
	"github.com/canopy-network/certifier/pkg/buffer"
	"github.com/canopy-network/certifier/pkg/certifier"
	"github.com/canopy-network/certifier/pkg/chain"
	genesiskey "github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/memory"
	"github.com/canopy-network/certifier/pkg/db/postgres"
	aggregatorstore "github.com/canopy-network/certifier/pkg/db/postgres/aggregator"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/canopy-network/certifier/pkg/lock"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/canopy-network/certifier/pkg/redis"
	"github.com/canopy-network/certifier/pkg/registration"
	"github.com/canopy-network/certifier/pkg/retry"
	"github.com/canopy-network/certifier/pkg/rpc"
	"github.com/canopy-network/certifier/pkg/upkeep"
	"go.uber.org/zap"
)

func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := types.LoadConfig()
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	store, err := NewStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Unable to initialize certifier database", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to redis", zap.Error(err))
		}
	}

	genesisVerifier, err := genesiskey.NewVerifierFromHex(cfg.GenesisVerificationKey)
	if err != nil {
		logger.Fatal("Invalid genesis verification key", zap.Error(err))
	}

	scheme := multisig.NewStakeScheme()
	chainObserver := rpc.NewObserver(rpc.NewHTTPWithOpts(rpc.Opts{Endpoints: cfg.RPCEndpoints}))

	epochs := epoch.NewService(epoch.Config{
		ProtocolParameters:       cfg.ProtocolParameters,
		AllowedSignedEntityTypes: cfg.SignedEntityTypes,
	}, store, scheme, logger)

	var opts []certifier.Option
	switch cfg.BufferBackend {
	case types.BufferBackendRedis:
		opts = append(opts, certifier.WithBuffer(redis.NewSignatureBuffer(redisClient, cfg.SignatureBufferTTL)))
	case types.BufferBackendMemory:
		opts = append(opts, certifier.WithBuffer(buffer.NewMemoryBuffer()))
	}
	if redisClient != nil {
		opts = append(opts, certifier.WithPublisher(redis.NewCertificateEvents(redisClient)))
	}
	cert := certifier.New(store, epochs, scheme, certifier.Config{ProtocolVersion: cfg.ProtocolVersion}, logger, opts...)

	registerer := registration.NewRegisterer(nil, chainObserver, store, store, scheme,
		registration.Config{RetentionLimit: cfg.VerificationKeyRetention}, logger)

	locks := lock.New()
	artifacts := runner.NewSignedEntities()
	run := runner.New(chainObserver, epochs, cert, registerer, store,
		runner.NewSignableBuilder(epochs), artifacts, locks,
		runner.Config{
			OpenMessageRetention: cfg.OpenMessageRetention,
			Parallelism:          cfg.AggregationParallelism,
			Retry:                retry.TransitionConfig(),
		}, logger)

	app := &types.App{
		Config:      cfg,
		Store:       store,
		RedisClient: redisClient,
		Observer:    chainObserver,
		Epochs:      epochs,
		Certifier:   cert,
		Registerer:  registerer,
		Verifier:    chain.NewVerifier(store, scheme, genesisVerifier, logger),
		Locks:       locks,
		Artifacts:   artifacts,
		Runner:      run,
		Upkeep:      upkeep.NewService(store, locks, logger),
		Logger:      logger,
	}

	if err := app.SetupScheduler(ctx, types.CronLogger(logger)); err != nil {
		logger.Fatal("Unable to set up scheduler", zap.Error(err))
	}

	return app
}

// NewStore opens the store selected by STORE_BACKEND.
func NewStore(ctx context.Context, logger *zap.Logger, cfg types.Config) (db.Store, error) {
	switch cfg.StoreBackend {
	case types.StoreBackendMemory:
		logger.Warn("Using in-memory store, certificates are lost on restart")
		return memory.New(), nil
	default:
		store, err := aggregatorstore.NewWithPoolConfig(ctx, logger, cfg.DatabaseName, *postgres.GetPoolConfigForComponent("aggregator"))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
