package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/utils"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	BufferBackendRedis  = "redis"
	BufferBackendMemory = "memory"
	BufferBackendNone   = "none"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is everything the aggregator reads from the environment.
type Config struct {
	Addr          string
	StoreBackend  string
	DatabaseName  string
	BufferBackend string
	Network       string
	RPCEndpoints  []string

	// RedisEnabled publishes certificate events even when signatures are not buffered in Redis.
	RedisEnabled bool

	// SignatureBufferTTL bounds how long buffered signatures survive in Redis.
	SignatureBufferTTL time.Duration

	ProtocolParameters       entities.ProtocolParameters
	ProtocolVersion          string
	SignedEntityTypes        []entities.SignedEntityTypeDiscriminant
	GenesisVerificationKey   string
	VerificationKeyRetention *uint64
	OpenMessageRetention     uint64

	RunCronSpec            string
	UpkeepCronSpec         string
	AggregationParallelism int
}

// LoadConfig reads the environment. Unset or malformed values fall back to defaults;
// call Validate before use.
func LoadConfig() (Config, error) {
	cfg := Config{
		Addr:          utils.Env("ADDR", ":8080"),
		StoreBackend:  strings.ToLower(utils.Env("STORE_BACKEND", StoreBackendPostgres)),
		DatabaseName:  utils.Env("CERTIFIER_DB", "certifier"),
		BufferBackend: strings.ToLower(utils.Env("BUFFER_BACKEND", BufferBackendNone)),
		Network:       utils.Env("NETWORK", "devnet"),
		RPCEndpoints:  utils.EnvList("CHAIN_RPC_URLS", []string{"http://localhost:50002"}),
		RedisEnabled:  utils.EnvBool("REDIS_ENABLED", false),

		SignatureBufferTTL: utils.EnvDuration("SIGNATURE_BUFFER_TTL", 24*time.Hour),
		ProtocolParameters: entities.ProtocolParameters{
			K:    utils.EnvUint64("PROTOCOL_K", 5),
			M:    utils.EnvUint64("PROTOCOL_M", 100),
			PhiF: utils.EnvFloat("PROTOCOL_PHI_F", 0.65),
		},
		ProtocolVersion:        utils.Env("PROTOCOL_VERSION", "0.1.0"),
		GenesisVerificationKey: utils.Env("GENESIS_VERIFICATION_KEY", ""),
		OpenMessageRetention:   utils.EnvUint64("OPEN_MESSAGE_RETENTION_LIMIT", 0),
		RunCronSpec:            utils.Env("RUN_CRON_SPEC", "*/5 * * * * *"),
		UpkeepCronSpec:         utils.Env("UPKEEP_CRON_SPEC", "0 0 */6 * * *"),
		AggregationParallelism: utils.EnvInt("AGGREGATION_PARALLELISM", 4),
	}

	if limit := utils.EnvUint64("VERIFICATION_KEY_RETENTION_LIMIT", 0); limit > 0 {
		cfg.VerificationKeyRetention = &limit
	}

	for _, name := range utils.EnvList("SIGNED_ENTITY_TYPES", nil) {
		d, err := entities.ParseSignedEntityTypeDiscriminant(name)
		if err != nil {
			return cfg, fmt.Errorf("%w: SIGNED_ENTITY_TYPES: %w", ErrInvalidConfig, err)
		}
		cfg.SignedEntityTypes = append(cfg.SignedEntityTypes, d)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.ProtocolParameters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.StoreBackend)
	}
	switch c.BufferBackend {
	case BufferBackendRedis, BufferBackendMemory, BufferBackendNone:
	default:
		return fmt.Errorf("%w: unknown BUFFER_BACKEND %q", ErrInvalidConfig, c.BufferBackend)
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("%w: CHAIN_RPC_URLS is required", ErrInvalidConfig)
	}
	if c.GenesisVerificationKey == "" {
		return fmt.Errorf("%w: GENESIS_VERIFICATION_KEY is required", ErrInvalidConfig)
	}
	if _, err := genesis.NewVerifierFromHex(c.GenesisVerificationKey); err != nil {
		return fmt.Errorf("%w: GENESIS_VERIFICATION_KEY: %w", ErrInvalidConfig, err)
	}
	if c.AggregationParallelism < 1 {
		return fmt.Errorf("%w: AGGREGATION_PARALLELISM must be positive", ErrInvalidConfig)
	}
	return nil
}

// UsesRedis reports whether a Redis connection is needed.
func (c Config) UsesRedis() bool {
	return c.RedisEnabled || c.BufferBackend == BufferBackendRedis
}
