package types

import (
	"testing"
	"time"

	"github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genesisKey(t *testing.T) string {
	t.Helper()
	signer, err := genesis.GenerateKeypair()
	require.NoError(t, err)
	return signer.VerificationKey()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("PROTOCOL_K", "20")
	t.Setenv("PROTOCOL_M", "40")
	t.Setenv("PROTOCOL_PHI_F", "0.5")
	t.Setenv("SIGNED_ENTITY_TYPES", "CardanoStakeDistribution, cardanotransactions")
	t.Setenv("VERIFICATION_KEY_RETENTION_LIMIT", "3")
	t.Setenv("GENESIS_VERIFICATION_KEY", genesisKey(t))
	t.Setenv("SIGNATURE_BUFFER_TTL", "90m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, entities.ProtocolParameters{K: 20, M: 40, PhiF: 0.5}, cfg.ProtocolParameters)
	assert.Equal(t, []entities.SignedEntityTypeDiscriminant{entities.CardanoStakeDistribution, entities.CardanoTransactions}, cfg.SignedEntityTypes)
	require.NotNil(t, cfg.VerificationKeyRetention)
	assert.Equal(t, uint64(3), *cfg.VerificationKeyRetention)
	assert.Zero(t, cfg.OpenMessageRetention)
	assert.Equal(t, 90*time.Minute, cfg.SignatureBufferTTL)
}

func TestLoadConfigRejectsUnknownEntityType(t *testing.T) {
	t.Setenv("SIGNED_ENTITY_TYPES", "MithrilStakeDistribution,Snapshots")
	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, entities.ErrUnknownSignedEntityType)
}

func TestConfigValidate(t *testing.T) {
	key := genesisKey(t)
	valid := func() Config {
		return Config{
			StoreBackend:           StoreBackendMemory,
			BufferBackend:          BufferBackendNone,
			RPCEndpoints:           []string{"http://node:50002"},
			ProtocolParameters:     entities.ProtocolParameters{K: 5, M: 100, PhiF: 0.65},
			GenesisVerificationKey: key,
			AggregationParallelism: 2,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"k above m", func(c *Config) { c.ProtocolParameters.K = 101 }},
		{"phi_f zero", func(c *Config) { c.ProtocolParameters.PhiF = 0 }},
		{"unknown store", func(c *Config) { c.StoreBackend = "sqlite" }},
		{"unknown buffer", func(c *Config) { c.BufferBackend = "kafka" }},
		{"no rpc endpoints", func(c *Config) { c.RPCEndpoints = nil }},
		{"missing genesis key", func(c *Config) { c.GenesisVerificationKey = "" }},
		{"malformed genesis key", func(c *Config) { c.GenesisVerificationKey = "zz" }},
		{"no parallelism", func(c *Config) { c.AggregationParallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
