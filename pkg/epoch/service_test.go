package epoch

import (
	"context"
	"testing"

	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db/memory"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var configured = entities.ProtocolParameters{K: 5, M: 100, PhiF: 0.65}

func newService(t *testing.T, allowed ...entities.SignedEntityTypeDiscriminant) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewService(Config{ProtocolParameters: configured, AllowedSignedEntityTypes: allowed}, store, multisig.NewStakeScheme(), zaptest.NewLogger(t))
	return svc, store
}

func TestServiceNotInitialized(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Epoch()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.CurrentProtocolParameters()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.AllowedSignedEntityTypes()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, svc.IsAllowed(entities.MithrilStakeDistribution))
}

func TestInformEpochLoadsParameters(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, entities.CardanoTransactions, entities.CardanoTransactions)

	older := entities.ProtocolParameters{K: 2, M: 10, PhiF: 0.2}
	require.NoError(t, store.SaveEpochSettings(ctx, 9, older))

	require.NoError(t, svc.InformEpoch(ctx, 10))

	epoch, err := svc.Epoch()
	require.NoError(t, err)
	assert.Equal(t, entities.Epoch(10), epoch)

	current, err := svc.CurrentProtocolParameters()
	require.NoError(t, err)
	assert.Equal(t, older, current, "current parameters were recorded at the signer retrieval epoch")

	next, err := svc.NextProtocolParameters()
	require.NoError(t, err)
	assert.Equal(t, configured, next)

	upcoming, err := svc.UpcomingProtocolParameters()
	require.NoError(t, err)
	assert.Equal(t, configured, upcoming)

	for _, e := range []entities.Epoch{10, 11} {
		stored, err := store.GetEpochSettings(ctx, e)
		require.NoError(t, err)
		require.NotNil(t, stored, "settings inserted for epoch %d", e)
	}

	allowed, err := svc.AllowedSignedEntityTypes()
	require.NoError(t, err)
	assert.Equal(t, []entities.SignedEntityTypeDiscriminant{entities.MithrilStakeDistribution, entities.CardanoTransactions}, allowed)
	assert.True(t, svc.IsAllowed(entities.CardanoTransactions))
	assert.False(t, svc.IsAllowed(entities.CardanoDatabase))

	params, err := svc.ProtocolParameters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, older, params)

	_, err = svc.ProtocolParameters(ctx, 40)
	assert.ErrorIs(t, err, ErrMissingEpochSettings)
}

func TestInformEpochZero(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.InformEpoch(context.Background(), 0))

	current, err := svc.CurrentProtocolParameters()
	require.NoError(t, err)
	assert.Equal(t, configured, current)
}

func TestSignersUseRetrievalOffsets(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	a, err := multisig.NewFixtureSigner("party-a", 100)
	require.NoError(t, err)
	b, err := multisig.NewFixtureSigner("party-b", 50)
	require.NoError(t, err)

	_, err = store.SaveVerificationKey(ctx, 4, a.SignerWithStake)
	require.NoError(t, err)
	_, err = store.SaveVerificationKey(ctx, 5, a.SignerWithStake)
	require.NoError(t, err)
	_, err = store.SaveVerificationKey(ctx, 5, b.SignerWithStake)
	require.NoError(t, err)

	signers, err := svc.Signers(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, signers, 1)

	next, err := svc.NextSigners(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, next, 2)

	avk, err := svc.AggregateVerificationKey(ctx, 5)
	require.NoError(t, err)
	nextAvk, err := svc.NextAggregateVerificationKey(ctx, 5)
	require.NoError(t, err)
	assert.NotEqual(t, avk, nextAvk)

	nextAtFive, err := svc.NextAggregateVerificationKey(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, avk, nextAtFive, "next key of epoch 4 is the current key of epoch 5")

	_, err = svc.AggregateVerificationKey(ctx, 9)
	assert.ErrorIs(t, err, multisig.ErrNoSigners)

	_, err = svc.Signers(ctx, 0)
	assert.ErrorIs(t, err, entities.ErrEpochUnderflow)
}

func TestStakeDistribution(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.StakeDistribution(ctx, 3)
	assert.ErrorIs(t, err, ErrMissingStakeDistribution)

	require.NoError(t, store.SaveStakes(ctx, 3, entities.StakeDistribution{"a": 1}))
	sd, err := svc.StakeDistribution(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, entities.StakeDistribution{"a": 1}, sd)
}

func TestReconcileProtocolParameters(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	require.NoError(t, store.SaveEpochSettings(ctx, 8, entities.ProtocolParameters{K: 5, M: 90, PhiF: 0.5}))

	discrepancies, err := svc.ReconcileProtocolParameters(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []Discrepancy{
		{Field: "m", Persisted: "90", Configured: "100"},
		{Field: "phi_f", Persisted: "0.5", Configured: "0.65"},
	}, discrepancies)

	stored, err := store.GetEpochSettings(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, configured, *stored)

	discrepancies, err = svc.ReconcileProtocolParameters(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	// nothing persisted yet: configuration is written without discrepancies
	discrepancies, err = svc.ReconcileProtocolParameters(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
	stored, err = store.GetEpochSettings(ctx, 21)
	require.NoError(t, err)
	require.NotNil(t, stored)
}
