package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/certifier/pkg/certifier"
	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db/memory"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/canopy-network/certifier/pkg/lock"
	"github.com/canopy-network/certifier/pkg/observer"
	"github.com/canopy-network/certifier/pkg/registration"
	"github.com/canopy-network/certifier/pkg/retry"
	"github.com/canopy-network/certifier/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testParams = entities.ProtocolParameters{K: 50, M: 100, PhiF: 0.5}

type harness struct {
	store      *memory.Store
	observer   *observer.FakeObserver
	epochs     *epoch.Service
	certifier  *certifier.Certifier
	registerer *registration.Registerer
	artifacts  *SignedEntities
	lock       *lock.SignedEntityTypeLock
	runner     *Runner
	a, b       multisig.FixtureSigner
}

// newHarness starts at epoch 5 with A and B registered for epochs 5 and 6
// and a genesis certificate at epoch 4.
func newHarness(t *testing.T, allowed ...entities.SignedEntityTypeDiscriminant) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	scheme := multisig.NewStakeScheme()

	h := &harness{
		store:     memory.New(),
		observer:  observer.NewFakeObserver(5),
		artifacts: NewSignedEntities(),
		lock:      lock.New(),
	}
	var err error
	h.a, err = multisig.NewFixtureSigner("party-a", 100)
	require.NoError(t, err)
	h.b, err = multisig.NewFixtureSigner("party-b", 50)
	require.NoError(t, err)

	sd := multisig.FixtureStakeDistribution([]multisig.FixtureSigner{h.a, h.b})
	h.observer.SetStakeDistribution(5, sd)
	for _, e := range []entities.Epoch{4, 5} {
		for _, s := range []multisig.FixtureSigner{h.a, h.b} {
			_, err := h.store.SaveVerificationKey(ctx, e, s.SignerWithStake)
			require.NoError(t, err)
		}
	}

	genesis := &entities.Certificate{
		Message:          "genesis-message",
		Signature:        entities.CertificateSignature{Kind: entities.GenesisSignature, Value: "00"},
		Epoch:            4,
		SignedEntityType: entities.NewMithrilStakeDistribution(4),
		InitiatedAt:      time.Now(),
		SealedAt:         time.Now(),
	}
	genesis.Seal()
	require.NoError(t, h.store.CreateCertificate(ctx, genesis))

	if len(allowed) == 0 {
		allowed = []entities.SignedEntityTypeDiscriminant{entities.MithrilStakeDistribution, entities.CardanoStakeDistribution}
	}
	h.epochs = epoch.NewService(epoch.Config{ProtocolParameters: testParams, AllowedSignedEntityTypes: allowed}, h.store, scheme, logger)
	h.certifier = certifier.New(h.store, h.epochs, scheme, certifier.Config{ProtocolVersion: "0.1.0"}, logger)
	h.registerer = registration.NewRegisterer(nil, h.observer, h.store, h.store, scheme, registration.Config{}, logger)

	h.runner = New(h.observer, h.epochs, h.certifier, h.registerer, h.store,
		NewSignableBuilder(h.epochs), h.artifacts, h.lock,
		Config{Parallelism: 2, Retry: retry.Config{MaxRetries: 1}}, logger)
	t.Cleanup(h.runner.Close)
	return h
}

func (h *harness) sign(t *testing.T, signedEntityType entities.SignedEntityType, s multisig.FixtureSigner) {
	t.Helper()
	ctx := context.Background()
	msg, err := h.certifier.GetOpenMessage(ctx, signedEntityType)
	require.NoError(t, err)
	require.NotNil(t, msg)
	sig, err := s.Key.Sign(msg.ProtocolMessage.Digest(), s.Stake, h.a.Stake+h.b.Stake, testParams)
	require.NoError(t, err)
	_, err = h.certifier.RegisterSingleSignature(ctx, signedEntityType, sig)
	require.NoError(t, err)
}

func TestCycleSealsCertificate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	report, err := h.runner.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.Epoch(5), report.Epoch)
	assert.Equal(t, 2, report.Opened)
	assert.Equal(t, 2, report.Waiting)
	assert.Zero(t, report.Sealed)
	assert.Zero(t, report.Failed)

	msd := entities.NewMithrilStakeDistribution(5)
	msg, err := h.certifier.GetOpenMessage(ctx, msd)
	require.NoError(t, err)
	nextAvk, err := h.epochs.NextAggregateVerificationKey(ctx, 5)
	require.NoError(t, err)
	got, ok := msg.ProtocolMessage.Get(entities.NextAggregateVerificationKey)
	require.True(t, ok)
	assert.Equal(t, nextAvk, got)

	h.sign(t, msd, h.a)
	h.sign(t, msd, h.b)

	report, err = h.runner.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Opened)
	assert.Equal(t, 1, report.Sealed)
	assert.Equal(t, 1, report.Waiting)

	cert, err := h.certifier.GetCertifiedMessage(ctx, msd)
	require.NoError(t, err)
	require.NotNil(t, cert)
	artifacts := h.artifacts.List(entities.MithrilStakeDistribution)
	require.Len(t, artifacts, 1)
	assert.Equal(t, cert.ID, artifacts[0].CertificateID)
	assert.False(t, h.lock.IsLocked(entities.MithrilStakeDistribution))

	report, err = h.runner.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Sealed, "a certified message is not aggregated twice")
	assert.Len(t, h.artifacts.List(entities.MithrilStakeDistribution), 1)
}

func TestCycleTransitionsEpoch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.runner.Cycle(ctx)
	require.NoError(t, err)
	current, ok := h.runner.CurrentEpoch()
	require.True(t, ok)
	assert.Equal(t, entities.Epoch(5), current)
	require.NotNil(t, h.registerer.CurrentRound())
	assert.Equal(t, entities.Epoch(6), h.registerer.CurrentRound().Epoch)

	stakes, err := h.store.GetStakes(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, stakes, 2)
	for _, e := range []entities.Epoch{4, 5, 6} {
		settings, err := h.store.GetEpochSettings(ctx, e)
		require.NoError(t, err)
		require.NotNil(t, settings, "epoch %d", e)
	}

	h.observer.SetEpoch(6)
	h.observer.SetStakeDistribution(6, entities.StakeDistribution{"party-a": 100, "party-c": 10})
	_, err = h.runner.Cycle(ctx)
	require.NoError(t, err)
	current, _ = h.runner.CurrentEpoch()
	assert.Equal(t, entities.Epoch(6), current)
	assert.Equal(t, entities.Epoch(7), h.registerer.CurrentRound().Epoch)
	assert.Equal(t, entities.StakeDistribution{"party-a": 100, "party-c": 10}, h.registerer.CurrentRound().StakeDistribution)
}

func TestCycleFailsWhenTransitionFails(t *testing.T) {
	h := newHarness(t)
	h.observer.SetEpoch(9)

	_, err := h.runner.Cycle(context.Background())
	assert.ErrorIs(t, err, observer.ErrNoStakeDistribution)
	_, ok := h.runner.CurrentEpoch()
	assert.False(t, ok)

	h.observer.SetError(errors.New("node unreachable"))
	_, err = h.runner.Cycle(context.Background())
	assert.ErrorContains(t, err, "node unreachable")
}

func TestCyclePrunesOldOpenMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, entities.MithrilStakeDistribution)
	h.runner.cfg.OpenMessageRetention = 1

	_, err := h.runner.Cycle(ctx)
	require.NoError(t, err)

	for _, e := range []entities.Epoch{6, 7} {
		h.observer.SetEpoch(e)
		h.observer.SetStakeDistribution(e, entities.StakeDistribution{"party-a": 100})
		_, err = h.runner.Cycle(ctx)
		require.NoError(t, err)
	}

	old, err := h.store.GetOpenMessage(ctx, entities.NewMithrilStakeDistribution(5))
	require.NoError(t, err)
	assert.Nil(t, old, "open messages below epoch 6 are pruned at epoch 7")
}

func TestCycleSkipsWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.runner.running.Lock()
	report, err := h.runner.Cycle(context.Background())
	h.runner.running.Unlock()

	require.NoError(t, err)
	assert.True(t, report.Skipped)
}

func TestCycleSkipsLockedTypes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.True(t, h.lock.Lock(entities.MithrilStakeDistribution))

	report, err := h.runner.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Opened)

	msg, err := h.certifier.GetOpenMessage(ctx, entities.NewMithrilStakeDistribution(5))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

type staticDigest string

func (d staticDigest) Digest(context.Context, entities.SignedEntityType) (string, error) {
	return string(d), nil
}

func TestSignableBuilder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.runner.Cycle(ctx)
	require.NoError(t, err)

	b := NewSignableBuilder(h.epochs)
	assert.True(t, b.Supports(entities.MithrilStakeDistribution))
	assert.False(t, b.Supports(entities.CardanoTransactions))

	tp := observer.TimePoint{Epoch: 5, ImmutableFileNumber: 120, BlockNumber: 9000}
	txType, err := SignedEntityType(entities.CardanoTransactions, tp)
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), txType.BlockNumber)

	_, err = b.ProtocolMessage(ctx, txType)
	assert.ErrorIs(t, err, ErrNoDigestProvider)

	b.WithDigestProvider(entities.CardanoTransactions, staticDigest("abcd"))
	assert.True(t, b.Supports(entities.CardanoTransactions))
	pm, err := b.ProtocolMessage(ctx, txType)
	require.NoError(t, err)
	root, _ := pm.Get(entities.CardanoTransactionsMerkleRoot)
	block, _ := pm.Get(entities.LatestBlockNumber)
	assert.Equal(t, "abcd", root)
	assert.Equal(t, "9000", block)

	csd, err := b.ProtocolMessage(ctx, entities.NewCardanoStakeDistribution(5))
	require.NoError(t, err)
	merkle, _ := csd.Get(entities.CardanoStakeDistributionMerkleRoot)
	assert.Equal(t, StakeMerkleRoot(multisig.FixtureStakeDistribution([]multisig.FixtureSigner{h.a, h.b})), merkle)
	for _, msg := range []entities.ProtocolMessage{pm, csd} {
		committed, ok := msg.Get(entities.NextProtocolParameters)
		require.True(t, ok)
		assert.Equal(t, testParams.Digest(), committed)
	}

	_, err = b.ProtocolMessage(ctx, entities.NewCardanoStakeDistribution(4))
	assert.ErrorIs(t, err, epoch.ErrMissingStakeDistribution)

	_, err = SignedEntityType(42, tp)
	assert.ErrorIs(t, err, entities.ErrUnknownSignedEntityType)
}

func TestStakeMerkleRoot(t *testing.T) {
	sd := entities.StakeDistribution{"pool-b": 20, "pool-a": 10, "pool-c": 30}
	root := StakeMerkleRoot(sd)
	assert.Equal(t, root, StakeMerkleRoot(sd.Clone()))

	changed := sd.Clone()
	changed["pool-c"] = 31
	assert.NotEqual(t, root, StakeMerkleRoot(changed))

	single := entities.StakeDistribution{"pool-a": 10}
	assert.Equal(t, utils.Blake2bHex([]byte("pool-a"), utils.Uint64Bytes(10)), StakeMerkleRoot(single))
	assert.Equal(t, utils.Blake2bHex(), StakeMerkleRoot(nil))
}
