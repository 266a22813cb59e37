package genesis

import (
	"bytes"
	"context"
	"testing"

	genesiskey "github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/memory"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/epoch"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testParams = entities.ProtocolParameters{K: 50, M: 100, PhiF: 0.5}

func newTools(t *testing.T) (*Tools, *genesiskey.Signer, *memory.Store, *epoch.Service) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	scheme := multisig.NewStakeScheme()
	epochs := epoch.NewService(epoch.Config{ProtocolParameters: testParams}, store, scheme, zaptest.NewLogger(t))
	require.NoError(t, epochs.InformEpoch(ctx, 4))

	signer, err := multisig.NewFixtureSigner("party-a", 100)
	require.NoError(t, err)
	_, err = store.SaveVerificationKey(ctx, 4, signer.SignerWithStake)
	require.NoError(t, err)

	key, err := genesiskey.GenerateKeypair()
	require.NoError(t, err)
	return NewTools(epochs, store, key.Verifier(), "0.1.0", zaptest.NewLogger(t)), key, store, epochs
}

func TestPayload(t *testing.T) {
	ctx := context.Background()
	tools, _, _, epochs := newTools(t)

	payload, err := tools.Payload(ctx, 4)
	require.NoError(t, err)

	avk, err := epochs.NextAggregateVerificationKey(ctx, 4)
	require.NoError(t, err)
	got, ok := payload.ProtocolMessage.Get(entities.NextAggregateVerificationKey)
	require.True(t, ok)
	assert.Equal(t, avk, got)
	got, _ = payload.ProtocolMessage.Get(entities.CurrentEpoch)
	assert.Equal(t, "4", got)
	got, _ = payload.ProtocolMessage.Get(entities.NextProtocolParameters)
	assert.Equal(t, testParams.Digest(), got)
	assert.Equal(t, payload.ProtocolMessage.Digest(), payload.Message)

	_, err = tools.Payload(ctx, 30)
	assert.Error(t, err, "no signers recorded at epoch 30")
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	tools, key, store, _ := newTools(t)

	cert, err := tools.Bootstrap(ctx, 4, key)
	require.NoError(t, err)
	assert.True(t, cert.IsGenesis())
	assert.Equal(t, entities.GenesisSignature, cert.Signature.Kind)
	assert.Equal(t, entities.NewMithrilStakeDistribution(4), cert.SignedEntityType)
	assert.Equal(t, cert.ComputeHash(), cert.ID)
	require.NoError(t, key.Verifier().Verify(cert.Message, cert.Signature.Value))

	stored, err := store.GetLatestCertificate(ctx)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, stored.ID)

	_, err = tools.Bootstrap(ctx, 4, key)
	assert.ErrorIs(t, err, db.ErrCertificateExists)
}

func TestOfflineSigning(t *testing.T) {
	ctx := context.Background()
	tools, key, _, _ := newTools(t)

	var exported bytes.Buffer
	require.NoError(t, tools.ExportPayload(ctx, 4, &exported))

	var signed bytes.Buffer
	require.NoError(t, SignPayload(bytes.NewReader(exported.Bytes()), &signed, key))

	cert, err := tools.ImportSignature(ctx, &signed)
	require.NoError(t, err)
	assert.Equal(t, entities.Epoch(4), cert.Epoch)
	require.NoError(t, key.Verifier().Verify(cert.Message, cert.Signature.Value))
}

func TestCreateCertificateRejects(t *testing.T) {
	ctx := context.Background()
	tools, key, _, _ := newTools(t)

	payload, err := tools.Payload(ctx, 4)
	require.NoError(t, err)

	other, err := genesiskey.GenerateKeypair()
	require.NoError(t, err)
	_, err = tools.CreateCertificate(ctx, payload, other.Sign(payload.Message))
	assert.ErrorIs(t, err, genesiskey.ErrInvalidGenesisSignature)

	tampered := *payload
	tampered.ProtocolMessage = payload.ProtocolMessage.Clone()
	tampered.ProtocolMessage.Set(entities.CurrentEpoch, "5")
	_, err = tools.CreateCertificate(ctx, &tampered, key.Sign(payload.Message))
	assert.ErrorIs(t, err, ErrPayloadMismatch)

	var out bytes.Buffer
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(tampered))
	assert.ErrorIs(t, SignPayload(&in, &out, key), ErrPayloadMismatch)
}
