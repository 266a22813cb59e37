package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpochOffsets(t *testing.T) {
	e := Epoch(10)

	retrieval, err := e.OffsetToSignerRetrievalEpoch()
	require.NoError(t, err)
	assert.Equal(t, Epoch(9), retrieval)
	assert.Equal(t, Epoch(10), e.OffsetToNextSignerRetrievalEpoch())
	assert.Equal(t, Epoch(11), e.OffsetToRecordingEpoch())

	_, err = Epoch(0).OffsetToSignerRetrievalEpoch()
	assert.ErrorIs(t, err, ErrEpochUnderflow)

	_, err = Epoch(0).Previous()
	assert.ErrorIs(t, err, ErrEpochUnderflow)

	assert.Equal(t, Epoch(0), Epoch(3).SaturatingSub(5))
	assert.Equal(t, Epoch(2), Epoch(7).SaturatingSub(5))
}

func TestSignedEntityTypeBeacon(t *testing.T) {
	tests := []struct {
		name       string
		sigType    SignedEntityType
		wantBeacon string
	}{
		{"mithril stake distribution", NewMithrilStakeDistribution(5), `5`},
		{"cardano stake distribution", NewCardanoStakeDistribution(6), `6`},
		{"immutable files full", NewCardanoImmutableFilesFull(5, 12), `{"epoch":5,"immutable_file_number":12}`},
		{"cardano database", NewCardanoDatabase(5, 13), `{"epoch":5,"immutable_file_number":13}`},
		{"transactions", NewCardanoTransactions(5, 100), `{"epoch":5,"block_number":100}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBeacon, tt.sigType.BeaconJSON())
			assert.Equal(t, tt.sigType.Discriminant.String()+":"+tt.wantBeacon, tt.sigType.Key())
			require.NoError(t, tt.sigType.Validate())
		})
	}

	assert.NotEqual(t, NewCardanoImmutableFilesFull(5, 12).Key(), NewCardanoDatabase(5, 12).Key())
	assert.Error(t, SignedEntityType{Discriminant: 42}.Validate())
}

func TestSignedEntityTypeNormalize(t *testing.T) {
	st := SignedEntityType{Discriminant: MithrilStakeDistribution, Epoch: 3, BlockNumber: 9, ImmutableFileNumber: 4}
	assert.Equal(t, NewMithrilStakeDistribution(3), st.Normalize())
}

func TestParseSignedEntityTypeDiscriminant(t *testing.T) {
	d, err := ParseSignedEntityTypeDiscriminant(" cardanotransactions ")
	require.NoError(t, err)
	assert.Equal(t, CardanoTransactions, d)

	_, err = ParseSignedEntityTypeDiscriminant("Nope")
	assert.ErrorIs(t, err, ErrUnknownSignedEntityType)
}

func TestProtocolMessageDigest(t *testing.T) {
	a := NewProtocolMessage()
	a.Set(SnapshotDigest, "digest")
	a.Set(NextAggregateVerificationKey, "avk")

	b := NewProtocolMessage()
	b.Set(NextAggregateVerificationKey, "avk")
	b.Set(SnapshotDigest, "digest")

	assert.Equal(t, a.Digest(), b.Digest(), "insertion order must not matter")
	assert.True(t, a.Equal(b))

	b.Set(SnapshotDigest, "other")
	assert.NotEqual(t, a.Digest(), b.Digest())
	assert.False(t, a.Equal(b))

	var zero ProtocolMessage
	zero.Set(CurrentEpoch, "1")
	v, ok := zero.Get(CurrentEpoch)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, []ProtocolMessagePartKey{NextAggregateVerificationKey, SnapshotDigest}, a.Keys())
}

func TestProtocolParametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  ProtocolParameters
		wantErr bool
	}{
		{"valid", ProtocolParameters{K: 5, M: 100, PhiF: 0.65}, false},
		{"zero k", ProtocolParameters{K: 0, M: 100, PhiF: 0.65}, true},
		{"zero m", ProtocolParameters{K: 5, M: 0, PhiF: 0.65}, true},
		{"k above m", ProtocolParameters{K: 101, M: 100, PhiF: 0.65}, true},
		{"phi zero", ProtocolParameters{K: 5, M: 100, PhiF: 0}, true},
		{"phi above one", ProtocolParameters{K: 5, M: 100, PhiF: 1.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProtocolParameters)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCertificateHash(t *testing.T) {
	pm := NewProtocolMessage()
	pm.Set(NextAggregateVerificationKey, "avk-next")
	cert := &Certificate{
		ParentID:                 "parent",
		Message:                  pm.Digest(),
		Signature:                CertificateSignature{Kind: MultiSignature, Value: "sig"},
		AggregateVerificationKey: "avk",
		Epoch:                    4,
		SignedEntityType:         NewMithrilStakeDistribution(4),
		ProtocolVersion:          "0.1.0",
		ProtocolParameters:       ProtocolParameters{K: 5, M: 100, PhiF: 0.65},
		ProtocolMessage:          pm,
		Signers: []SignerWithStake{
			{Signer: Signer{PartyID: "b", VerificationKey: "vk-b"}, Stake: 2},
			{Signer: Signer{PartyID: "a", VerificationKey: "vk-a"}, Stake: 1},
		},
		InitiatedAt: time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC),
		SealedAt:    time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC),
	}
	cert.Seal()
	require.NotEmpty(t, cert.ID)
	assert.Equal(t, cert.ID, cert.ComputeHash())
	assert.False(t, cert.IsGenesis())

	// timestamps are normalised to microseconds, so a round trip through storage keeps the hash
	stored := *cert
	stored.InitiatedAt = cert.InitiatedAt.In(time.FixedZone("x", 3600))
	assert.Equal(t, cert.ID, stored.ComputeHash())

	// signer order does not matter
	stored.Signers = []SignerWithStake{cert.Signers[1], cert.Signers[0]}
	assert.Equal(t, cert.ID, stored.ComputeHash())

	stored.AggregateVerificationKey = "tampered"
	assert.NotEqual(t, cert.ID, stored.ComputeHash())
}

func TestDedupeByParty(t *testing.T) {
	in := []SingleSignature{
		{PartyID: "a", Signature: "1"},
		{PartyID: "b", Signature: "2"},
		{PartyID: "a", Signature: "3"},
	}
	out := DedupeByParty(in)
	require.Len(t, out, 2)
	assert.Equal(t, "3", out[0].Signature)
	assert.Equal(t, "b", out[1].PartyID)
}

func TestOperationalCertificatePoolID(t *testing.T) {
	opcert := OperationalCertificate{ColdVerificationKey: "00112233"}
	id, err := opcert.PoolID()
	require.NoError(t, err)
	assert.Len(t, id, len("pool")+56)

	_, err = OperationalCertificate{ColdVerificationKey: "zz"}.PoolID()
	assert.Error(t, err)
}
