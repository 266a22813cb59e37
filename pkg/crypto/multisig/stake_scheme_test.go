package multisig

import (
	"testing"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = entities.ProtocolParameters{K: 50, M: 100, PhiF: 0.5}

func newSigners(t *testing.T) (FixtureSigner, FixtureSigner) {
	t.Helper()
	a, err := NewFixtureSigner("party-a", 100)
	require.NoError(t, err)
	b, err := NewFixtureSigner("party-b", 50)
	require.NoError(t, err)
	return a, b
}

func TestLotteryWins(t *testing.T) {
	tests := []struct {
		name  string
		stake uint64
		total uint64
		want  uint64
	}{
		{"two thirds of the stake", 100, 150, 37},
		{"one third of the stake", 50, 150, 20},
		{"all the stake", 150, 150, 50},
		{"no stake", 0, 150, 0},
		{"empty distribution", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LotteryWins(tt.stake, tt.total, testParams))
			assert.Len(t, WonIndexes(tt.stake, tt.total, testParams), int(tt.want))
		})
	}
}

func TestSingleSignatureVerification(t *testing.T) {
	scheme := NewStakeScheme()
	a, b := newSigners(t)
	total := a.Stake + b.Stake
	msg := "message-digest"

	sig, err := a.Key.Sign(msg, a.Stake, total, testParams)
	require.NoError(t, err)
	require.NoError(t, scheme.VerifySingleSignature(msg, sig, a.SignerWithStake, total, testParams))

	t.Run("wrong message", func(t *testing.T) {
		err := scheme.VerifySingleSignature("other", sig, a.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrSignatureVerification)
	})

	t.Run("wrong signer key", func(t *testing.T) {
		forged := sig
		forged.PartyID = b.PartyID
		forged.LotteryIndexes = []uint64{0}
		err := scheme.VerifySingleSignature(msg, forged, b.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrSignatureVerification)
	})

	t.Run("index not won", func(t *testing.T) {
		bad := sig
		bad.LotteryIndexes = []uint64{0, 99}
		err := scheme.VerifySingleSignature(msg, bad, a.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrLotteryIndex)
	})

	t.Run("duplicate index", func(t *testing.T) {
		bad := sig
		bad.LotteryIndexes = []uint64{1, 1}
		err := scheme.VerifySingleSignature(msg, bad, a.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrLotteryIndex)
	})

	t.Run("malformed signature", func(t *testing.T) {
		bad := sig
		bad.Signature = "zz"
		err := scheme.VerifySingleSignature(msg, bad, a.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})

	t.Run("no index", func(t *testing.T) {
		bad := sig
		bad.LotteryIndexes = nil
		err := scheme.VerifySingleSignature(msg, bad, a.SignerWithStake, total, testParams)
		assert.ErrorIs(t, err, ErrMalformedSignature)
	})
}

func TestQuorumAndAggregate(t *testing.T) {
	scheme := NewStakeScheme()
	a, b := newSigners(t)
	signers := SignerRecords([]FixtureSigner{a, b})
	total := entities.TotalStake(signers)
	msg := "message-digest"

	sigA, err := a.Key.Sign(msg, a.Stake, total, testParams)
	require.NoError(t, err)
	sigB, err := b.Key.Sign(msg, b.Stake, total, testParams)
	require.NoError(t, err)

	assert.False(t, scheme.HasQuorum([]entities.SingleSignature{sigA}, signers, testParams))
	assert.False(t, scheme.HasQuorum([]entities.SingleSignature{sigA, sigA}, signers, testParams), "duplicates count once")
	assert.True(t, scheme.HasQuorum([]entities.SingleSignature{sigA, sigB}, signers, testParams))

	_, err = scheme.Aggregate(msg, []entities.SingleSignature{sigA}, signers, testParams)
	assert.ErrorIs(t, err, ErrNotEnoughSignatures)

	agg, err := scheme.Aggregate(msg, []entities.SingleSignature{sigB, sigA}, signers, testParams)
	require.NoError(t, err)

	avk, err := scheme.DeriveAggregateVerificationKey(signers)
	require.NoError(t, err)
	require.NoError(t, scheme.VerifyAggregate(agg, avk, msg, testParams))

	assert.ErrorIs(t, scheme.VerifyAggregate(agg, "other-avk", msg, testParams), ErrAggregateKeyMismatch)
	assert.ErrorIs(t, scheme.VerifyAggregate(agg, avk, "other-message", testParams), ErrSignatureVerification)
	assert.ErrorIs(t, scheme.VerifyAggregate("not-hex", avk, msg, testParams), ErrMalformedSignature)

	stricter := testParams
	stricter.K = 60
	assert.ErrorIs(t, scheme.VerifyAggregate(agg, avk, msg, stricter), ErrNotEnoughSignatures)
}

func TestDeriveAggregateVerificationKey(t *testing.T) {
	scheme := NewStakeScheme()
	a, b := newSigners(t)
	c, err := NewFixtureSigner("party-c", 10)
	require.NoError(t, err)

	avk1, err := scheme.DeriveAggregateVerificationKey(SignerRecords([]FixtureSigner{a, b, c}))
	require.NoError(t, err)
	avk2, err := scheme.DeriveAggregateVerificationKey(SignerRecords([]FixtureSigner{c, a, b}))
	require.NoError(t, err)
	assert.Equal(t, avk1, avk2, "order independent")

	avk3, err := scheme.DeriveAggregateVerificationKey(SignerRecords([]FixtureSigner{a, b}))
	require.NoError(t, err)
	assert.NotEqual(t, avk1, avk3)

	_, err = scheme.DeriveAggregateVerificationKey(nil)
	assert.ErrorIs(t, err, ErrNoSigners)
}

func TestVerifyRegistration(t *testing.T) {
	scheme := NewStakeScheme()
	period := entities.KESPeriod(3)

	pool, err := NewPoolFixtureSigner(100, 10)
	require.NoError(t, err)
	require.NoError(t, scheme.VerifyRegistration(pool.Signer, &period))

	bare, err := NewFixtureSigner("bare", 10)
	require.NoError(t, err)
	require.NoError(t, scheme.VerifyRegistration(bare.Signer, nil))

	other, err := NewPoolFixtureSigner(100, 10)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(s *entities.Signer)
		period  *entities.KESPeriod
		wantErr error
	}{
		{
			name:    "bad verification key",
			mutate:  func(s *entities.Signer) { s.VerificationKey = "abcd" },
			period:  &period,
			wantErr: ErrInvalidVerificationKey,
		},
		{
			name:    "kes signature over another key",
			mutate:  func(s *entities.Signer) { s.VerificationKeySignature = other.VerificationKeySignature },
			period:  &period,
			wantErr: ErrInvalidKESSignature,
		},
		{
			name: "tampered operational certificate",
			mutate: func(s *entities.Signer) {
				opcert := *s.OperationalCertificate
				opcert.IssueNumber = 7
				s.OperationalCertificate = &opcert
			},
			period:  &period,
			wantErr: ErrInvalidOperationalCertificate,
		},
		{
			name:    "party id mismatch",
			mutate:  func(s *entities.Signer) { s.PartyID = "someone-else" },
			period:  &period,
			wantErr: ErrPartyMismatch,
		},
		{
			name:    "missing kes period",
			mutate:  func(s *entities.Signer) {},
			period:  nil,
			wantErr: ErrKESPeriodOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := pool.Signer
			tt.mutate(&signer)
			assert.ErrorIs(t, scheme.VerifyRegistration(signer, tt.period), tt.wantErr)
		})
	}
}
