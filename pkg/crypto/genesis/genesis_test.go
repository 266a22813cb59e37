package genesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := GenerateKeypair()
	require.NoError(t, err)

	sig := signer.Sign("digest")
	require.NoError(t, signer.Verifier().Verify("digest", sig))
	assert.ErrorIs(t, signer.Verifier().Verify("other", sig), ErrInvalidGenesisSignature)
	assert.ErrorIs(t, signer.Verifier().Verify("digest", "00"), ErrInvalidGenesisSignature)

	other, err := GenerateKeypair()
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verifier().Verify("digest", sig), ErrInvalidGenesisSignature)
}

func TestHexRoundTrip(t *testing.T) {
	signer, err := GenerateKeypair()
	require.NoError(t, err)

	restored, err := NewSignerFromHex(signer.SecretKey())
	require.NoError(t, err)
	assert.Equal(t, signer.VerificationKey(), restored.VerificationKey())

	verifier, err := NewVerifierFromHex(signer.VerificationKey())
	require.NoError(t, err)
	require.NoError(t, verifier.Verify("m", restored.Sign("m")))

	_, err = NewSignerFromHex("abcd")
	assert.Error(t, err)
	_, err = NewVerifierFromHex("not-hex")
	assert.Error(t, err)
}
