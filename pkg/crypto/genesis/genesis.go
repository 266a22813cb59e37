// Package genesis holds the ed25519 key that signs chain roots.
package genesis

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidGenesisSignature = errors.New("invalid genesis signature")

type Signer struct {
	private ed25519.PrivateKey
}

func GenerateKeypair() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{private: priv}, nil
}

// NewSignerFromHex accepts either a 32 byte seed or a 64 byte private key.
func NewSignerFromHex(secret string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("decode genesis secret key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return &Signer{private: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &Signer{private: ed25519.PrivateKey(raw)}, nil
	default:
		return nil, fmt.Errorf("genesis secret key length %d invalid", len(raw))
	}
}

func (s *Signer) Sign(message string) string {
	return hex.EncodeToString(ed25519.Sign(s.private, []byte(message)))
}

func (s *Signer) SecretKey() string {
	return hex.EncodeToString(s.private.Seed())
}

func (s *Signer) VerificationKey() string {
	return hex.EncodeToString(s.private.Public().(ed25519.PublicKey))
}

func (s *Signer) Verifier() *Verifier {
	return &Verifier{public: s.private.Public().(ed25519.PublicKey)}
}

type Verifier struct {
	public ed25519.PublicKey
}

func NewVerifierFromHex(key string) (*Verifier, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("decode genesis verification key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("genesis verification key length %d invalid", len(raw))
	}
	return &Verifier{public: ed25519.PublicKey(raw)}, nil
}

func (v *Verifier) Verify(message, signature string) error {
	raw, err := hex.DecodeString(signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed", ErrInvalidGenesisSignature)
	}
	if !ed25519.Verify(v.public, []byte(message), raw) {
		return ErrInvalidGenesisSignature
	}
	return nil
}
