package multisig

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/canopy-network/certifier/pkg/entities"
)

// SigningKey is the signer-side half of a registered verification key.
type SigningKey struct {
	PartyID entities.PartyID
	key     ed25519.PrivateKey
}

func GenerateSigningKey(partyID entities.PartyID) (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{PartyID: partyID, key: priv}, nil
}

func (k SigningKey) VerificationKey() string {
	return hex.EncodeToString(k.key.Public().(ed25519.PublicKey))
}

// Sign produces a single signature over message claiming every lottery the stake wins.
func (k SigningKey) Sign(message string, stake, totalStake uint64, params entities.ProtocolParameters) (entities.SingleSignature, error) {
	indexes := WonIndexes(stake, totalStake, params)
	if len(indexes) == 0 {
		return entities.SingleSignature{}, ErrLotteryLost
	}
	return entities.SingleSignature{
		PartyID:        k.PartyID,
		LotteryIndexes: indexes,
		Signature:      hex.EncodeToString(ed25519.Sign(k.key, []byte(message))),
	}, nil
}

// PoolCredentials are the cold and KES keys of a pool operator.
type PoolCredentials struct {
	Cold ed25519.PrivateKey
	KES  ed25519.PrivateKey
}

func GeneratePoolCredentials() (PoolCredentials, error) {
	_, cold, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PoolCredentials{}, err
	}
	_, kes, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PoolCredentials{}, err
	}
	return PoolCredentials{Cold: cold, KES: kes}, nil
}

// OperationalCertificate issues a certificate for the KES key starting at startPeriod.
func (p PoolCredentials) OperationalCertificate(issueNumber uint64, startPeriod entities.KESPeriod) entities.OperationalCertificate {
	opcert := entities.OperationalCertificate{
		KESVerificationKey:  hex.EncodeToString(p.KES.Public().(ed25519.PublicKey)),
		IssueNumber:         issueNumber,
		StartKESPeriod:      startPeriod,
		ColdVerificationKey: hex.EncodeToString(p.Cold.Public().(ed25519.PublicKey)),
	}
	// the key was just hex encoded, so the payload always decodes
	payload, _ := opcert.SignedPayload()
	opcert.ColdSignature = hex.EncodeToString(ed25519.Sign(p.Cold, payload))
	return opcert
}

// SignVerificationKey returns the KES signature binding vk to the pool.
func (p PoolCredentials) SignVerificationKey(vk string) (string, error) {
	raw, err := hex.DecodeString(vk)
	if err != nil {
		return "", fmt.Errorf("decode verification key: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(p.KES, raw)), nil
}
