// Package multisig provides the stake-weighted threshold signature capability used by the certifier.
//
// The certifier only depends on the narrow interfaces below. StakeScheme is the reference
// implementation: ed25519 single signatures, a deterministic stake-weighted lottery and an
// aggregate verification key computed as a Merkle root over the registered signers.
package multisig

import (
	"errors"

	"github.com/canopy-network/certifier/pkg/entities"
)

var (
	ErrInvalidVerificationKey        = errors.New("invalid verification key")
	ErrInvalidOperationalCertificate = errors.New("invalid operational certificate")
	ErrInvalidKESSignature           = errors.New("invalid verification key signature")
	ErrKESPeriodOutOfRange           = errors.New("kes period out of range")
	ErrPartyMismatch                 = errors.New("party id does not match operational certificate")
	ErrMalformedSignature            = errors.New("malformed signature")
	ErrSignatureVerification         = errors.New("signature verification failed")
	ErrLotteryIndex                  = errors.New("lottery index not won")
	ErrLotteryLost                   = errors.New("party won no lottery")
	ErrNotEnoughSignatures           = errors.New("not enough signatures for quorum")
	ErrNoSigners                     = errors.New("no signers")
	ErrAggregateKeyMismatch          = errors.New("aggregate verification key mismatch")
	ErrUnknownSigner                 = errors.New("signature from unknown signer")
)

// MaxKESEvolutions bounds the KES period of an operational certificate.
const MaxKESEvolutions = 62

// KeyRegistrar checks that a verification key is bound to the party registering it.
type KeyRegistrar interface {
	VerifyRegistration(signer entities.Signer, kesPeriod *entities.KESPeriod) error
}

type SignatureVerifier interface {
	VerifySingleSignature(message string, sig entities.SingleSignature, signer entities.SignerWithStake, totalStake uint64, params entities.ProtocolParameters) error
}

type QuorumChecker interface {
	HasQuorum(sigs []entities.SingleSignature, signers []entities.SignerWithStake, params entities.ProtocolParameters) bool
}

type Aggregator interface {
	Aggregate(message string, sigs []entities.SingleSignature, signers []entities.SignerWithStake, params entities.ProtocolParameters) (string, error)
}

type AggregateVerifier interface {
	VerifyAggregate(aggregate, avk, message string, params entities.ProtocolParameters) error
}

type KeyDeriver interface {
	DeriveAggregateVerificationKey(signers []entities.SignerWithStake) (string, error)
}

// Scheme bundles every capability.
type Scheme interface {
	KeyRegistrar
	SignatureVerifier
	QuorumChecker
	Aggregator
	AggregateVerifier
	KeyDeriver
}
