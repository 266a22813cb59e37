package certifier

import "errors"

var (
	ErrNoOpenMessage = errors.New("no open message for signed entity type")
	// ErrAlreadyCertified is returned for an open message that already has a certificate.
	// Pollers treat it as a no-op.
	ErrAlreadyCertified  = errors.New("open message already certified")
	ErrInvalidSignature  = errors.New("invalid single signature")
	ErrUnregisteredParty = errors.New("party is not a registered signer for the epoch")
	// ErrNoQuorumYet is the normal waiting state of an open message.
	ErrNoQuorumYet              = errors.New("quorum not reached yet")
	ErrMissingParentCertificate = errors.New("no certificate to chain to, the genesis certificate must be created first")
)

// IsWaiting reports whether err is an expected outcome of a polling aggregation.
func IsWaiting(err error) bool {
	return errors.Is(err, ErrNoQuorumYet) || errors.Is(err, ErrAlreadyCertified)
}
