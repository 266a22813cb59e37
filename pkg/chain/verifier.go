// Package chain verifies certificates back to the genesis certificate.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"go.uber.org/zap"
)

var (
	ErrCertificateNotFound     = errors.New("certificate not found")
	ErrHashMismatch            = errors.New("certificate hash does not match its content")
	ErrMessageMismatch         = errors.New("signed message does not match the protocol message")
	ErrUnexpectedSignatureKind = errors.New("unexpected signature kind")
	ErrMissingParent           = errors.New("parent certificate not found")
	ErrEpochNotDecreasing      = errors.New("parent certificate epoch is not strictly lower")
	ErrAggregateKeyChain       = errors.New("aggregate verification key not committed by parent certificate")
	ErrProtocolParametersChain = errors.New("protocol parameters not committed by parent certificate")
)

// Check names the verification step that failed.
type Check string

const (
	CheckLookup           Check = "lookup"
	CheckHash             Check = "hash"
	CheckMessage          Check = "message"
	CheckGenesisSignature Check = "genesis_signature"
	CheckMultiSignature   Check = "multi_signature"
	CheckParent           Check = "parent"
	CheckEpochOrder       Check = "epoch_order"
	CheckAggregateKey     Check = "aggregate_verification_key"
	CheckParameters       Check = "protocol_parameters"
)

// VerificationError reports the first broken link of a chain.
type VerificationError struct {
	CertificateID string
	Check         Check
	Err           error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("certificate %s failed %s check: %v", e.CertificateID, e.Check, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// CertificateReader loads certificates by id. A missing certificate is nil, nil.
type CertificateReader interface {
	GetCertificate(ctx context.Context, id string) (*entities.Certificate, error)
}

// GenesisVerifier checks the signature of a chain root.
type GenesisVerifier interface {
	Verify(message, signature string) error
}

// Verifier is read-only and safe for concurrent use.
type Verifier struct {
	certs   CertificateReader
	scheme  multisig.AggregateVerifier
	genesis GenesisVerifier
	logger  *zap.Logger
}

func NewVerifier(certs CertificateReader, scheme multisig.AggregateVerifier, genesis GenesisVerifier, logger *zap.Logger) *Verifier {
	return &Verifier{
		certs:   certs,
		scheme:  scheme,
		genesis: genesis,
		logger:  logging.Component(logger, "chain_verifier"),
	}
}

// VerifyChain loads the certificate and verifies it and every ancestor.
func (v *Verifier) VerifyChain(ctx context.Context, certificateID string) error {
	cert, err := v.certs.GetCertificate(ctx, certificateID)
	if err != nil {
		return &VerificationError{CertificateID: certificateID, Check: CheckLookup, Err: err}
	}
	if cert == nil {
		return &VerificationError{CertificateID: certificateID, Check: CheckLookup, Err: ErrCertificateNotFound}
	}
	return v.VerifyCertificateChain(ctx, cert)
}

// VerifyCertificateChain walks from cert to the genesis certificate, failing on the first broken link.
func (v *Verifier) VerifyCertificateChain(ctx context.Context, cert *entities.Certificate) error {
	links := 0
	// Parent epochs strictly decrease, so the walk ends.
	for current := cert; current != nil; {
		parent, err := v.VerifyCertificate(ctx, current)
		if err != nil {
			return err
		}
		links++
		current = parent
	}
	v.logger.Debug("Certificate chain verified",
		zap.String("certificate_id", cert.ID),
		zap.Int("links", links),
	)
	return nil
}

// VerifyCertificate checks one link and returns its parent, nil for a genesis certificate.
func (v *Verifier) VerifyCertificate(ctx context.Context, cert *entities.Certificate) (*entities.Certificate, error) {
	fail := func(check Check, err error) (*entities.Certificate, error) {
		return nil, &VerificationError{CertificateID: cert.ID, Check: check, Err: err}
	}

	if hash := cert.ComputeHash(); hash != cert.ID {
		return fail(CheckHash, fmt.Errorf("%w: computed %s", ErrHashMismatch, hash))
	}
	if digest := cert.ProtocolMessage.Digest(); digest != cert.Message {
		return fail(CheckMessage, fmt.Errorf("%w: digest %s", ErrMessageMismatch, digest))
	}

	if cert.IsGenesis() {
		if cert.Signature.Kind != entities.GenesisSignature {
			return fail(CheckGenesisSignature, fmt.Errorf("%w: %q on a certificate without parent", ErrUnexpectedSignatureKind, cert.Signature.Kind))
		}
		if err := v.genesis.Verify(cert.Message, cert.Signature.Value); err != nil {
			return fail(CheckGenesisSignature, err)
		}
		return nil, nil
	}

	if cert.Signature.Kind != entities.MultiSignature {
		return fail(CheckMultiSignature, fmt.Errorf("%w: %q on a certificate with a parent", ErrUnexpectedSignatureKind, cert.Signature.Kind))
	}
	if err := v.scheme.VerifyAggregate(cert.Signature.Value, cert.AggregateVerificationKey, cert.Message, cert.ProtocolParameters); err != nil {
		return fail(CheckMultiSignature, err)
	}

	parent, err := v.certs.GetCertificate(ctx, cert.ParentID)
	if err != nil {
		return fail(CheckParent, err)
	}
	if parent == nil {
		return fail(CheckParent, fmt.Errorf("%w: %s", ErrMissingParent, cert.ParentID))
	}
	if parent.Epoch >= cert.Epoch {
		return fail(CheckEpochOrder, fmt.Errorf("%w: parent epoch %d, certificate epoch %d", ErrEpochNotDecreasing, parent.Epoch, cert.Epoch))
	}
	if committed, _ := parent.ProtocolMessage.Get(entities.NextAggregateVerificationKey); committed != cert.AggregateVerificationKey {
		return fail(CheckAggregateKey, fmt.Errorf("%w: parent %s", ErrAggregateKeyChain, parent.ID))
	}
	if committed, _ := parent.ProtocolMessage.Get(entities.NextProtocolParameters); committed != cert.ProtocolParameters.Digest() {
		return fail(CheckParameters, fmt.Errorf("%w: parent %s", ErrProtocolParametersChain, parent.ID))
	}
	return parent, nil
}
