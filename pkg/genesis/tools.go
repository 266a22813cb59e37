// Package genesis bootstraps a certificate chain with a certificate signed by the genesis key.
package genesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	genesiskey "github.com/canopy-network/certifier/pkg/crypto/genesis"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

var ErrPayloadMismatch = errors.New("genesis payload signed message does not match its protocol message")

// EpochReader provides what the genesis protocol message commits to.
type EpochReader interface {
	ProtocolParameters(ctx context.Context, epoch entities.Epoch) (entities.ProtocolParameters, error)
	NextAggregateVerificationKey(ctx context.Context, epoch entities.Epoch) (string, error)
}

// Payload is what the genesis key signs. It travels as JSON for offline signing.
type Payload struct {
	Epoch              entities.Epoch              `json:"epoch"`
	ProtocolParameters entities.ProtocolParameters `json:"protocol_parameters"`
	ProtocolMessage    entities.ProtocolMessage    `json:"protocol_message"`
	Message            string                      `json:"signed_message"`
}

// SignedPayload is a payload together with its genesis signature.
type SignedPayload struct {
	Payload
	Signature string `json:"signature"`
}

type Tools struct {
	epochs          EpochReader
	certs           db.CertificateStore
	verifier        *genesiskey.Verifier
	protocolVersion string
	logger          *zap.Logger
	now             func() time.Time
}

// NewTools returns the genesis tools. verifier may be nil, in which case signatures are not checked before storing.
func NewTools(epochs EpochReader, certs db.CertificateStore, verifier *genesiskey.Verifier, protocolVersion string, logger *zap.Logger) *Tools {
	return &Tools{
		epochs:          epochs,
		certs:           certs,
		verifier:        verifier,
		protocolVersion: protocolVersion,
		logger:          logging.Component(logger, "genesis_tools"),
		now:             time.Now,
	}
}

// Payload builds the genesis protocol message for epoch: the aggregate verification
// key of the signers recorded at epoch, the parameters they will sign with, and the epoch.
func (t *Tools) Payload(ctx context.Context, epoch entities.Epoch) (*Payload, error) {
	params, err := t.epochs.ProtocolParameters(ctx, epoch.Next())
	if err != nil {
		return nil, fmt.Errorf("next protocol parameters: %w", err)
	}
	avk, err := t.epochs.NextAggregateVerificationKey(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("next aggregate verification key: %w", err)
	}

	pm := entities.NewProtocolMessage()
	pm.Set(entities.NextAggregateVerificationKey, avk)
	pm.Set(entities.NextProtocolParameters, params.Digest())
	pm.Set(entities.CurrentEpoch, epoch.String())

	return &Payload{
		Epoch:              epoch,
		ProtocolParameters: params,
		ProtocolMessage:    pm,
		Message:            pm.Digest(),
	}, nil
}

// CreateCertificate seals and stores the genesis certificate for a signed payload.
func (t *Tools) CreateCertificate(ctx context.Context, payload *Payload, signature string) (*entities.Certificate, error) {
	if payload.ProtocolMessage.Digest() != payload.Message {
		return nil, ErrPayloadMismatch
	}
	if t.verifier != nil {
		if err := t.verifier.Verify(payload.Message, signature); err != nil {
			return nil, err
		}
	}

	avk, _ := payload.ProtocolMessage.Get(entities.NextAggregateVerificationKey)
	now := t.now()
	cert := &entities.Certificate{
		Message:                  payload.Message,
		Signature:                entities.CertificateSignature{Kind: entities.GenesisSignature, Value: signature},
		AggregateVerificationKey: avk,
		Epoch:                    payload.Epoch,
		SignedEntityType:         entities.NewMithrilStakeDistribution(payload.Epoch),
		ProtocolVersion:          t.protocolVersion,
		ProtocolParameters:       payload.ProtocolParameters,
		ProtocolMessage:          payload.ProtocolMessage.Clone(),
		InitiatedAt:              now,
		SealedAt:                 now,
	}
	cert.Seal()

	if err := t.certs.CreateCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("store genesis certificate: %w", err)
	}
	t.logger.Info("Created genesis certificate",
		zap.String("certificate_id", cert.ID),
		zap.Uint64("epoch", uint64(cert.Epoch)),
	)
	return cert, nil
}

// Bootstrap builds, signs and stores the genesis certificate in one step.
func (t *Tools) Bootstrap(ctx context.Context, epoch entities.Epoch, signer *genesiskey.Signer) (*entities.Certificate, error) {
	payload, err := t.Payload(ctx, epoch)
	if err != nil {
		return nil, err
	}
	return t.CreateCertificate(ctx, payload, signer.Sign(payload.Message))
}

// ExportPayload writes the payload of epoch for offline signing.
func (t *Tools) ExportPayload(ctx context.Context, epoch entities.Epoch, w io.Writer) error {
	payload, err := t.Payload(ctx, epoch)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(payload)
}

// SignPayload reads an exported payload and writes it back signed. It needs no store.
func SignPayload(r io.Reader, w io.Writer, signer *genesiskey.Signer) error {
	var payload Payload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return fmt.Errorf("decode genesis payload: %w", err)
	}
	if payload.ProtocolMessage.Digest() != payload.Message {
		return ErrPayloadMismatch
	}
	return json.NewEncoder(w).Encode(SignedPayload{Payload: payload, Signature: signer.Sign(payload.Message)})
}

// ImportSignature stores the genesis certificate of a signed payload.
func (t *Tools) ImportSignature(ctx context.Context, r io.Reader) (*entities.Certificate, error) {
	var signed SignedPayload
	if err := json.NewDecoder(r).Decode(&signed); err != nil {
		return nil, fmt.Errorf("decode signed genesis payload: %w", err)
	}
	return t.CreateCertificate(ctx, &signed.Payload, signed.Signature)
}
