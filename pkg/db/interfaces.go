package db

import (
	"context"
	"errors"

	"github.com/canopy-network/certifier/pkg/entities"
)

var (
	// ErrCertificateExists is returned when a certificate for the same signed entity type and beacon is already stored.
	ErrCertificateExists = errors.New("certificate already exists for signed entity type")
	ErrNotFound          = errors.New("not found")
)

// OpenMessageStore persists open messages and resolves the current one per signed entity type.
type OpenMessageStore interface {
	CreateOpenMessage(ctx context.Context, epoch entities.Epoch, signedEntityType entities.SignedEntityType, protocolMessage entities.ProtocolMessage) (*entities.OpenMessage, error)
	// GetOpenMessage returns the newest open message for the signed entity type, or nil.
	GetOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error)
	GetOpenMessageWithSignatures(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessageWithSignatures, error)
	// UpdateOpenMessage replaces every mutable field of the stored record.
	UpdateOpenMessage(ctx context.Context, msg *entities.OpenMessage) error
	// CleanEpoch removes open messages with an epoch strictly below epoch and returns how many went.
	CleanEpoch(ctx context.Context, epoch entities.Epoch) (int, error)
}

type SingleSignatureStore interface {
	// SaveSingleSignature upserts per (open message, party).
	SaveSingleSignature(ctx context.Context, sig entities.SingleSignature) error
}

type CertificateStore interface {
	// CreateCertificate fails with ErrCertificateExists when the signed entity type is already certified.
	CreateCertificate(ctx context.Context, cert *entities.Certificate) error
	// Getters return nil when nothing matches.
	GetCertificate(ctx context.Context, id string) (*entities.Certificate, error)
	GetLatestCertificate(ctx context.Context) (*entities.Certificate, error)
	// GetLatestCertificateBefore returns the newest certificate whose epoch is strictly below epoch.
	GetLatestCertificateBefore(ctx context.Context, epoch entities.Epoch) (*entities.Certificate, error)
	GetCertificateBySignedEntityType(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error)
	ListCertificates(ctx context.Context, limit int) ([]entities.Certificate, error)
}

type VerificationKeyStore interface {
	// SaveVerificationKey upserts the signer for (epoch, party) and returns the record it replaced, if any.
	SaveVerificationKey(ctx context.Context, epoch entities.Epoch, signer entities.SignerWithStake) (*entities.SignerWithStake, error)
	GetVerificationKeys(ctx context.Context, epoch entities.Epoch) (map[entities.PartyID]entities.Signer, error)
	GetSigners(ctx context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error)
	// PruneVerificationKeys removes keys recorded for epochs strictly below epoch.
	PruneVerificationKeys(ctx context.Context, epoch entities.Epoch) error
}

type StakeStore interface {
	SaveStakes(ctx context.Context, epoch entities.Epoch, sd entities.StakeDistribution) error
	// GetStakes returns nil when no snapshot is recorded for epoch.
	GetStakes(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error)
}

type EpochSettingsStore interface {
	SaveEpochSettings(ctx context.Context, epoch entities.Epoch, params entities.ProtocolParameters) error
	// GetEpochSettings returns nil when nothing is recorded for epoch.
	GetEpochSettings(ctx context.Context, epoch entities.Epoch) (*entities.ProtocolParameters, error)
}

// SignerRecorder keeps a registry of every party that ever registered.
type SignerRecorder interface {
	RecordSignerRegistration(ctx context.Context, partyID entities.PartyID) error
}

// Maintainer runs store housekeeping.
type Maintainer interface {
	Vacuum(ctx context.Context) error
}

// Store is the full persistence surface of the aggregator.
type Store interface {
	OpenMessageStore
	SingleSignatureStore
	CertificateStore
	VerificationKeyStore
	StakeStore
	EpochSettingsStore
	SignerRecorder
	Maintainer
	Close() error
}
