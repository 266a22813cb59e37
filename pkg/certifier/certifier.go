// Package certifier turns single signatures over open messages into sealed certificates.
package certifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/certifier/pkg/buffer"
	"github.com/canopy-network/certifier/pkg/crypto/multisig"
	"github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/logging"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Store is the persistence used by the certifier.
type Store interface {
	db.OpenMessageStore
	db.SingleSignatureStore
	db.CertificateStore
}

// EpochReader resolves the signers and parameters that apply to messages of an epoch.
type EpochReader interface {
	ProtocolParameters(ctx context.Context, epoch entities.Epoch) (entities.ProtocolParameters, error)
	Signers(ctx context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error)
}

// EventPublisher is told about every sealed certificate. Delivery is best effort.
type EventPublisher interface {
	CertificateSealed(ctx context.Context, cert *entities.Certificate)
}

// SignatureStatus tells how a submitted signature was taken in.
type SignatureStatus int

const (
	// SignatureRegistered means the signature was validated and stored.
	SignatureRegistered SignatureStatus = iota
	// SignatureBuffered means validation is deferred to the next aggregation attempt.
	SignatureBuffered
)

type Config struct {
	ProtocolVersion string
}

type keyLock struct {
	mu    sync.Mutex
	epoch entities.Epoch
}

type Certifier struct {
	store     Store
	epochs    EpochReader
	scheme    multisig.Scheme
	buffer    buffer.SignatureBuffer
	publisher EventPublisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	// locks serializes aggregation per signed entity type key.
	locks *xsync.Map[string, *keyLock]
}

// Option customizes a Certifier.
type Option func(*Certifier)

// WithBuffer routes submitted signatures through buf. Validation then happens at drain time.
func WithBuffer(buf buffer.SignatureBuffer) Option {
	return func(c *Certifier) { c.buffer = buf }
}

func WithPublisher(p EventPublisher) Option {
	return func(c *Certifier) { c.publisher = p }
}

func withClock(now func() time.Time) Option {
	return func(c *Certifier) { c.now = now }
}

func New(store Store, epochs EpochReader, scheme multisig.Scheme, cfg Config, logger *zap.Logger, opts ...Option) *Certifier {
	c := &Certifier{
		store:  store,
		epochs: epochs,
		scheme: scheme,
		cfg:    cfg,
		logger: logging.Component(logger, "certifier"),
		now:    time.Now,
		locks:  xsync.NewMap[string, *keyLock](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOpenMessage opens signedEntityType for signing. An uncertified open message
// already stored for the same key is returned as is.
func (c *Certifier) CreateOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType, protocolMessage entities.ProtocolMessage) (*entities.OpenMessage, error) {
	if err := signedEntityType.Validate(); err != nil {
		return nil, err
	}
	signedEntityType = signedEntityType.Normalize()

	cert, err := c.store.GetCertificateBySignedEntityType(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get certificate for %s: %w", signedEntityType, err)
	}
	if cert != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
	}

	existing, err := c.store.GetOpenMessage(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get open message for %s: %w", signedEntityType, err)
	}
	if existing != nil {
		return existing, nil
	}

	msg, err := c.store.CreateOpenMessage(ctx, signedEntityType.Epoch, signedEntityType, protocolMessage)
	if err != nil {
		return nil, fmt.Errorf("create open message for %s: %w", signedEntityType, err)
	}
	c.logger.Info("Created open message",
		zap.String("signed_entity_type", signedEntityType.String()),
		zap.String("open_message_id", msg.ID),
		zap.String("digest", protocolMessage.Digest()),
	)
	return msg, nil
}

// GetOpenMessage returns the open message for signedEntityType, or nil. Its
// certified flag reflects whether a certificate exists.
func (c *Certifier) GetOpenMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error) {
	msg, err := c.store.GetOpenMessage(ctx, signedEntityType)
	if err != nil || msg == nil {
		return nil, err
	}
	if !msg.IsCertified {
		cert, err := c.store.GetCertificateBySignedEntityType(ctx, signedEntityType)
		if err != nil {
			return nil, err
		}
		msg.IsCertified = cert != nil
	}
	return msg, nil
}

// GetCertifiedMessage returns the certificate sealed for signedEntityType, or nil.
func (c *Certifier) GetCertifiedMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error) {
	return c.store.GetCertificateBySignedEntityType(ctx, signedEntityType)
}

// openForSigning resolves the open message and rejects it when already certified.
func (c *Certifier) openForSigning(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.OpenMessage, error) {
	msg, err := c.store.GetOpenMessage(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get open message for %s: %w", signedEntityType, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOpenMessage, signedEntityType)
	}
	if msg.IsCertified {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
	}
	cert, err := c.store.GetCertificateBySignedEntityType(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get certificate for %s: %w", signedEntityType, err)
	}
	if cert != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
	}
	return msg, nil
}

// RegisterSingleSignature takes in a signature for the open message of signedEntityType.
func (c *Certifier) RegisterSingleSignature(ctx context.Context, signedEntityType entities.SignedEntityType, sig entities.SingleSignature) (SignatureStatus, error) {
	msg, err := c.openForSigning(ctx, signedEntityType)
	if err != nil {
		return 0, err
	}
	sig.OpenMessageID = msg.ID
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = c.now().UTC()
	}
	if err := checkStructure(sig); err != nil {
		return 0, err
	}

	if c.buffer != nil {
		if err := c.buffer.Buffer(ctx, sig); err != nil {
			return 0, fmt.Errorf("buffer signature of %s: %w", sig.PartyID, err)
		}
		c.logger.Debug("Buffered single signature",
			zap.String("signed_entity_type", signedEntityType.String()),
			zap.String("party_id", sig.PartyID),
		)
		return SignatureBuffered, nil
	}

	v, err := c.validatorFor(ctx, msg)
	if err != nil {
		return 0, err
	}
	if err := v.validate(sig); err != nil {
		c.logger.Warn("Rejected single signature",
			zap.String("signed_entity_type", signedEntityType.String()),
			zap.String("party_id", sig.PartyID),
			zap.Error(err),
		)
		return 0, err
	}
	if err := c.store.SaveSingleSignature(ctx, sig); err != nil {
		return 0, fmt.Errorf("save signature of %s: %w", sig.PartyID, err)
	}
	c.logger.Debug("Registered single signature",
		zap.String("signed_entity_type", signedEntityType.String()),
		zap.String("party_id", sig.PartyID),
		zap.Int("indexes", len(sig.LotteryIndexes)),
	)
	return SignatureRegistered, nil
}

func checkStructure(sig entities.SingleSignature) error {
	switch {
	case sig.PartyID == "":
		return fmt.Errorf("%w: missing party id", ErrInvalidSignature)
	case sig.Signature == "":
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	case len(sig.LotteryIndexes) == 0:
		return fmt.Errorf("%w: no lottery index", ErrInvalidSignature)
	}
	return nil
}

// validator checks signatures against one open message's signer set.
type validator struct {
	message    string
	signers    []entities.SignerWithStake
	totalStake uint64
	params     entities.ProtocolParameters
	verifier   multisig.SignatureVerifier
}

func (c *Certifier) validatorFor(ctx context.Context, msg *entities.OpenMessage) (*validator, error) {
	params, err := c.epochs.ProtocolParameters(ctx, msg.Epoch)
	if err != nil {
		return nil, fmt.Errorf("protocol parameters for epoch %d: %w", msg.Epoch, err)
	}
	signers, err := c.epochs.Signers(ctx, msg.Epoch)
	if err != nil {
		return nil, fmt.Errorf("signers for epoch %d: %w", msg.Epoch, err)
	}
	return &validator{
		message:    msg.ProtocolMessage.Digest(),
		signers:    signers,
		totalStake: entities.TotalStake(signers),
		params:     params,
		verifier:   c.scheme,
	}, nil
}

func (v *validator) validate(sig entities.SingleSignature) error {
	if err := checkStructure(sig); err != nil {
		return err
	}
	signer, ok := entities.FindSigner(v.signers, sig.PartyID)
	if !ok || signer.Stake == 0 {
		return fmt.Errorf("%w: %s", ErrUnregisteredParty, sig.PartyID)
	}
	if err := v.verifier.VerifySingleSignature(v.message, sig, signer, v.totalStake, v.params); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

func (c *Certifier) lockFor(signedEntityType entities.SignedEntityType) *keyLock {
	l, _ := c.locks.LoadOrStore(signedEntityType.Key(), &keyLock{epoch: signedEntityType.Epoch})
	return l
}

// TryAggregate seals a certificate for signedEntityType once its signatures reach
// quorum. Attempts for the same key run one at a time and at most one certificate
// is ever stored per key.
func (c *Certifier) TryAggregate(ctx context.Context, signedEntityType entities.SignedEntityType) (*entities.Certificate, error) {
	signedEntityType = signedEntityType.Normalize()
	l := c.lockFor(signedEntityType)
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, err := c.store.GetOpenMessageWithSignatures(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get open message for %s: %w", signedEntityType, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOpenMessage, signedEntityType)
	}

	existing, err := c.store.GetCertificateBySignedEntityType(ctx, signedEntityType)
	if err != nil {
		return nil, fmt.Errorf("get certificate for %s: %w", signedEntityType, err)
	}
	if existing != nil {
		if !msg.IsCertified {
			c.markCertified(ctx, &msg.OpenMessage, existing.ID)
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
	}
	if msg.IsCertified {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
	}

	v, err := c.validatorFor(ctx, &msg.OpenMessage)
	if err != nil {
		return nil, err
	}

	drained, err := c.drain(ctx, msg.ID, v)
	if err != nil {
		return nil, err
	}

	sigs := make([]entities.SingleSignature, 0, len(msg.SingleSignatures)+len(drained))
	for _, sig := range append(msg.SingleSignatures, drained...) {
		if _, ok := entities.FindSigner(v.signers, sig.PartyID); ok {
			sigs = append(sigs, sig)
		}
	}
	sigs = entities.DedupeByParty(sigs)

	if !c.scheme.HasQuorum(sigs, v.signers, v.params) {
		c.logger.Debug("No quorum yet",
			zap.String("signed_entity_type", signedEntityType.String()),
			zap.Int("signatures", len(sigs)),
			zap.Int("signers", len(v.signers)),
		)
		return nil, fmt.Errorf("%w: %s", ErrNoQuorumYet, signedEntityType)
	}

	cert, err := c.seal(ctx, &msg.OpenMessage, v, sigs)
	if err != nil {
		return nil, err
	}

	if err := c.store.CreateCertificate(ctx, cert); err != nil {
		if errors.Is(err, db.ErrCertificateExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyCertified, signedEntityType)
		}
		return nil, fmt.Errorf("store certificate for %s: %w", signedEntityType, err)
	}
	c.markCertified(ctx, &msg.OpenMessage, cert.ID)

	c.logger.Info("Sealed certificate",
		zap.String("signed_entity_type", signedEntityType.String()),
		zap.String("certificate_id", cert.ID),
		zap.String("parent_id", cert.ParentID),
		zap.Int("signers", len(cert.Signers)),
	)
	if c.publisher != nil {
		c.publisher.CertificateSealed(ctx, cert)
	}
	return cert, nil
}

// drain takes the buffered signatures of an open message, stores the valid ones
// and drops the invalid ones. Signatures that could not be stored go back to the buffer.
func (c *Certifier) drain(ctx context.Context, openMessageID string, v *validator) ([]entities.SingleSignature, error) {
	if c.buffer == nil {
		return nil, nil
	}
	buffered, err := c.buffer.Drain(ctx, openMessageID)
	if err != nil {
		return nil, fmt.Errorf("drain signature buffer: %w", err)
	}

	accepted := make([]entities.SingleSignature, 0, len(buffered))
	for i, sig := range buffered {
		if err := v.validate(sig); err != nil {
			c.logger.Warn("Dropped buffered signature",
				zap.String("open_message_id", openMessageID),
				zap.String("party_id", sig.PartyID),
				zap.Error(err),
			)
			continue
		}
		if err := c.store.SaveSingleSignature(ctx, sig); err != nil {
			c.rebuffer(ctx, buffered[i:])
			return nil, fmt.Errorf("save buffered signature of %s: %w", sig.PartyID, err)
		}
		accepted = append(accepted, sig)
	}
	return accepted, nil
}

func (c *Certifier) rebuffer(ctx context.Context, sigs []entities.SingleSignature) {
	for _, sig := range sigs {
		if err := c.buffer.Buffer(ctx, sig); err != nil {
			c.logger.Error("Lost buffered signature",
				zap.String("open_message_id", sig.OpenMessageID),
				zap.String("party_id", sig.PartyID),
				zap.Error(err),
			)
		}
	}
}

func (c *Certifier) seal(ctx context.Context, msg *entities.OpenMessage, v *validator, sigs []entities.SingleSignature) (*entities.Certificate, error) {
	aggregate, err := c.scheme.Aggregate(v.message, sigs, v.signers, v.params)
	if err != nil {
		return nil, fmt.Errorf("aggregate signatures for %s: %w", msg.SignedEntityType, err)
	}
	avk, err := c.scheme.DeriveAggregateVerificationKey(v.signers)
	if err != nil {
		return nil, fmt.Errorf("derive aggregate verification key: %w", err)
	}

	parent, err := c.store.GetLatestCertificateBefore(ctx, msg.Epoch)
	if err != nil {
		return nil, fmt.Errorf("get parent certificate: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrMissingParentCertificate, msg.Epoch)
	}

	contributors := make([]entities.SignerWithStake, 0, len(sigs))
	for _, sig := range sigs {
		signer, _ := entities.FindSigner(v.signers, sig.PartyID)
		contributors = append(contributors, signer)
	}

	cert := &entities.Certificate{
		ParentID:                 parent.ID,
		Message:                  v.message,
		Signature:                entities.CertificateSignature{Kind: entities.MultiSignature, Value: aggregate},
		AggregateVerificationKey: avk,
		Epoch:                    msg.Epoch,
		SignedEntityType:         msg.SignedEntityType,
		ProtocolVersion:          c.cfg.ProtocolVersion,
		ProtocolParameters:       v.params,
		ProtocolMessage:          msg.ProtocolMessage.Clone(),
		Signers:                  contributors,
		InitiatedAt:              msg.CreatedAt,
		SealedAt:                 c.now(),
	}
	cert.Seal()
	return cert, nil
}

// markCertified flips the flag. A failure is only logged: the stored
// certificate already marks the message as certified on every read.
func (c *Certifier) markCertified(ctx context.Context, msg *entities.OpenMessage, certificateID string) {
	msg.IsCertified = true
	if err := c.store.UpdateOpenMessage(ctx, msg); err != nil {
		c.logger.Warn("Failed to flag open message as certified",
			zap.String("open_message_id", msg.ID),
			zap.String("certificate_id", certificateID),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Flagged open message as certified",
		zap.String("open_message_id", msg.ID),
		zap.String("certificate_id", certificateID),
	)
}

// Prune removes open messages of epochs strictly below epoch.
func (c *Certifier) Prune(ctx context.Context, epoch entities.Epoch) (int, error) {
	removed, err := c.store.CleanEpoch(ctx, epoch)
	if err != nil {
		return 0, fmt.Errorf("clean open messages below epoch %d: %w", epoch, err)
	}
	c.locks.Range(func(key string, l *keyLock) bool {
		if l.epoch < epoch {
			c.locks.Delete(key)
		}
		return true
	})
	if removed > 0 {
		c.logger.Info("Pruned open messages",
			zap.Uint64("below_epoch", uint64(epoch)),
			zap.Int("removed", removed),
		)
	}
	return removed, nil
}
