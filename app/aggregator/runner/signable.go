package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/observer"
	"github.com/canopy-network/certifier/pkg/utils"
)

// ErrNoDigestProvider is returned for artifact types whose content digest is computed elsewhere.
var ErrNoDigestProvider = errors.New("no digest provider for signed entity type")

// SignableEpochs is what the builders read from the epoch service.
type SignableEpochs interface {
	NextAggregateVerificationKey(ctx context.Context, epoch entities.Epoch) (string, error)
	NextProtocolParameters() (entities.ProtocolParameters, error)
	StakeDistribution(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error)
}

// DigestProvider computes the content digest of artifacts built from chain data
// (immutable files, transactions, database snapshots).
type DigestProvider interface {
	Digest(ctx context.Context, signedEntityType entities.SignedEntityType) (string, error)
}

// SignableBuilder turns the chain position into the beacon and protocol message to certify.
type SignableBuilder struct {
	epochs  SignableEpochs
	digests map[entities.SignedEntityTypeDiscriminant]DigestProvider
}

func NewSignableBuilder(epochs SignableEpochs) *SignableBuilder {
	return &SignableBuilder{
		epochs:  epochs,
		digests: map[entities.SignedEntityTypeDiscriminant]DigestProvider{},
	}
}

// WithDigestProvider enables a chain-data artifact type. Not safe to call once the runner started.
func (b *SignableBuilder) WithDigestProvider(d entities.SignedEntityTypeDiscriminant, provider DigestProvider) *SignableBuilder {
	b.digests[d] = provider
	return b
}

// Supports reports whether a signable can be built for d.
func (b *SignableBuilder) Supports(d entities.SignedEntityTypeDiscriminant) bool {
	switch d {
	case entities.MithrilStakeDistribution, entities.CardanoStakeDistribution:
		return true
	}
	_, ok := b.digests[d]
	return ok
}

// SignedEntityType builds the beacon of d at the given time point.
func SignedEntityType(d entities.SignedEntityTypeDiscriminant, tp observer.TimePoint) (entities.SignedEntityType, error) {
	switch d {
	case entities.MithrilStakeDistribution:
		return entities.NewMithrilStakeDistribution(tp.Epoch), nil
	case entities.CardanoStakeDistribution:
		return entities.NewCardanoStakeDistribution(tp.Epoch), nil
	case entities.CardanoImmutableFilesFull:
		return entities.NewCardanoImmutableFilesFull(tp.Epoch, tp.ImmutableFileNumber), nil
	case entities.CardanoTransactions:
		return entities.NewCardanoTransactions(tp.Epoch, tp.BlockNumber), nil
	case entities.CardanoDatabase:
		return entities.NewCardanoDatabase(tp.Epoch, tp.ImmutableFileNumber), nil
	}
	return entities.SignedEntityType{}, fmt.Errorf("%w: %d", entities.ErrUnknownSignedEntityType, d)
}

// ProtocolMessage builds the message for signedEntityType. Every message commits to
// the next aggregate verification key and protocol parameters so any certificate can
// parent the next epoch's.
func (b *SignableBuilder) ProtocolMessage(ctx context.Context, signedEntityType entities.SignedEntityType) (entities.ProtocolMessage, error) {
	epoch := signedEntityType.Epoch
	nextAvk, err := b.epochs.NextAggregateVerificationKey(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("next aggregate verification key: %w", err)
	}

	nextParams, err := b.epochs.NextProtocolParameters()
	if err != nil {
		return nil, fmt.Errorf("next protocol parameters: %w", err)
	}

	pm := entities.NewProtocolMessage()
	pm.Set(entities.NextAggregateVerificationKey, nextAvk)
	pm.Set(entities.NextProtocolParameters, nextParams.Digest())
	pm.Set(entities.CurrentEpoch, epoch.String())

	switch signedEntityType.Discriminant {
	case entities.MithrilStakeDistribution:
		// the common parts are the whole message

	case entities.CardanoStakeDistribution:
		sd, err := b.epochs.StakeDistribution(ctx, epoch)
		if err != nil {
			return nil, err
		}
		pm.Set(entities.CardanoStakeDistributionEpoch, epoch.String())
		pm.Set(entities.CardanoStakeDistributionMerkleRoot, StakeMerkleRoot(sd))

	default:
		provider, ok := b.digests[signedEntityType.Discriminant]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoDigestProvider, signedEntityType.Discriminant)
		}
		digest, err := provider.Digest(ctx, signedEntityType)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", signedEntityType, err)
		}
		switch signedEntityType.Discriminant {
		case entities.CardanoTransactions:
			pm.Set(entities.CardanoTransactionsMerkleRoot, digest)
			pm.Set(entities.LatestBlockNumber, strconv.FormatUint(signedEntityType.BlockNumber, 10))
		case entities.CardanoDatabase:
			pm.Set(entities.CardanoDatabaseMerkleRoot, digest)
		default:
			pm.Set(entities.SnapshotDigest, digest)
		}
	}
	return pm, nil
}

// StakeMerkleRoot is the blake2b Merkle root over (party, stake) leaves in party order.
// An odd node is carried up unchanged.
func StakeMerkleRoot(sd entities.StakeDistribution) string {
	parties := sd.SortedParties()
	if len(parties) == 0 {
		return utils.Blake2bHex()
	}
	level := make([][]byte, 0, len(parties))
	for _, p := range parties {
		level = append(level, []byte(utils.Blake2bHex([]byte(p), utils.Uint64Bytes(sd[p]))))
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, []byte(utils.Blake2bHex(level[i], level[i+1])))
		}
		level = next
	}
	return string(level[0])
}
