package memory

import (
	"context"
	"sort"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/puzpuzpuz/xsync/v4"
)

func (s *Store) SaveVerificationKey(_ context.Context, epoch entities.Epoch, signer entities.SignerWithStake) (*entities.SignerWithStake, error) {
	var previous *entities.SignerWithStake
	s.verificationKeys.Compute(verificationKeyKey{epoch: epoch, partyID: signer.PartyID},
		func(old entities.SignerWithStake, loaded bool) (entities.SignerWithStake, xsync.ComputeOp) {
			if loaded {
				prev := old
				previous = &prev
			}
			return signer, xsync.UpdateOp
		})
	return previous, nil
}

func (s *Store) GetVerificationKeys(ctx context.Context, epoch entities.Epoch) (map[entities.PartyID]entities.Signer, error) {
	signers, err := s.GetSigners(ctx, epoch)
	if err != nil {
		return nil, err
	}
	out := make(map[entities.PartyID]entities.Signer, len(signers))
	for _, sg := range signers {
		out[sg.PartyID] = sg.Signer
	}
	return out, nil
}

// GetSigners returns the signers recorded for epoch ordered by party id.
func (s *Store) GetSigners(_ context.Context, epoch entities.Epoch) ([]entities.SignerWithStake, error) {
	out := []entities.SignerWithStake{}
	s.verificationKeys.Range(func(k verificationKeyKey, v entities.SignerWithStake) bool {
		if k.epoch == epoch {
			out = append(out, v)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PartyID < out[j].PartyID })
	return out, nil
}

func (s *Store) PruneVerificationKeys(_ context.Context, epoch entities.Epoch) error {
	s.verificationKeys.Range(func(k verificationKeyKey, _ entities.SignerWithStake) bool {
		if k.epoch < epoch {
			s.verificationKeys.Delete(k)
		}
		return true
	})
	return nil
}
