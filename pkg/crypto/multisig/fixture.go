package multisig

import (
	"github.com/canopy-network/certifier/pkg/entities"
)

// FixtureSigner bundles a signer record with its secret material, for tests and local networks.
type FixtureSigner struct {
	entities.SignerWithStake
	Key  SigningKey
	Pool *PoolCredentials
}

// NewFixtureSigner creates a signer registered under partyID without an operational certificate.
func NewFixtureSigner(partyID entities.PartyID, stake entities.Stake) (FixtureSigner, error) {
	key, err := GenerateSigningKey(partyID)
	if err != nil {
		return FixtureSigner{}, err
	}
	return FixtureSigner{
		SignerWithStake: entities.SignerWithStake{
			Signer: entities.Signer{PartyID: partyID, VerificationKey: key.VerificationKey()},
			Stake:  stake,
		},
		Key: key,
	}, nil
}

// NewPoolFixtureSigner creates a signer whose party id is derived from a fresh operational certificate.
func NewPoolFixtureSigner(stake entities.Stake, startKESPeriod entities.KESPeriod) (FixtureSigner, error) {
	pool, err := GeneratePoolCredentials()
	if err != nil {
		return FixtureSigner{}, err
	}
	opcert := pool.OperationalCertificate(0, startKESPeriod)
	partyID, err := opcert.PoolID()
	if err != nil {
		return FixtureSigner{}, err
	}
	key, err := GenerateSigningKey(partyID)
	if err != nil {
		return FixtureSigner{}, err
	}
	vkSig, err := pool.SignVerificationKey(key.VerificationKey())
	if err != nil {
		return FixtureSigner{}, err
	}
	return FixtureSigner{
		SignerWithStake: entities.SignerWithStake{
			Signer: entities.Signer{
				PartyID:                  partyID,
				VerificationKey:          key.VerificationKey(),
				VerificationKeySignature: vkSig,
				OperationalCertificate:   &opcert,
			},
			Stake: stake,
		},
		Key:  key,
		Pool: &pool,
	}, nil
}

// SignerRecords returns the public records of the fixtures.
func SignerRecords(fixtures []FixtureSigner) []entities.SignerWithStake {
	out := make([]entities.SignerWithStake, 0, len(fixtures))
	for _, f := range fixtures {
		out = append(out, f.SignerWithStake)
	}
	return out
}

func FixtureStakeDistribution(fixtures []FixtureSigner) entities.StakeDistribution {
	sd := make(entities.StakeDistribution, len(fixtures))
	for _, f := range fixtures {
		sd[f.PartyID] = f.Stake
	}
	return sd
}
