package entities

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/canopy-network/certifier/pkg/utils"
)

// KESPeriod counts key evolutions since an operational certificate's start period.
type KESPeriod = uint32

// OperationalCertificate binds a hot KES key to a pool's cold key.
type OperationalCertificate struct {
	KESVerificationKey  string    `json:"kes_verification_key"`
	IssueNumber         uint64    `json:"issue_number"`
	StartKESPeriod      KESPeriod `json:"start_kes_period"`
	ColdVerificationKey string    `json:"cold_verification_key"`
	ColdSignature       string    `json:"cold_signature"`
}

// SignedPayload is the byte string covered by ColdSignature.
func (o OperationalCertificate) SignedPayload() ([]byte, error) {
	kes, err := hex.DecodeString(o.KESVerificationKey)
	if err != nil {
		return nil, fmt.Errorf("decode kes verification key: %w", err)
	}
	out := make([]byte, 0, len(kes)+12)
	out = append(out, kes...)
	out = binary.BigEndian.AppendUint64(out, o.IssueNumber)
	out = binary.BigEndian.AppendUint32(out, o.StartKESPeriod)
	return out, nil
}

// PoolID derives the party id owning this certificate from its cold key.
func (o OperationalCertificate) PoolID() (PartyID, error) {
	cold, err := hex.DecodeString(o.ColdVerificationKey)
	if err != nil || len(cold) == 0 {
		return "", fmt.Errorf("decode cold verification key: invalid hex %q", o.ColdVerificationKey)
	}
	return "pool" + utils.Blake2b224Hex(cold), nil
}

// Signer is a party's registration material.
type Signer struct {
	PartyID                  PartyID                 `json:"party_id"`
	VerificationKey          string                  `json:"verification_key"`
	VerificationKeySignature string                  `json:"verification_key_signature,omitempty"`
	OperationalCertificate   *OperationalCertificate `json:"operational_certificate,omitempty"`
	KESPeriod                *KESPeriod              `json:"kes_period,omitempty"`
}

// SignerWithStake is a registered signer together with its stake for the epoch.
type SignerWithStake struct {
	Signer
	Stake Stake `json:"stake"`
}

// SameKey reports whether both records carry the same verification material.
func (s SignerWithStake) SameKey(o SignerWithStake) bool {
	return s.PartyID == o.PartyID && s.VerificationKey == o.VerificationKey && s.Stake == o.Stake
}

// TotalStake sums the stake of the given signers.
func TotalStake(signers []SignerWithStake) uint64 {
	var total uint64
	for _, s := range signers {
		total += s.Stake
	}
	return total
}

// FindSigner returns the signer registered for party, if any.
func FindSigner(signers []SignerWithStake, party PartyID) (SignerWithStake, bool) {
	for _, s := range signers {
		if s.PartyID == party {
			return s, true
		}
	}
	return SignerWithStake{}, false
}
