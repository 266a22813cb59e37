package entities

import (
	"sort"
	"strconv"
	"time"

	"github.com/canopy-network/certifier/pkg/utils"
)

type CertificateSignatureKind string

const (
	GenesisSignature CertificateSignatureKind = "genesis"
	MultiSignature   CertificateSignatureKind = "multi"
)

type CertificateSignature struct {
	Kind  CertificateSignatureKind `json:"kind"`
	Value string                   `json:"value"`
}

// Certificate attests that a protocol message was signed by a quorum (or by the genesis key).
type Certificate struct {
	ID                       string               `json:"hash"`
	ParentID                 string               `json:"previous_hash"`
	Message                  string               `json:"signed_message"`
	Signature                CertificateSignature `json:"signature"`
	AggregateVerificationKey string               `json:"aggregate_verification_key"`
	Epoch                    Epoch                `json:"epoch"`
	SignedEntityType         SignedEntityType     `json:"signed_entity_type"`
	ProtocolVersion          string               `json:"protocol_version"`
	ProtocolParameters       ProtocolParameters   `json:"protocol_parameters"`
	ProtocolMessage          ProtocolMessage      `json:"protocol_message"`
	Signers                  []SignerWithStake    `json:"signers"`
	InitiatedAt              time.Time            `json:"initiated_at"`
	SealedAt                 time.Time            `json:"sealed_at"`
}

// IsGenesis reports whether the certificate is a chain root.
func (c *Certificate) IsGenesis() bool {
	return c.ParentID == ""
}

// ComputeHash hashes every field but ID. Timestamps count at microsecond precision.
func (c *Certificate) ComputeHash() string {
	signers := make([]SignerWithStake, len(c.Signers))
	copy(signers, c.Signers)
	sort.Slice(signers, func(i, j int) bool { return signers[i].PartyID < signers[j].PartyID })

	parts := [][]byte{
		[]byte(c.ParentID),
		[]byte(c.Message),
		[]byte(c.Signature.Kind),
		[]byte(c.Signature.Value),
		[]byte(c.AggregateVerificationKey),
		utils.Uint64Bytes(uint64(c.Epoch)),
		[]byte(c.SignedEntityType.Key()),
		[]byte(c.ProtocolVersion),
		[]byte(c.ProtocolParameters.Digest()),
		[]byte(c.ProtocolMessage.Digest()),
	}
	for _, s := range signers {
		parts = append(parts, []byte(s.PartyID), []byte(s.VerificationKey), utils.Uint64Bytes(s.Stake))
	}
	parts = append(parts,
		[]byte(strconv.FormatInt(c.InitiatedAt.UnixMicro(), 10)),
		[]byte(strconv.FormatInt(c.SealedAt.UnixMicro(), 10)),
	)
	return utils.Blake2bHex(parts...)
}

// Seal normalizes timestamps and sets ID from the content hash.
func (c *Certificate) Seal() {
	c.InitiatedAt = c.InitiatedAt.UTC().Truncate(time.Microsecond)
	c.SealedAt = c.SealedAt.UTC().Truncate(time.Microsecond)
	c.ID = c.ComputeHash()
}
