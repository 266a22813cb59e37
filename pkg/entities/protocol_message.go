package entities

import (
	"sort"

	"github.com/canopy-network/certifier/pkg/utils"
)

// ProtocolMessagePartKey names a part of a protocol message.
type ProtocolMessagePartKey string

const (
	SnapshotDigest                     ProtocolMessagePartKey = "snapshot_digest"
	CardanoTransactionsMerkleRoot      ProtocolMessagePartKey = "cardano_transactions_merkle_root"
	NextAggregateVerificationKey       ProtocolMessagePartKey = "next_aggregate_verification_key"
	NextProtocolParameters             ProtocolMessagePartKey = "next_protocol_parameters"
	CurrentEpoch                       ProtocolMessagePartKey = "current_epoch"
	LatestBlockNumber                  ProtocolMessagePartKey = "latest_block_number"
	CardanoStakeDistributionEpoch      ProtocolMessagePartKey = "cardano_stake_distribution_epoch"
	CardanoStakeDistributionMerkleRoot ProtocolMessagePartKey = "cardano_stake_distribution_merkle_root"
	CardanoDatabaseMerkleRoot          ProtocolMessagePartKey = "cardano_database_merkle_root"
)

// ProtocolMessage is the set of named values signed for an artifact.
// Iteration and hashing always follow key order.
type ProtocolMessage map[ProtocolMessagePartKey]string

func NewProtocolMessage() ProtocolMessage {
	return ProtocolMessage{}
}

func (m *ProtocolMessage) Set(key ProtocolMessagePartKey, value string) {
	if *m == nil {
		*m = ProtocolMessage{}
	}
	(*m)[key] = value
}

func (m ProtocolMessage) Get(key ProtocolMessagePartKey) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Keys returns the part keys in order.
func (m ProtocolMessage) Keys() []ProtocolMessagePartKey {
	keys := make([]ProtocolMessagePartKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Digest is the hex blake2b-256 of the length-prefixed parts in key order.
// This is the message that signers sign.
func (m ProtocolMessage) Digest() string {
	parts := make([][]byte, 0, 4*len(m))
	for _, k := range m.Keys() {
		v := m[k]
		parts = append(parts,
			utils.Uint64Bytes(uint64(len(k))), []byte(k),
			utils.Uint64Bytes(uint64(len(v))), []byte(v),
		)
	}
	return utils.Blake2bHex(parts...)
}

func (m ProtocolMessage) Clone() ProtocolMessage {
	out := make(ProtocolMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m ProtocolMessage) Equal(o ProtocolMessage) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
