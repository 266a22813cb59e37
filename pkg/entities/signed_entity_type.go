package entities

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownSignedEntityType = errors.New("unknown signed entity type")

// SignedEntityTypeDiscriminant names the kind of artifact being certified.
type SignedEntityTypeDiscriminant uint8

const (
	MithrilStakeDistribution SignedEntityTypeDiscriminant = iota
	CardanoStakeDistribution
	CardanoImmutableFilesFull
	CardanoTransactions
	CardanoDatabase
)

var discriminantNames = map[SignedEntityTypeDiscriminant]string{
	MithrilStakeDistribution:  "MithrilStakeDistribution",
	CardanoStakeDistribution:  "CardanoStakeDistribution",
	CardanoImmutableFilesFull: "CardanoImmutableFilesFull",
	CardanoTransactions:       "CardanoTransactions",
	CardanoDatabase:           "CardanoDatabase",
}

// AllDiscriminants lists every known signed entity type in index order.
func AllDiscriminants() []SignedEntityTypeDiscriminant {
	return []SignedEntityTypeDiscriminant{
		MithrilStakeDistribution,
		CardanoStakeDistribution,
		CardanoImmutableFilesFull,
		CardanoTransactions,
		CardanoDatabase,
	}
}

func (d SignedEntityTypeDiscriminant) String() string {
	if n, ok := discriminantNames[d]; ok {
		return n
	}
	return "Unknown(" + strconv.Itoa(int(d)) + ")"
}

func (d SignedEntityTypeDiscriminant) Valid() bool {
	_, ok := discriminantNames[d]
	return ok
}

// ParseSignedEntityTypeDiscriminant accepts names case-insensitively.
func ParseSignedEntityTypeDiscriminant(s string) (SignedEntityTypeDiscriminant, error) {
	s = strings.TrimSpace(s)
	for d, n := range discriminantNames {
		if strings.EqualFold(n, s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSignedEntityType, s)
}

// SignedEntityType is a discriminant together with its beacon.
// Only the beacon fields relevant to the discriminant are meaningful.
type SignedEntityType struct {
	Discriminant        SignedEntityTypeDiscriminant `json:"type"`
	Epoch               Epoch                        `json:"epoch"`
	ImmutableFileNumber uint64                       `json:"immutable_file_number,omitempty"`
	BlockNumber         uint64                       `json:"block_number,omitempty"`
}

func NewMithrilStakeDistribution(epoch Epoch) SignedEntityType {
	return SignedEntityType{Discriminant: MithrilStakeDistribution, Epoch: epoch}
}

func NewCardanoStakeDistribution(epoch Epoch) SignedEntityType {
	return SignedEntityType{Discriminant: CardanoStakeDistribution, Epoch: epoch}
}

func NewCardanoImmutableFilesFull(epoch Epoch, immutableFileNumber uint64) SignedEntityType {
	return SignedEntityType{Discriminant: CardanoImmutableFilesFull, Epoch: epoch, ImmutableFileNumber: immutableFileNumber}
}

func NewCardanoTransactions(epoch Epoch, blockNumber uint64) SignedEntityType {
	return SignedEntityType{Discriminant: CardanoTransactions, Epoch: epoch, BlockNumber: blockNumber}
}

func NewCardanoDatabase(epoch Epoch, immutableFileNumber uint64) SignedEntityType {
	return SignedEntityType{Discriminant: CardanoDatabase, Epoch: epoch, ImmutableFileNumber: immutableFileNumber}
}

// Normalize clears beacon fields the discriminant does not use.
func (t SignedEntityType) Normalize() SignedEntityType {
	switch t.Discriminant {
	case MithrilStakeDistribution, CardanoStakeDistribution:
		t.ImmutableFileNumber, t.BlockNumber = 0, 0
	case CardanoImmutableFilesFull, CardanoDatabase:
		t.BlockNumber = 0
	case CardanoTransactions:
		t.ImmutableFileNumber = 0
	}
	return t
}

func (t SignedEntityType) Validate() error {
	if !t.Discriminant.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSignedEntityType, t.Discriminant)
	}
	return nil
}

// BeaconJSON is the canonical beacon encoding used by stores.
func (t SignedEntityType) BeaconJSON() string {
	switch t.Discriminant {
	case CardanoImmutableFilesFull, CardanoDatabase:
		return fmt.Sprintf(`{"epoch":%d,"immutable_file_number":%d}`, t.Epoch, t.ImmutableFileNumber)
	case CardanoTransactions:
		return fmt.Sprintf(`{"epoch":%d,"block_number":%d}`, t.Epoch, t.BlockNumber)
	default:
		return t.Epoch.String()
	}
}

// Key identifies the signed entity type and beacon; two values with the same key name the same artifact.
func (t SignedEntityType) Key() string {
	return t.Discriminant.String() + ":" + t.BeaconJSON()
}

func (t SignedEntityType) String() string {
	return t.Key()
}
