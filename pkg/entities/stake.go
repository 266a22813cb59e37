package entities

import (
	"sort"
)

// PartyID identifies a signer, usually a pool id.
type PartyID = string

type Stake = uint64

// StakeDistribution maps a party to the stake it controls for an epoch.
type StakeDistribution map[PartyID]Stake

func (sd StakeDistribution) TotalStake() uint64 {
	var total uint64
	for _, s := range sd {
		total += s
	}
	return total
}

func (sd StakeDistribution) Clone() StakeDistribution {
	out := make(StakeDistribution, len(sd))
	for k, v := range sd {
		out[k] = v
	}
	return out
}

// SortedParties returns the party ids in lexical order.
func (sd StakeDistribution) SortedParties() []PartyID {
	out := make([]PartyID, 0, len(sd))
	for p := range sd {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
