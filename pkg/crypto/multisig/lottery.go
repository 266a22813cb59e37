package multisig

import (
	"math"

	"github.com/canopy-network/certifier/pkg/entities"
)

// LotteryWins returns how many of the M lotteries a party with stake out of total wins.
// A party with relative stake w wins floor(M * (1 - (1 - phi_f)^w)) lotteries.
func LotteryWins(stake, total uint64, params entities.ProtocolParameters) uint64 {
	if stake == 0 || total == 0 || params.M == 0 {
		return 0
	}
	w := float64(stake) / float64(total)
	phi := 1 - math.Pow(1-params.PhiF, w)
	wins := uint64(math.Floor(float64(params.M) * phi))
	if wins > params.M {
		wins = params.M
	}
	return wins
}

// WonIndexes lists the lottery indexes won by a party.
func WonIndexes(stake, total uint64, params entities.ProtocolParameters) []uint64 {
	wins := LotteryWins(stake, total, params)
	out := make([]uint64, wins)
	for i := range out {
		out[i] = uint64(i)
	}
	return out
}
