package entities

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/canopy-network/certifier/pkg/utils"
)

var ErrInvalidProtocolParameters = errors.New("invalid protocol parameters")

// ProtocolParameters configure the threshold scheme for an epoch.
type ProtocolParameters struct {
	// K is the quorum: number of lottery wins needed for an aggregate.
	K uint64 `json:"k"`
	// M is the number of lotteries per message.
	M uint64 `json:"m"`
	// PhiF is the probability that a party holding all the stake wins a lottery.
	PhiF float64 `json:"phi_f"`
}

func (p ProtocolParameters) Validate() error {
	switch {
	case p.K == 0:
		return fmt.Errorf("%w: k must be positive", ErrInvalidProtocolParameters)
	case p.M == 0:
		return fmt.Errorf("%w: m must be positive", ErrInvalidProtocolParameters)
	case p.K > p.M:
		return fmt.Errorf("%w: k (%d) greater than m (%d)", ErrInvalidProtocolParameters, p.K, p.M)
	case math.IsNaN(p.PhiF) || p.PhiF <= 0 || p.PhiF > 1:
		return fmt.Errorf("%w: phi_f must be in (0, 1]", ErrInvalidProtocolParameters)
	}
	return nil
}

func (p ProtocolParameters) Equal(o ProtocolParameters) bool {
	return p.K == o.K && p.M == o.M && p.PhiF == o.PhiF
}

// Digest is the value stored under next_protocol_parameters in protocol messages.
func (p ProtocolParameters) Digest() string {
	return utils.Blake2bHex(
		utils.Uint64Bytes(p.K),
		utils.Uint64Bytes(p.M),
		[]byte(strconv.FormatFloat(p.PhiF, 'f', -1, 64)),
	)
}
