package registration

import (
	"errors"
	"fmt"

	"github.com/canopy-network/certifier/pkg/entities"
)

var (
	ErrRoundNotOpened           = errors.New("signer registration round not yet opened")
	ErrChainObserver            = errors.New("chain observer error")
	ErrFailedSignerRegistration = errors.New("failed signer registration")
	ErrFailedSignerRecorder     = errors.New("failed to record signer registration")
	ErrStore                    = errors.New("verification key store error")
	ErrUnresolvedPartyID        = errors.New("party id can not be resolved from registration material")
	ErrPartyNotInDistribution   = errors.New("party not in stake distribution")
)

// UnexpectedEpochError reports a registration for an epoch other than the open round's.
type UnexpectedEpochError struct {
	Current  entities.Epoch
	Received entities.Epoch
}

func (e *UnexpectedEpochError) Error() string {
	return fmt.Sprintf("registration round for unexpected epoch: current %d, received %d", e.Current, e.Received)
}

// ExistingSignerError is returned when the (epoch, party) key was already registered.
// Callers should treat it as an idempotent success.
type ExistingSignerError struct {
	Signer entities.SignerWithStake
}

func (e *ExistingSignerError) Error() string {
	return fmt.Sprintf("signer already registered: %s", e.Signer.PartyID)
}

// IsExistingSigner reports whether err is an ExistingSignerError.
func IsExistingSigner(err error) bool {
	var existing *ExistingSignerError
	return errors.As(err, &existing)
}
