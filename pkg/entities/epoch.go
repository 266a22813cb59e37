package entities

import (
	"errors"
	"fmt"
	"strconv"
)

// Epoch is a monotonically increasing period of the observed chain.
type Epoch uint64

const (
	// signerRetrievalOffset is applied to an epoch to find the epoch whose recorded keys sign its messages.
	signerRetrievalOffset = -1
	// nextSignerRetrievalOffset finds the keys that will sign the messages of the following epoch.
	nextSignerRetrievalOffset = 0
	// signerRecordingOffset is where a round opened in an epoch records its registrations.
	signerRecordingOffset = 1
)

var ErrEpochUnderflow = errors.New("epoch offset underflow")

func (e Epoch) String() string {
	return strconv.FormatUint(uint64(e), 10)
}

func (e Epoch) Next() Epoch {
	return e + 1
}

func (e Epoch) Previous() (Epoch, error) {
	return e.offset(-1)
}

// SaturatingSub subtracts n, stopping at zero.
func (e Epoch) SaturatingSub(n uint64) Epoch {
	if uint64(e) < n {
		return 0
	}
	return e - Epoch(n)
}

func (e Epoch) OffsetToSignerRetrievalEpoch() (Epoch, error) {
	return e.offset(signerRetrievalOffset)
}

func (e Epoch) OffsetToNextSignerRetrievalEpoch() Epoch {
	next, _ := e.offset(nextSignerRetrievalOffset)
	return next
}

func (e Epoch) OffsetToRecordingEpoch() Epoch {
	rec, _ := e.offset(signerRecordingOffset)
	return rec
}

func (e Epoch) offset(delta int64) (Epoch, error) {
	if delta < 0 && uint64(e) < uint64(-delta) {
		return 0, fmt.Errorf("%w: epoch %d offset %d", ErrEpochUnderflow, e, delta)
	}
	return Epoch(int64(e) + delta), nil
}
