// Package observer exposes what the aggregator needs from the underlying chain.
package observer

import (
	"context"
	"errors"
	"sync"

	"github.com/canopy-network/certifier/pkg/entities"
)

var ErrNoStakeDistribution = errors.New("no stake distribution for epoch")

// ChainObserver is the stake distribution provider.
type ChainObserver interface {
	CurrentEpoch(ctx context.Context) (entities.Epoch, error)
	CurrentStakeDistribution(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error)
	// CurrentKESPeriod returns the chain's KES period for the certificate's pool.
	CurrentKESPeriod(ctx context.Context, opcert entities.OperationalCertificate) (entities.KESPeriod, error)
}

// TimePoint is the chain position used to build beacons.
type TimePoint struct {
	Epoch               entities.Epoch
	ImmutableFileNumber uint64
	BlockNumber         uint64
}

type TimePointProvider interface {
	CurrentTimePoint(ctx context.Context) (TimePoint, error)
}

// FakeObserver is an in-memory observer driven by its setters.
type FakeObserver struct {
	mu        sync.RWMutex
	timePoint TimePoint
	stakes    map[entities.Epoch]entities.StakeDistribution
	kesPeriod entities.KESPeriod
	failWith  error
}

func NewFakeObserver(epoch entities.Epoch) *FakeObserver {
	return &FakeObserver{
		timePoint: TimePoint{Epoch: epoch},
		stakes:    map[entities.Epoch]entities.StakeDistribution{},
	}
}

func (f *FakeObserver) SetTimePoint(tp TimePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timePoint = tp
}

func (f *FakeObserver) SetEpoch(epoch entities.Epoch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timePoint.Epoch = epoch
}

func (f *FakeObserver) SetStakeDistribution(epoch entities.Epoch, sd entities.StakeDistribution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stakes[epoch] = sd.Clone()
}

func (f *FakeObserver) SetKESPeriod(period entities.KESPeriod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kesPeriod = period
}

// SetError makes every call fail with err until reset with nil.
func (f *FakeObserver) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *FakeObserver) CurrentEpoch(_ context.Context) (entities.Epoch, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.timePoint.Epoch, nil
}

func (f *FakeObserver) CurrentStakeDistribution(_ context.Context, epoch entities.Epoch) (entities.StakeDistribution, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	sd, ok := f.stakes[epoch]
	if !ok {
		return nil, ErrNoStakeDistribution
	}
	return sd.Clone(), nil
}

func (f *FakeObserver) CurrentKESPeriod(_ context.Context, _ entities.OperationalCertificate) (entities.KESPeriod, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.kesPeriod, nil
}

func (f *FakeObserver) CurrentTimePoint(_ context.Context) (TimePoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.failWith != nil {
		return TimePoint{}, f.failWith
	}
	return f.timePoint, nil
}
