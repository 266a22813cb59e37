package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/observer"
)

const (
	timePointPath         = "/v1/query/time-point"
	stakeDistributionPath = "/v1/query/stake-distribution"
	kesPeriodPath         = "/v1/query/kes-period"
)

type timePointResponse struct {
	Epoch               uint64 `json:"epoch"`
	ImmutableFileNumber uint64 `json:"immutable_file_number"`
	BlockNumber         uint64 `json:"block_number"`
}

type epochRequest struct {
	Epoch uint64 `json:"epoch"`
}

type stakeEntry struct {
	PartyID string `json:"party_id"`
	Stake   uint64 `json:"stake"`
}

type kesPeriodResponse struct {
	KESPeriod uint32 `json:"kes_period"`
}

// Observer reads the chain through a node's HTTP query API.
type Observer struct {
	client *HTTPClient
}

var (
	_ observer.ChainObserver     = (*Observer)(nil)
	_ observer.TimePointProvider = (*Observer)(nil)
)

func NewObserver(client *HTTPClient) *Observer {
	return &Observer{client: client}
}

func (o *Observer) CurrentTimePoint(ctx context.Context) (observer.TimePoint, error) {
	var resp timePointResponse
	if err := o.client.doJSON(ctx, http.MethodPost, timePointPath, nil, &resp); err != nil {
		return observer.TimePoint{}, fmt.Errorf("fetch time point: %w", err)
	}
	return observer.TimePoint{
		Epoch:               entities.Epoch(resp.Epoch),
		ImmutableFileNumber: resp.ImmutableFileNumber,
		BlockNumber:         resp.BlockNumber,
	}, nil
}

func (o *Observer) CurrentEpoch(ctx context.Context) (entities.Epoch, error) {
	tp, err := o.CurrentTimePoint(ctx)
	if err != nil {
		return 0, err
	}
	return tp.Epoch, nil
}

// CurrentStakeDistribution fails with observer.ErrNoStakeDistribution when the node has
// no snapshot for epoch. Parties with zero stake are dropped.
func (o *Observer) CurrentStakeDistribution(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error) {
	var entries []stakeEntry
	err := o.client.doJSON(ctx, http.MethodPost, stakeDistributionPath, epochRequest{Epoch: uint64(epoch)}, &entries)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: epoch %d", observer.ErrNoStakeDistribution, epoch)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch stake distribution of epoch %d: %w", epoch, err)
	}
	sd := make(entities.StakeDistribution, len(entries))
	for _, e := range entries {
		if e.Stake == 0 {
			continue
		}
		sd[e.PartyID] += e.Stake
	}
	return sd, nil
}

func (o *Observer) CurrentKESPeriod(ctx context.Context, opcert entities.OperationalCertificate) (entities.KESPeriod, error) {
	var resp kesPeriodResponse
	if err := o.client.doJSON(ctx, http.MethodPost, kesPeriodPath, opcert, &resp); err != nil {
		return 0, fmt.Errorf("fetch kes period: %w", err)
	}
	return resp.KESPeriod, nil
}
