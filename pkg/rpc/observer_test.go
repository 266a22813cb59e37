package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/observer"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case timePointPath:
			_ = json.NewEncoder(w).Encode(timePointResponse{Epoch: 12, ImmutableFileNumber: 340, BlockNumber: 9001})
		case stakeDistributionPath:
			var req epochRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Epoch != 12 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode([]stakeEntry{
				{PartyID: "pool-a", Stake: 100},
				{PartyID: "pool-b", Stake: 0},
				{PartyID: "pool-c", Stake: 30},
			})
		case kesPeriodPath:
			var opcert entities.OperationalCertificate
			require.NoError(t, json.NewDecoder(r.Body).Decode(&opcert))
			assert.Equal(t, uint64(3), opcert.IssueNumber)
			_ = json.NewEncoder(w).Encode(kesPeriodResponse{KESPeriod: 17})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	node := newNode(t)
	o := NewObserver(NewHTTPWithOpts(Opts{Endpoints: []string{node.URL}}))

	tp, err := o.CurrentTimePoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, observer.TimePoint{Epoch: 12, ImmutableFileNumber: 340, BlockNumber: 9001}, tp)

	e, err := o.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.Epoch(12), e)

	sd, err := o.CurrentStakeDistribution(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, entities.StakeDistribution{"pool-a": 100, "pool-c": 30}, sd)

	_, err = o.CurrentStakeDistribution(ctx, 11)
	assert.ErrorIs(t, err, observer.ErrNoStakeDistribution)

	period, err := o.CurrentKESPeriod(ctx, entities.OperationalCertificate{IssueNumber: 3})
	require.NoError(t, err)
	assert.Equal(t, entities.KESPeriod(17), period)
}

func TestHTTPClientFailsOver(t *testing.T) {
	var brokenCalls atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		brokenCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	node := newNode(t)

	client := NewHTTPWithOpts(Opts{
		Endpoints:       []string{broken.URL, node.URL},
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})
	o := NewObserver(client)

	for i := 0; i < 4; i++ {
		tp, err := o.CurrentTimePoint(context.Background())
		require.NoError(t, err)
		assert.Equal(t, entities.Epoch(12), tp.Epoch)
	}
	assert.Equal(t, int32(2), brokenCalls.Load(), "breaker opens after two failures")
}

func TestHTTPClientNoEndpoints(t *testing.T) {
	_, err := NewObserver(NewHTTPWithOpts(Opts{})).CurrentTimePoint(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestHTTPClientHonoursContext(t *testing.T) {
	node := newNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewObserver(NewHTTPWithOpts(Opts{Endpoints: []string{node.URL}})).CurrentTimePoint(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
