package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/canopy-network/certifier/pkg/buffer"
	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	host := os.Getenv("REDIS_HOST")
	if testing.Short() || host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	c := NewFromClient(rdb, fmt.Sprintf("test%d", time.Now().UnixNano()), 100, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSignatureBuffer(t *testing.T) {
	ctx := context.Background()
	buf := NewSignatureBuffer(newTestClient(t), time.Minute)

	assert.ErrorIs(t, buf.Buffer(ctx, entities.SingleSignature{PartyID: "a"}), buffer.ErrMissingOpenMessageID)

	for _, party := range []string{"a", "b"} {
		require.NoError(t, buf.Buffer(ctx, entities.SingleSignature{
			PartyID: party, OpenMessageID: "msg-1", LotteryIndexes: []uint64{1, 4}, Signature: "ff",
		}))
	}
	require.NoError(t, buf.Buffer(ctx, entities.SingleSignature{PartyID: "c", OpenMessageID: "msg-2", Signature: "ee"}))

	n, err := buf.Len(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	drained, err := buf.Drain(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].PartyID)
	assert.Equal(t, []uint64{1, 4}, drained[0].LotteryIndexes)

	again, err := buf.Drain(ctx, "msg-1")
	require.NoError(t, err)
	assert.Empty(t, again)

	other, err := buf.Drain(ctx, "msg-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSignatureBufferConcurrentDrain(t *testing.T) {
	ctx := context.Background()
	buf := NewSignatureBuffer(newTestClient(t), time.Minute)

	const total = 50
	drained := make(chan int, total)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < total; i++ {
		g.Go(func() error {
			return buf.Buffer(gctx, entities.SingleSignature{PartyID: fmt.Sprintf("p%d", i), OpenMessageID: "msg", Signature: "aa"})
		})
		g.Go(func() error {
			sigs, err := buf.Drain(gctx, "msg")
			drained <- len(sigs)
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(drained)

	seen := 0
	for n := range drained {
		seen += n
	}
	rest, err := buf.Drain(ctx, "msg")
	require.NoError(t, err)
	assert.Equal(t, total, seen+len(rest), "every signature drained exactly once")
}

func TestCertificateEvents(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	events := NewCertificateEvents(client)

	sub := client.Subscribe(ctx, events.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	cert := &entities.Certificate{
		ID:               "abc",
		ParentID:         "parent",
		Epoch:            7,
		SignedEntityType: entities.NewMithrilStakeDistribution(7),
		SealedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	events.CertificateSealed(ctx, cert)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event CertificateSealedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "abc", event.CertificateID)
	assert.Equal(t, entities.Epoch(7), event.Epoch)

	entries, err := client.XRange(ctx, events.Channel(), "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].Values["certificate_id"])
}
