package buffer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBufferDrain(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer()

	require.NoError(t, b.Buffer(ctx, entities.SingleSignature{PartyID: "a", OpenMessageID: "m1"}))
	require.NoError(t, b.Buffer(ctx, entities.SingleSignature{PartyID: "b", OpenMessageID: "m1"}))
	require.NoError(t, b.Buffer(ctx, entities.SingleSignature{PartyID: "c", OpenMessageID: "m2"}))
	assert.Equal(t, 2, b.Len("m1"))

	sigs, err := b.Drain(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "a", sigs[0].PartyID)
	assert.Equal(t, "b", sigs[1].PartyID)

	sigs, err = b.Drain(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, sigs)

	assert.Equal(t, 1, b.Len("m2"))
	assert.ErrorIs(t, b.Buffer(ctx, entities.SingleSignature{PartyID: "x"}), ErrMissingOpenMessageID)
}

func TestMemoryBufferConcurrentDrainLosesNothing(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer()
	const producers, perProducer = 8, 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		drained []entities.SingleSignature
		done    = make(chan struct{})
	)

	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			sigs, err := b.Drain(ctx, "m")
			assert.NoError(t, err)
			mu.Lock()
			drained = append(drained, sigs...)
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, b.Buffer(ctx, entities.SingleSignature{PartyID: fmt.Sprintf("%d-%d", p, i), OpenMessageID: "m"}))
			}
		}(p)
	}
	wg.Wait()
	close(done)
	<-drainerDone

	rest, err := b.Drain(ctx, "m")
	require.NoError(t, err)
	drained = append(drained, rest...)

	seen := map[string]int{}
	for _, s := range drained {
		seen[s.PartyID]++
	}
	assert.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		assert.Equal(t, 1, n, "signature %s drained more than once", id)
	}
}
