package lock

import (
	"testing"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/stretchr/testify/assert"
)

func TestSignedEntityTypeLock(t *testing.T) {
	l := New()
	assert.False(t, l.HasLockedEntities())

	assert.True(t, l.Lock(entities.CardanoTransactions))
	assert.False(t, l.Lock(entities.CardanoTransactions), "second lock reports already held")
	assert.True(t, l.Lock(entities.MithrilStakeDistribution))

	assert.True(t, l.HasLockedEntities())
	assert.True(t, l.IsLocked(entities.CardanoTransactions))
	assert.Equal(t, []entities.SignedEntityTypeDiscriminant{entities.MithrilStakeDistribution, entities.CardanoTransactions}, l.LockedEntities())
	assert.Equal(t,
		[]entities.SignedEntityTypeDiscriminant{entities.CardanoStakeDistribution, entities.CardanoDatabase},
		l.FilterUnlocked([]entities.SignedEntityTypeDiscriminant{entities.CardanoStakeDistribution, entities.CardanoTransactions, entities.CardanoDatabase}),
	)

	l.Release(entities.CardanoTransactions)
	l.Release(entities.MithrilStakeDistribution)
	assert.False(t, l.HasLockedEntities())
	assert.False(t, l.IsLocked(entities.CardanoTransactions))
}
