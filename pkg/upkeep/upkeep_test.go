package upkeep

import (
	"context"
	"errors"
	"testing"

	"github.com/canopy-network/certifier/pkg/entities"
	"github.com/canopy-network/certifier/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockMaintainer struct {
	mock.Mock
}

func (m *mockMaintainer) Vacuum(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestRunVacuumsWhenNothingLocked(t *testing.T) {
	maintainer := &mockMaintainer{}
	maintainer.On("Vacuum", mock.Anything).Return(nil).Once()

	svc := NewService(maintainer, lock.New(), zaptest.NewLogger(t))
	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	maintainer.AssertExpectations(t)
}

func TestRunSkipsWhileLocked(t *testing.T) {
	maintainer := &mockMaintainer{}
	locks := lock.New()
	locks.Lock(entities.CardanoDatabase)

	svc := NewService(maintainer, locks, zaptest.NewLogger(t))
	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []entities.SignedEntityTypeDiscriminant{entities.CardanoDatabase}, res.Locked)
	maintainer.AssertNotCalled(t, "Vacuum", mock.Anything)

	locks.Release(entities.CardanoDatabase)
	maintainer.On("Vacuum", mock.Anything).Return(errors.New("vacuum failed")).Once()
	_, err = svc.Run(context.Background())
	assert.EqualError(t, err, "vacuum failed")
}
