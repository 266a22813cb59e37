package aggregator

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	storage "github.com/canopy-network/certifier/pkg/db"
	"github.com/canopy-network/certifier/pkg/db/dbtest"
	"github.com/canopy-network/certifier/pkg/db/postgres"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Runs against the server in POSTGRES_URL, one fresh database per subtest.
func TestStore(t *testing.T) {
	if testing.Short() || os.Getenv("POSTGRES_URL") == "" {
		t.Skip("POSTGRES_URL not set")
	}

	dbtest.RunStoreSuite(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		name := fmt.Sprintf("certifier_test_%d", time.Now().UnixNano())
		store, err := NewWithPoolConfig(ctx, zaptest.NewLogger(t), name, *postgres.GetPoolConfigForComponent("test"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
