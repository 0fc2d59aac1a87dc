// Package repotest provides an in-memory ledger store for tests.
package repotest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/repository"
	"github.com/core-coin/settlement/pkg/logger"
)

var seq atomic.Int64

// New opens a fresh in-memory sqlite store that is closed when the test ends.
func New(t testing.TB) *repository.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", seq.Add(1))
	store, err := repository.NewSQLiteDB(dsn, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
