package ledger

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantafe/tokensentry/internal/domain"
)

func testLedger(capital float64) *Ledger {
	return New(capital, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuthorizeAndSettle(t *testing.T) {
	l := testLedger(10000)

	require.NoError(t, l.Authorize(1000))
	assert.Equal(t, 9000.0, l.Available())

	// Settle the position back with a 200 profit.
	l.Settle(1200, 200)
	assert.Equal(t, 10200.0, l.Available())
	assert.Equal(t, 200.0, l.RealizedPnL())
}

func TestAuthorizeInsufficientDoesNotMutate(t *testing.T) {
	l := testLedger(500)

	err := l.Authorize(501)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)
	assert.Equal(t, 500.0, l.Available())

	err = l.Authorize(0)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)
	assert.Equal(t, 500.0, l.Available())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := testLedger(10000)
	require.NoError(t, l.Authorize(2500))
	l.Settle(1000, -150)

	snap := l.Snapshot()
	assert.Equal(t, 10000.0, snap.TotalCapital)
	assert.Equal(t, 8500.0, snap.AvailableCapital)
	assert.Equal(t, -150.0, snap.RealizedPnLTotal)

	fresh := testLedger(0)
	fresh.Restore(snap)
	assert.Equal(t, 8500.0, fresh.Available())
	assert.Equal(t, -150.0, fresh.RealizedPnL())
}

func TestConcurrentSettlementsAreSerialized(t *testing.T) {
	l := testLedger(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Settle(10, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, l.Available())
	assert.Equal(t, 100.0, l.RealizedPnL())
}
