// journal/journal_test.go
package journal

import (
	"testing"

	"auto_kis_go/exits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordEntry(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	require.NoError(t, j.RecordEntry("ABCD", "NASD", 10, 4.20, "ORD-1"))

	var ticker, orderNo string
	var qty int64
	row := j.db.QueryRow(`SELECT ticker, quantity, order_no FROM entries`)
	require.NoError(t, row.Scan(&ticker, &qty, &orderNo))
	assert.Equal(t, "ABCD", ticker)
	assert.Equal(t, int64(10), qty)
	assert.Equal(t, "ORD-1", orderNo)
}

func TestRecordExit(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	require.NoError(t, j.RecordExit(exits.Event{
		Reason:    exits.ReasonStagedTake,
		Ticker:    "ABCD",
		Quantity:  30,
		Price:     4.83,
		StageFrom: 0,
		StageTo:   1,
		ProfitPct: 16.2,
		PeakPct:   16.2,
	}))

	var reason string
	var stageTo int
	row := j.db.QueryRow(`SELECT reason, stage_to FROM exits`)
	require.NoError(t, row.Scan(&reason, &stageTo))
	assert.Equal(t, exits.ReasonStagedTake, reason)
	assert.Equal(t, 1, stageTo)
}

func TestExitIDsAreUnique(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordExit(exits.Event{Reason: exits.ReasonStopLoss, Ticker: "ABCD"}))
	}

	var count int
	row := j.db.QueryRow(`SELECT COUNT(DISTINCT exit_id) FROM exits`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 5, count)
}
