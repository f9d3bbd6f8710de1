package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/ledger"
	"github.com/fixmycity/civic-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.PointsLedger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveAccount(context.Background(), civic.Account{
		ID:   "acct-1",
		Name: "Asha",
	}))

	return ledger.NewPointsLedger(store), store
}

func entry(account string, points int, kind civic.EntryKind) civic.LedgerEntry {
	return civic.LedgerEntry{
		AccountID: civic.AccountID(account),
		Points:    points,
		Kind:      kind,
	}
}

// =============================================================================
// BALANCE INVARIANT TESTS
// =============================================================================

func TestLedger_BalanceEqualsSumOfEntries(t *testing.T) {
	// GIVEN: A series of appends of mixed kinds
	// THEN: The cached balance always equals the sum of the entries

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("acct-1", 10, civic.KindReport)))
	require.NoError(t, l.Append(ctx, entry("acct-1", 2, civic.KindUpvoteReceived)))
	require.NoError(t, l.Append(ctx, entry("acct-1", 50, civic.KindResolution)))
	require.NoError(t, l.Append(ctx, entry("acct-1", -5, civic.KindAdminAdjustment)))

	summary, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 57, summary.Balance)

	sum, err := store.SumLedger(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, summary.Balance, sum, "cache must equal sum of entries")

	assert.NoError(t, l.Audit(ctx, "acct-1"))
}

func TestLedger_ConcurrentAppends_NoLostUpdate(t *testing.T) {
	// GIVEN: 20 goroutines appending +2 to the same account at once
	// THEN: All 20 increments land; the relative UPDATE cannot lose one

	l, store := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, entry("acct-1", 2, civic.KindUpvoteReceived)))
		}()
	}
	wg.Wait()

	summary, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 40, summary.Balance)

	entries, err := store.LedgerEntries(ctx, "acct-1", 100)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestLedger_UnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Appending to a nonexistent account fails and leaves no entry behind
	err := l.Append(ctx, entry("ghost", 10, civic.KindReport))
	assert.ErrorIs(t, err, civic.ErrAccountNotFound)

	_, err = l.Balance(ctx, "ghost")
	assert.ErrorIs(t, err, civic.ErrAccountNotFound)
}

func TestLedger_AppendRejectsUnknownKind(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Append(context.Background(), entry("acct-1", 10, civic.EntryKind("bribe")))
	assert.Error(t, err)
}

// =============================================================================
// LEVEL DERIVATION TESTS
// =============================================================================

func TestLevelFor_Boundaries(t *testing.T) {
	cases := []struct {
		balance int
		level   int
		toNext  int
	}{
		{0, 1, 100},
		{99, 1, 1},
		{100, 2, 100},
		{199, 2, 1},
		{250, 3, 50},
		{-10, 1, 100}, // negative balances clamp to level 1
	}
	for _, c := range cases {
		level, toNext := ledger.LevelFor(c.balance)
		assert.Equal(t, c.level, level, "balance %d", c.balance)
		assert.Equal(t, c.toNext, toNext, "balance %d", c.balance)
	}
}

func TestLedger_LevelCrossesBoundary(t *testing.T) {
	// GIVEN: An account at 95 points
	// WHEN: A +10 entry lands
	// THEN: The derived level moves from 1 to 2 with no stored level field

	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("acct-1", 95, civic.KindAdminAdjustment)))

	summary, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Level)
	assert.Equal(t, 5, summary.PointsToNextLevel)

	require.NoError(t, l.Append(ctx, entry("acct-1", 10, civic.KindUpvoteReceived)))

	summary, err = l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 105, summary.Balance)
	assert.Equal(t, 2, summary.Level)
	assert.Equal(t, 95, summary.PointsToNextLevel)
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestLedger_AdjustAppendsCompensatingEntry(t *testing.T) {
	// GIVEN: A mistaken +50 credit
	// WHEN: An admin applies a -50 adjustment
	// THEN: Both entries remain in history; the balance nets to the original

	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("acct-1", 50, civic.KindResolution)))
	require.NoError(t, l.Adjust(ctx, "acct-1", -50, "resolution credited twice"))

	summary, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Balance)

	history, err := l.History(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2, "correction must not erase the original entry")
	assert.Equal(t, civic.KindAdminAdjustment, history[0].Kind)
	assert.Equal(t, "resolution credited twice", history[0].Description)

	assert.NoError(t, l.Audit(ctx, "acct-1"))
}

func TestLedger_ResolutionBonusOncePerIssue(t *testing.T) {
	// GIVEN: A resolution bonus already credited for an issue
	// WHEN: The same issue is credited again
	// THEN: The append is rejected and the balance keeps exactly one credit

	l, store := newTestLedger(t)
	ctx := context.Background()

	iss := civic.IssueID("iss-1")
	e := entry("acct-1", 50, civic.KindResolution)
	e.IssueID = &iss
	require.NoError(t, l.Append(ctx, e))

	err := l.Append(ctx, e)
	assert.ErrorIs(t, err, civic.ErrDuplicateEntry)

	summary, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 50, summary.Balance)

	sum, err := store.SumLedger(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 50, sum, "rejected append must leave no entry behind")
}

func TestLedger_HistoryNewestFirst(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry("acct-1", 10, civic.KindReport)))
	require.NoError(t, l.Append(ctx, entry("acct-1", 2, civic.KindUpvoteReceived)))
	require.NoError(t, l.Append(ctx, entry("acct-1", 50, civic.KindResolution)))

	history, err := l.History(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, civic.KindResolution, history[0].Kind)
	assert.Equal(t, civic.KindUpvoteReceived, history[1].Kind)
}
