package achievements_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmycity/civic-engine/achievements"
	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/issues"
	"github.com/fixmycity/civic-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*achievements.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveAccount(context.Background(), civic.Account{
		ID:   "acct-1",
		Name: "Asha",
	}))

	return achievements.NewEngine(store), store
}

func defineAchievement(t *testing.T, e *achievements.Engine, id string, kind civic.CriterionKind, target, reward int) {
	_, err := e.Define(context.Background(), civic.Achievement{
		ID:           civic.AchievementID(id),
		Name:         id,
		PointsReward: reward,
		Criterion:    civic.Criterion{Kind: kind, Target: target},
		Active:       true,
	})
	require.NoError(t, err)
}

func reportIssue(t *testing.T, store *sqlite.Store, reporter string) {
	w := issues.NewWorkflow(store)
	rid := civic.AccountID(reporter)
	_, err := w.Create(context.Background(), issues.NewIssue{
		ReporterID: &rid,
		Title:      "Streetlight out",
		Category:   civic.CategoryStreetLight,
		Latitude:   decimal.RequireFromString("12.9716"),
		Longitude:  decimal.RequireFromString("77.5946"),
	})
	require.NoError(t, err)
}

// =============================================================================
// GRANT SEMANTICS
// =============================================================================

func TestEvaluate_GrantsOnceWithReward(t *testing.T) {
	// GIVEN: A first-report achievement worth 10 points
	// WHEN: The account reports an issue and is evaluated
	// THEN: The grant lands once, with exactly one achievement ledger entry

	e, store := newTestEngine(t)
	ctx := context.Background()
	defineAchievement(t, e, "first-report", civic.CriterionIssuesReported, 1, 10)

	reportIssue(t, store, "acct-1")

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, civic.AchievementID("first-report"), granted[0].AchievementID)

	// Report reward (10) + achievement reward (10)
	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 20, acct.TotalPoints)

	entries, err := store.LedgerEntries(ctx, "acct-1", 10)
	require.NoError(t, err)
	var achEntries int
	for _, en := range entries {
		if en.Kind == civic.KindAchievement {
			achEntries++
		}
	}
	assert.Equal(t, 1, achEntries)
}

func TestEvaluate_RewardCascadesWithinOnePass(t *testing.T) {
	// GIVEN: A rewarded achievement whose payout crosses a points milestone
	// WHEN: One evaluation runs
	// THEN: Both grants land in the same call, no second pass needed

	e, store := newTestEngine(t)
	ctx := context.Background()

	// Evaluation order is reward-descending, so the payout lands before
	// the milestone is checked.
	defineAchievement(t, e, "first-report", civic.CriterionIssuesReported, 1, 100)
	defineAchievement(t, e, "century-club", civic.CriterionPointsEarned, 100, 0)

	reportIssue(t, store, "acct-1")

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, granted, 2)
	assert.Equal(t, civic.AchievementID("first-report"), granted[0].AchievementID)
	assert.Equal(t, civic.AchievementID("century-club"), granted[1].AchievementID)

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 110, acct.TotalPoints)
}

func TestEvaluate_NeverRegrants(t *testing.T) {
	// Re-evaluating after a grant is a no-op: no second grant, no second
	// reward entry, regardless of how often it runs.
	e, store := newTestEngine(t)
	ctx := context.Background()
	defineAchievement(t, e, "first-report", civic.CriterionIssuesReported, 1, 10)
	reportIssue(t, store, "acct-1")

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, granted, 1)

	for i := 0; i < 3; i++ {
		granted, err = e.EvaluateAndGrant(ctx, "acct-1")
		require.NoError(t, err)
		assert.Empty(t, granted)
	}

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 20, acct.TotalPoints)

	grants, err := store.GrantsForAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestEvaluate_ConcurrentEvaluations_SingleGrant(t *testing.T) {
	// GIVEN: 8 concurrent evaluations for the same account
	// THEN: The uniqueness constraint lets exactly one grant through and
	//       the losers skip silently

	e, store := newTestEngine(t)
	ctx := context.Background()
	defineAchievement(t, e, "first-report", civic.CriterionIssuesReported, 1, 10)
	reportIssue(t, store, "acct-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.EvaluateAndGrant(ctx, "acct-1")
			assert.NoError(t, err, "losing the grant race must not be an error")
		}()
	}
	wg.Wait()

	grants, err := store.GrantsForAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	// 10 for the report plus 10 for the single achievement reward
	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 20, acct.TotalPoints)
}

func TestEvaluate_UnsatisfiedAndInactiveSkipped(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	defineAchievement(t, e, "neighborhood-watch", civic.CriterionIssuesReported, 10, 50)
	_, err := e.Define(ctx, civic.Achievement{
		ID:        "retired-badge",
		Name:      "Retired",
		Criterion: civic.Criterion{Kind: civic.CriterionIssuesReported, Target: 1},
		Active:    false,
	})
	require.NoError(t, err)

	reportIssue(t, store, "acct-1")

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, granted, "unmet target and inactive definitions grant nothing")
}

func TestEvaluate_UnknownCriterionKindNeverGrants(t *testing.T) {
	// A definition with an unrecognized criterion kind (written by an older
	// or newer deploy) must be ignored, not granted.
	e, store := newTestEngine(t)
	ctx := context.Background()

	// Bypass Define's validation to simulate a foreign row in the catalog.
	require.NoError(t, store.SaveAchievement(ctx, civic.Achievement{
		ID:           "streak-master",
		Name:         "Streak Master",
		PointsReward: 500,
		Criterion:    civic.Criterion{Kind: civic.CriterionKind("longest_streak"), Target: 1},
		Active:       true,
	}))

	reportIssue(t, store, "acct-1")

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, granted)
}

func TestEvaluate_PointsMilestone(t *testing.T) {
	// GIVEN: A 100-point milestone achievement
	// WHEN: The balance crosses 100 via an adjustment
	// THEN: Evaluation grants it

	e, store := newTestEngine(t)
	ctx := context.Background()
	defineAchievement(t, e, "century-club", civic.CriterionPointsEarned, 100, 25)

	require.NoError(t, store.WithTx(ctx, func(tx civic.Store) error {
		if err := tx.AppendLedgerEntry(ctx, civic.LedgerEntry{
			ID: "seed-entry", AccountID: "acct-1", Points: 100,
			Kind: civic.KindAdminAdjustment,
		}); err != nil {
			return err
		}
		return tx.AddPoints(ctx, "acct-1", 100)
	}))

	granted, err := e.EvaluateAndGrant(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, civic.AchievementID("century-club"), granted[0].AchievementID)
}

func TestEvaluate_UnknownAccount(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.EvaluateAndGrant(context.Background(), "ghost")
	assert.ErrorIs(t, err, civic.ErrAccountNotFound)
}

// =============================================================================
// DEFINE VALIDATION
// =============================================================================

func TestDefine_RejectsBadCriteria(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Define(ctx, civic.Achievement{
		Name:      "Bad",
		Criterion: civic.Criterion{Kind: "longest_streak", Target: 5},
	})
	assert.Error(t, err)

	_, err = e.Define(ctx, civic.Achievement{
		Name:      "Bad",
		Criterion: civic.Criterion{Kind: civic.CriterionIssuesReported, Target: 0},
	})
	assert.Error(t, err)
}

// =============================================================================
// SEEDING
// =============================================================================

func TestSeed_Idempotent(t *testing.T) {
	_, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, achievements.Seed(ctx, store))
	first, err := store.ListAchievements(ctx, false)
	require.NoError(t, err)
	assert.Len(t, first, len(achievements.DefaultCatalog()))

	// Operator deactivates one; a reseed must not undo that.
	edited := first[0]
	edited.Active = false
	require.NoError(t, store.SaveAchievement(ctx, edited))

	require.NoError(t, achievements.Seed(ctx, store))
	after, err := store.ListAchievements(ctx, false)
	require.NoError(t, err)
	assert.Len(t, after, len(first))

	got, err := store.GetAchievement(ctx, edited.ID)
	require.NoError(t, err)
	assert.False(t, got.Active, "seed must not overwrite operator edits")
}
