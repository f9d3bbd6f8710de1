package issues_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/issues"
	"github.com/fixmycity/civic-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestWorkflow(t *testing.T) (*issues.Workflow, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, civic.Account{ID: "reporter-1", Name: "Asha"}))
	require.NoError(t, store.SaveAccount(ctx, civic.Account{ID: "voter-1", Name: "Binh"}))
	require.NoError(t, store.SaveAccount(ctx, civic.Account{ID: "voter-2", Name: "Carla"}))

	return issues.NewWorkflow(store), store
}

func reportedBy(account string) issues.NewIssue {
	rid := civic.AccountID(account)
	return issues.NewIssue{
		ReporterID: &rid,
		Title:      "Deep pothole near the bus stop",
		Category:   civic.CategoryPothole,
		Latitude:   decimal.RequireFromString("12.971599"),
		Longitude:  decimal.RequireFromString("77.594566"),
		City:       "Bengaluru",
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ReporterEarnsReportReward(t *testing.T) {
	// GIVEN: A registered reporter
	// WHEN: They report an issue
	// THEN: The issue starts in reported, the audit trail has the creation
	//       row, and the reporter is credited the report reward atomically

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)
	assert.Equal(t, civic.StatusReported, issue.Status)
	assert.Equal(t, 0, issue.Upvotes)

	trs, err := store.Transitions(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Nil(t, trs[0].From, "creation row has no prior status")
	assert.Equal(t, civic.StatusReported, trs[0].To)

	acct, err := store.GetAccount(ctx, "reporter-1")
	require.NoError(t, err)
	assert.Equal(t, w.Rewards.Report, acct.TotalPoints)

	entries, err := store.LedgerEntries(ctx, "reporter-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, civic.KindReport, entries[0].Kind)
	require.NotNil(t, entries[0].IssueID)
	assert.Equal(t, issue.ID, *entries[0].IssueID)
}

func TestCreate_AnonymousEarnsNothing(t *testing.T) {
	// An anonymous report is accepted but credits nobody.
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	in := reportedBy("reporter-1")
	in.ReporterID = nil
	issue, err := w.Create(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, issue.ReporterID)

	acct, err := store.GetAccount(ctx, "reporter-1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.TotalPoints)
}

func TestCreate_Validation(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	in := reportedBy("reporter-1")
	in.Category = "quantum_anomaly"
	_, err := w.Create(ctx, in)
	assert.ErrorIs(t, err, civic.ErrInvalidCategory)

	in = reportedBy("reporter-1")
	in.Priority = "urgent-ish"
	_, err = w.Create(ctx, in)
	assert.ErrorIs(t, err, civic.ErrInvalidPriority)

	in = reportedBy("reporter-1")
	in.Latitude = decimal.RequireFromString("91")
	_, err = w.Create(ctx, in)
	assert.ErrorIs(t, err, civic.ErrInvalidCoordinates)
}

func TestCreate_PriorityDefaultsToMedium(t *testing.T) {
	w, _ := newTestWorkflow(t)

	issue, err := w.Create(context.Background(), reportedBy("reporter-1"))
	require.NoError(t, err)
	assert.Equal(t, civic.PriorityMedium, issue.Priority)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestTransition_AuditTrailGrows(t *testing.T) {
	// GIVEN: A reported issue
	// WHEN: It moves reported -> verified -> assigned
	// THEN: Each hop adds exactly one immutable audit row

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.StatusVerified, nil, "confirmed on site")
	require.NoError(t, err)

	crew := civic.AccountID("crew-7")
	updated, err := w.Transition(ctx, issue.ID, civic.StatusAssigned, &crew, "")
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, crew, *updated.AssignedTo)

	trs, err := store.Transitions(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, trs, 3)
	assert.Equal(t, civic.StatusVerified, trs[1].To)
	require.NotNil(t, trs[1].From)
	assert.Equal(t, civic.StatusReported, *trs[1].From)
	assert.Equal(t, "confirmed on site", trs[1].Note)
	assert.Equal(t, civic.StatusAssigned, trs[2].To)
}

func TestTransition_ResolvedStampsTimestamp(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	for _, s := range []civic.Status{
		civic.StatusVerified, civic.StatusAssigned, civic.StatusInProgress,
	} {
		_, err = w.Transition(ctx, issue.ID, s, nil, "")
		require.NoError(t, err)
	}

	resolved, err := w.Transition(ctx, issue.ID, civic.StatusResolved, nil, "patched")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt, "resolving must stamp the timestamp")
	assert.Equal(t, "patched", resolved.ResolutionNotes)
}

func TestTransition_NoteOnVerifyStaysInAuditOnly(t *testing.T) {
	// GIVEN: A verification hop carrying a note
	// THEN: The note lands in the audit row, never in resolution_notes

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	updated, err := w.Transition(ctx, issue.ID, civic.StatusVerified, nil, "looks real")
	require.NoError(t, err)
	assert.Empty(t, updated.ResolutionNotes)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ResolutionNotes)

	trs, err := store.Transitions(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, "looks real", trs[1].Note)
}

func TestTransition_ReopenClearsResolutionStamp(t *testing.T) {
	// GIVEN: A workflow on the any-to-any policy and a resolved issue
	// WHEN: The issue is reopened
	// THEN: Stamp and notes are gone from the snapshot and the store alike

	w, store := newTestWorkflow(t)
	w.Policy = civic.PermissiveTransitionPolicy()
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	resolved, err := w.Transition(ctx, issue.ID, civic.StatusResolved, nil, "patched")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "patched", resolved.ResolutionNotes)

	reopened, err := w.Transition(ctx, issue.ID, civic.StatusReported, nil, "")
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Empty(t, reopened.ResolutionNotes)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, civic.StatusReported, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Empty(t, got.ResolutionNotes)
}

func TestTransition_IllegalHopRejected(t *testing.T) {
	// GIVEN: A freshly reported issue
	// WHEN: Someone tries to resolve it directly
	// THEN: The transition fails, the status is unchanged, no audit row lands

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.StatusResolved, nil, "")
	assert.ErrorIs(t, err, civic.ErrIllegalTransition)

	var trErr *civic.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, civic.StatusReported, trErr.From)
	assert.Equal(t, civic.StatusResolved, trErr.To)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, civic.StatusReported, got.Status)

	trs, err := store.Transitions(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, trs, 1, "rejected transition must not add an audit row")
}

func TestTransition_UnknownStatusAndMissingIssue(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.Status("escalated"), nil, "")
	assert.ErrorIs(t, err, civic.ErrUnknownStatus)

	_, err = w.Transition(ctx, "no-such-issue", civic.StatusVerified, nil, "")
	assert.ErrorIs(t, err, civic.ErrIssueNotFound)
}

func TestTransition_PermissivePolicySkipsStages(t *testing.T) {
	// GIVEN: A workflow running the legacy any-to-any policy
	// WHEN: An issue jumps reported -> verified -> resolved
	// THEN: Both hops land, with exactly two more audit rows and a stamp

	w, store := newTestWorkflow(t)
	w.Policy = civic.PermissiveTransitionPolicy()
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.StatusVerified, nil, "")
	require.NoError(t, err)
	resolved, err := w.Transition(ctx, issue.ID, civic.StatusResolved, nil, "")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)

	trs, err := store.Transitions(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, trs, 3)
	assert.Equal(t, civic.StatusResolved, trs[2].To)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.StatusRejected, nil, "duplicate report")
	require.NoError(t, err)

	_, err = w.Transition(ctx, issue.ID, civic.StatusVerified, nil, "")
	assert.ErrorIs(t, err, civic.ErrIllegalTransition)
}

// =============================================================================
// UPVOTES
// =============================================================================

func TestUpvote_CreditsReporter(t *testing.T) {
	// GIVEN: An issue by reporter-1
	// WHEN: voter-1 upvotes it
	// THEN: Counter increments and the reporter earns the upvote reward

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	require.NoError(t, w.Upvote(ctx, issue.ID, "voter-1"))

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Upvotes)

	acct, err := store.GetAccount(ctx, "reporter-1")
	require.NoError(t, err)
	assert.Equal(t, w.Rewards.Report+w.Rewards.UpvoteReceived, acct.TotalPoints)
}

func TestUpvote_DuplicateIsRejectedWithNoSideEffects(t *testing.T) {
	// GIVEN: voter-1 already upvoted the issue
	// WHEN: voter-1 votes again
	// THEN: ErrDuplicateVote; the counter and the reporter's points are
	//       exactly as after the first vote

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	require.NoError(t, w.Upvote(ctx, issue.ID, "voter-1"))
	err = w.Upvote(ctx, issue.ID, "voter-1")
	assert.ErrorIs(t, err, civic.ErrDuplicateVote)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Upvotes, "duplicate vote must not bump the counter")

	acct, err := store.GetAccount(ctx, "reporter-1")
	require.NoError(t, err)
	assert.Equal(t, w.Rewards.Report+w.Rewards.UpvoteReceived, acct.TotalPoints,
		"duplicate vote must not credit points")

	// A different voter still lands
	require.NoError(t, w.Upvote(ctx, issue.ID, "voter-2"))
	got, err = store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Upvotes)
}

func TestUpvote_ConcurrentSameVoter_ExactlyOneLands(t *testing.T) {
	// GIVEN: 10 concurrent votes from the same voter
	// THEN: Exactly one succeeds; the rest fail with ErrDuplicateVote

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- w.Upvote(ctx, issue.ID, "voter-1")
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, civic.ErrDuplicateVote):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, dup)

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Upvotes)
}

func TestUpvote_SelfVoteRejected(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	issue, err := w.Create(ctx, reportedBy("reporter-1"))
	require.NoError(t, err)

	err = w.Upvote(ctx, issue.ID, "reporter-1")
	assert.ErrorIs(t, err, civic.ErrSelfVote)
}

func TestUpvote_AnonymousIssueCreditsNobody(t *testing.T) {
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	in := reportedBy("reporter-1")
	in.ReporterID = nil
	issue, err := w.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, w.Upvote(ctx, issue.ID, "voter-1"))

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Upvotes)

	sum, err := store.SumLedger(ctx, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

func TestUpvote_MissingIssue(t *testing.T) {
	w, _ := newTestWorkflow(t)

	err := w.Upvote(context.Background(), "no-such-issue", "voter-1")
	assert.ErrorIs(t, err, civic.ErrIssueNotFound)
}
