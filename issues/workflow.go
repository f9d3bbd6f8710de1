/*
Package issues implements the civic issue workflow: reporting, status
transitions with an audit trail, and the upvote guard.

PURPOSE:
  Each exported operation is one atomic unit of work. Create, Transition,
  and Upvote each open a single store transaction and perform every write
  they own inside it, so a crash or a concurrent request can never observe
  an issue whose status, audit trail, upvote counter, and reward entries
  disagree.

UPVOTE GUARD:
  Deduplication is NOT "check then insert" - that ordering is racy when two
  requests for the same (issue, voter) pair run concurrently. The insert
  itself carries the uniqueness constraint; a rejection rolls the whole
  transaction back (no counter bump, no reward) and surfaces as
  ErrDuplicateVote. Replaying the call any number of times changes nothing.

REWARDS:
  Creation credits the reporter inside the creating transaction. Upvotes
  credit the reporter inside the voting transaction. The resolution bonus
  is a caller-level follow-up (see api), because the state machine itself
  owns no ledger writes.
*/
package issues

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/ledger"
)

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

// Workflow coordinates issue writes against the store.
type Workflow struct {
	Store   civic.Store
	Policy  civic.TransitionPolicy
	Rewards ledger.RewardSchedule
}

// NewWorkflow creates a workflow with the default transition policy and
// reward schedule.
func NewWorkflow(store civic.Store) *Workflow {
	return &Workflow{
		Store:   store,
		Policy:  civic.DefaultTransitionPolicy(),
		Rewards: ledger.DefaultRewards(),
	}
}

// =============================================================================
// CREATE
// =============================================================================

// NewIssue carries the validated inputs for an issue report. MediaRefs and
// AIDetection are opaque payloads from the media/AI collaborator.
type NewIssue struct {
	ReporterID  *civic.AccountID // nil for anonymous reports
	Title       string
	Description string
	Category    civic.Category
	Priority    civic.Priority // empty defaults to medium
	Latitude    decimal.Decimal
	Longitude   decimal.Decimal
	Address     string
	City        string
	MediaRefs   []string
	AIDetection []byte
}

// Create records a new issue in the reported state, writes the initial
// (none -> reported) audit row, and credits the reporter the report reward.
// All three writes commit atomically.
func (w *Workflow) Create(ctx context.Context, in NewIssue) (*civic.Issue, error) {
	if !in.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", civic.ErrInvalidCategory, in.Category)
	}
	if in.Priority == "" {
		in.Priority = civic.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", civic.ErrInvalidPriority, in.Priority)
	}
	if in.Latitude.Abs().GreaterThan(maxLatitude) || in.Longitude.Abs().GreaterThan(maxLongitude) {
		return nil, fmt.Errorf("%w: (%s, %s)", civic.ErrInvalidCoordinates, in.Latitude, in.Longitude)
	}

	now := time.Now().UTC()
	issue := &civic.Issue{
		ID:          civic.IssueID(uuid.NewString()),
		ReporterID:  in.ReporterID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      civic.StatusReported,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Address:     in.Address,
		City:        in.City,
		MediaRefs:   in.MediaRefs,
		AIDetection: in.AIDetection,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := w.Store.WithTx(ctx, func(tx civic.Store) error {
		if err := tx.InsertIssue(ctx, issue); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, civic.StatusTransition{
			ID:        uuid.NewString(),
			IssueID:   issue.ID,
			From:      nil, // creation row
			To:        civic.StatusReported,
			ActorID:   in.ReporterID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if in.ReporterID == nil {
			return nil
		}
		return ledger.Record(ctx, tx, civic.LedgerEntry{
			AccountID:   *in.ReporterID,
			Points:      w.Rewards.Report,
			Kind:        civic.KindReport,
			IssueID:     &issue.ID,
			Description: fmt.Sprintf("Reported %s issue", issue.Category),
		})
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition moves an issue to a new status under the workflow policy,
// stamping the resolution timestamp for resolving statuses and recording the
// assignee when an actor is supplied. The status write and its audit row
// commit together; the current status is read inside the same transaction
// so the legality check never runs against a stale value.
func (w *Workflow) Transition(ctx context.Context, id civic.IssueID, to civic.Status, actor *civic.AccountID, note string) (*civic.Issue, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", civic.ErrUnknownStatus, to)
	}

	var updated *civic.Issue
	err := w.Store.WithTx(ctx, func(tx civic.Store) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		if issue == nil {
			return civic.ErrIssueNotFound
		}
		if !w.Policy.Allowed(issue.Status, to) {
			return &civic.TransitionError{IssueID: id, From: issue.Status, To: to}
		}

		now := time.Now().UTC()
		var resolvedAt *time.Time
		if to.Resolving() {
			// Keep the first resolution time across resolved -> closed.
			resolvedAt = issue.ResolvedAt
			if resolvedAt == nil {
				resolvedAt = &now
			}
		}
		if err := tx.SetIssueStatus(ctx, id, to, resolvedAt, actor, note); err != nil {
			return err
		}
		from := issue.Status
		if err := tx.AppendTransition(ctx, civic.StatusTransition{
			ID:        uuid.NewString(),
			IssueID:   id,
			From:      &from,
			To:        to,
			ActorID:   actor,
			Note:      note,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		// Snapshot for the caller without a second round trip. Mirrors the
		// store's writes exactly: resolution fields live only while the
		// status is resolving and are cleared on a reopen.
		issue.Status = to
		issue.ResolvedAt = resolvedAt
		if actor != nil {
			issue.AssignedTo = actor
		}
		if to.Resolving() {
			if note != "" {
				issue.ResolutionNotes = note
			}
		} else {
			issue.ResolutionNotes = ""
		}
		issue.UpdatedAt = now
		updated = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// UPVOTE GUARD
// =============================================================================

// Upvote records one account's endorsement of an issue. At most one vote per
// (issue, voter) pair ever lands; duplicates fail with ErrDuplicateVote and
// have no other effect. On success the vote row, the counter increment, and
// the reporter's reward entry commit atomically.
func (w *Workflow) Upvote(ctx context.Context, id civic.IssueID, voter civic.AccountID) error {
	return w.Store.WithTx(ctx, func(tx civic.Store) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		if issue == nil {
			return civic.ErrIssueNotFound
		}
		if issue.ReporterID != nil && *issue.ReporterID == voter {
			return civic.ErrSelfVote
		}

		// The UNIQUE constraint is the dedupe check. No pre-read.
		if err := tx.InsertUpvote(ctx, civic.Upvote{
			IssueID:   id,
			VoterID:   voter,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.IncrementUpvotes(ctx, id); err != nil {
			return err
		}
		if issue.ReporterID == nil {
			return nil // anonymous reports earn nobody points
		}
		return ledger.Record(ctx, tx, civic.LedgerEntry{
			AccountID:   *issue.ReporterID,
			Points:      w.Rewards.UpvoteReceived,
			Kind:        civic.KindUpvoteReceived,
			IssueID:     &id,
			Description: "Issue upvoted by another user",
		})
	})
}
