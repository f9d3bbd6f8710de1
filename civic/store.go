/*
store.go - Persistence contract for the civic engine

PURPOSE:
  One interface covering the six tables the engine owns. The sqlite package
  implements it twice: once against the database handle, and once against an
  open transaction, so multi-write operations compose inside WithTx.

TRANSACTIONAL DISCIPLINE:
  - Every multi-write core operation (create issue, transition, upvote,
    grant) runs inside one WithTx call; either all of its writes commit or
    none do.
  - AddPoints and IncrementUpvotes are relative increments executed in SQL.
    There is deliberately no "set balance" or "set upvote count" method, so
    the read-modify-write lost-update bug cannot be written against this
    interface.
  - InsertUpvote and InsertGrant rely on storage-level UNIQUE constraints and
    surface rejections as ErrDuplicateVote / ErrDuplicateGrant. Callers must
    not pre-check existence; the constraint IS the check.
*/
package civic

import (
	"context"
	"time"
)

// IssueFilter narrows ListIssues. Zero values mean "no filter".
type IssueFilter struct {
	Category Category
	Status   Status
	Priority Priority
	City     string
	Limit    int
	Offset   int
}

// Store is the persistence contract. All methods surface the sentinel errors
// from errors.go for the conditions they document.
type Store interface {
	// Accounts
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	Leaderboard(ctx context.Context, limit int) ([]Account, error)
	// AddPoints applies a relative increment to the cached balance.
	// Returns ErrAccountNotFound if the account does not exist.
	AddPoints(ctx context.Context, id AccountID, delta int) error
	// AccountStats returns the aggregates achievement criteria target.
	AccountStats(ctx context.Context, id AccountID) (*AccountStats, error)

	// Issues
	InsertIssue(ctx context.Context, issue *Issue) error
	GetIssue(ctx context.Context, id IssueID) (*Issue, error)
	ListIssues(ctx context.Context, f IssueFilter) ([]Issue, error)
	// SetIssueStatus writes the new status, the resolution stamp (nil clears
	// nothing; it is only ever set), and the assignee when given.
	SetIssueStatus(ctx context.Context, id IssueID, s Status, resolvedAt *time.Time, assignee *AccountID, notes string) error
	// IncrementUpvotes applies +1 to the cached counter.
	IncrementUpvotes(ctx context.Context, id IssueID) error

	// Audit trail (append-only)
	AppendTransition(ctx context.Context, tr StatusTransition) error
	Transitions(ctx context.Context, id IssueID) ([]StatusTransition, error)

	// Ledger (append-only)
	AppendLedgerEntry(ctx context.Context, e LedgerEntry) error
	LedgerEntries(ctx context.Context, id AccountID, limit int) ([]LedgerEntry, error)
	// SumLedger recomputes the balance from the entries. Used for audits;
	// the cached balance is the fast path.
	SumLedger(ctx context.Context, id AccountID) (int, error)

	// Upvotes
	// InsertUpvote returns ErrDuplicateVote when the (issue, voter) pair
	// already exists.
	InsertUpvote(ctx context.Context, v Upvote) error
	HasUpvoted(ctx context.Context, issue IssueID, voter AccountID) (bool, error)

	// Achievements
	SaveAchievement(ctx context.Context, a Achievement) error
	GetAchievement(ctx context.Context, id AchievementID) (*Achievement, error)
	ListAchievements(ctx context.Context, activeOnly bool) ([]Achievement, error)
	// InsertGrant returns ErrDuplicateGrant when the (account, achievement)
	// pair already exists.
	InsertGrant(ctx context.Context, g AchievementGrant) error
	GrantsForAccount(ctx context.Context, id AccountID) ([]AchievementGrant, error)

	// WithTx runs fn against a store bound to a single transaction. If fn
	// returns an error the transaction rolls back and no partial state is
	// ever visible to other operations. Nested calls join the open
	// transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
