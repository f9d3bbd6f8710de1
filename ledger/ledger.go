/*
Package ledger maintains the append-only points ledger and the account
balance derived from it.

PURPOSE:
  The ledger is the immutable source of truth for every point an account has
  ever earned or lost. The accounts table carries a cached running balance,
  but that cache is only trustworthy because EVERY balance-affecting code
  path goes through Record: one entry insert plus one relative increment,
  committed together.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. Ever.
  2. BALANCE BY CONSTRUCTION: balance == sum(entries) after every commit.
  3. RELATIVE INCREMENTS: the cache is advanced by "+= delta" in SQL, never
     by writing back a value computed in application memory. Two concurrent
     appends to the same account both land.

CORRECTIONS:
  A mistaken entry is never edited. Append a compensating entry of kind
  admin_adjustment; both remain in the ledger and the history explains the
  balance.

LEVELS:
  Level is a pure function of balance (level = balance/100 + 1), computed on
  read. Storing it separately would invent a second source of truth that can
  drift; deriving it cannot.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixmycity/civic-engine/civic"
)

// =============================================================================
// REWARD SCHEDULE
// =============================================================================

// RewardSchedule holds the fixed point values the workflow awards.
type RewardSchedule struct {
	Report         int // credited to the reporter when an issue is created
	UpvoteReceived int // credited to the reporter per unique upvote
	Resolution     int // credited to the reporter when their issue resolves
}

// DefaultRewards returns the production point values.
func DefaultRewards() RewardSchedule {
	return RewardSchedule{Report: 10, UpvoteReceived: 2, Resolution: 50}
}

// =============================================================================
// LEVELS
// =============================================================================

const pointsPerLevel = 100

// LevelFor derives the level and the points remaining to the next level
// from a balance. Level 1 covers 0-99 points, level 2 covers 100-199, etc.
func LevelFor(balance int) (level, toNext int) {
	if balance < 0 {
		balance = 0
	}
	return balance/pointsPerLevel + 1, pointsPerLevel - balance%pointsPerLevel
}

// BalanceSummary is the read-side view of an account's points.
type BalanceSummary struct {
	AccountID         civic.AccountID
	Balance           int
	Level             int
	PointsToNextLevel int
}

// =============================================================================
// POINTS LEDGER
// =============================================================================

// PointsLedger is the write and read surface for point-affecting events.
type PointsLedger struct {
	Store civic.Store
}

func NewPointsLedger(store civic.Store) *PointsLedger {
	return &PointsLedger{Store: store}
}

// Record appends one entry and advances the cached balance against the given
// store. Callers already inside a transaction pass their tx-bound store so
// the append commits with the rest of their writes; Append wraps this in its
// own transaction for standalone events.
func Record(ctx context.Context, st civic.Store, e civic.LedgerEntry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("ledger: invalid entry kind %q", e.Kind)
	}
	if e.ID == "" {
		e.ID = civic.EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := st.AppendLedgerEntry(ctx, e); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}
	if err := st.AddPoints(ctx, e.AccountID, e.Points); err != nil {
		return fmt.Errorf("ledger: advance balance: %w", err)
	}
	return nil
}

// Append records a standalone point event in its own transaction.
func (l *PointsLedger) Append(ctx context.Context, e civic.LedgerEntry) error {
	return l.Store.WithTx(ctx, func(tx civic.Store) error {
		return Record(ctx, tx, e)
	})
}

// Adjust appends an admin adjustment. Corrections always flow through here
// so the compensating entry carries the right kind.
func (l *PointsLedger) Adjust(ctx context.Context, account civic.AccountID, delta int, reason string) error {
	return l.Append(ctx, civic.LedgerEntry{
		AccountID:   account,
		Points:      delta,
		Kind:        civic.KindAdminAdjustment,
		Description: reason,
	})
}

// Balance returns the cached balance with the derived level information.
func (l *PointsLedger) Balance(ctx context.Context, account civic.AccountID) (*BalanceSummary, error) {
	acct, err := l.Store.GetAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, civic.ErrAccountNotFound
	}
	level, toNext := LevelFor(acct.TotalPoints)
	return &BalanceSummary{
		AccountID:         acct.ID,
		Balance:           acct.TotalPoints,
		Level:             level,
		PointsToNextLevel: toNext,
	}, nil
}

// History returns the most recent entries for an account, newest first.
func (l *PointsLedger) History(ctx context.Context, account civic.AccountID, limit int) ([]civic.LedgerEntry, error) {
	return l.Store.LedgerEntries(ctx, account, limit)
}

// Audit verifies the cached balance against the sum of the entries. A
// mismatch means some write path bypassed Record; that is a bug, not a
// recoverable condition.
func (l *PointsLedger) Audit(ctx context.Context, account civic.AccountID) error {
	acct, err := l.Store.GetAccount(ctx, account)
	if err != nil {
		return err
	}
	if acct == nil {
		return civic.ErrAccountNotFound
	}
	sum, err := l.Store.SumLedger(ctx, account)
	if err != nil {
		return err
	}
	if sum != acct.TotalPoints {
		return fmt.Errorf("ledger: balance drift for %s: cached %d, entries sum to %d",
			account, acct.TotalPoints, sum)
	}
	return nil
}
