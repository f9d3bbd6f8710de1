/*
Package civic defines the shared domain model for the civic issue engine.

PURPOSE:
  This package contains the types every other package agrees on: issues and
  their status workflow, the append-only points ledger entry, upvotes,
  accounts, and achievement definitions. It has no persistence and no I/O;
  the behavior lives in the issues, ledger, and achievements packages, and
  durability lives in store/sqlite.

KEY CONCEPTS IN THIS FILE (types.go):
  - Issue: a reported civic problem with a status in a closed enumeration
  - StatusTransition: one immutable audit row per status change
  - LedgerEntry: one immutable, signed point delta for an account
  - Upvote: one user's endorsement of one issue (unique per pair)
  - Achievement / AchievementGrant: reward definitions and earned records

DESIGN PRINCIPLES:
  1. Immutability: transitions, ledger entries, and grants are never edited
  2. Closed enumerations: status, category, priority, kinds are fixed sets
  3. Precision: coordinates use decimal.Decimal, not floats
  4. Opaque payloads: media references and AI detection results are stored
     verbatim and never interpreted here

SEE ALSO:
  - machine.go: status transition legality
  - errors.go: the error taxonomy
  - store.go: the persistence contract
*/
package civic

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type IssueID string
type AchievementID string
type EntryID string

// =============================================================================
// ISSUE ENUMERATIONS
// =============================================================================

// Category classifies the kind of civic problem being reported.
type Category string

const (
	CategoryPothole       Category = "pothole"
	CategoryGarbage       Category = "garbage"
	CategorySewage        Category = "sewage"
	CategoryStreetLight   Category = "street_light"
	CategoryTrafficSignal Category = "traffic_signal"
	CategoryRoadDamage    Category = "road_damage"
	CategoryWaterLeak     Category = "water_leak"
	CategoryIllegalDump   Category = "illegal_dumping"
	CategoryOther         Category = "other"
)

var allCategories = map[Category]bool{
	CategoryPothole: true, CategoryGarbage: true, CategorySewage: true,
	CategoryStreetLight: true, CategoryTrafficSignal: true,
	CategoryRoadDamage: true, CategoryWaterLeak: true,
	CategoryIllegalDump: true, CategoryOther: true,
}

func (c Category) Valid() bool { return allCategories[c] }

// Priority ranks how urgent an issue is. Defaults to medium.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the issue workflow state. Legality of moving between statuses is
// a TransitionPolicy concern (machine.go), not a property of the value itself.
type Status string

const (
	StatusReported   Status = "reported"
	StatusVerified   Status = "verified"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusRejected   Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReported, StatusVerified, StatusAssigned, StatusInProgress,
		StatusResolved, StatusClosed, StatusRejected:
		return true
	}
	return false
}

// Resolving reports whether the status stamps the resolution timestamp.
func (s Status) Resolving() bool {
	return s == StatusResolved || s == StatusClosed
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue is a reported civic problem.
//
// INVARIANTS:
//   - Status is always a member of the Status enumeration.
//   - Upvotes always equals the count of rows in the upvotes table for this
//     issue; it is only ever changed by a relative increment in the same
//     transaction that records the vote.
//   - ResolvedAt is set if and only if Status is resolved or closed.
type Issue struct {
	ID          IssueID
	ReporterID  *AccountID // nil for anonymous reports
	Title       string
	Description string
	Category    Category
	Priority    Priority
	Status      Status
	Latitude    decimal.Decimal
	Longitude   decimal.Decimal
	Address     string
	City        string

	// MediaRefs and AIDetection come from the media/AI collaborator and are
	// stored verbatim. The engine never looks inside them.
	MediaRefs   []string
	AIDetection json.RawMessage

	Upvotes         int
	AssignedTo      *AccountID
	ResolvedAt      *time.Time
	ResolutionNotes string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Anonymous reports whether the issue has no reporter account attached.
func (i *Issue) Anonymous() bool { return i.ReporterID == nil }

// StatusTransition is one immutable audit row. The ordered sequence of
// transitions for an issue reconstructs its full workflow history; the first
// row of every issue has From == nil and To == reported.
type StatusTransition struct {
	ID        string
	IssueID   IssueID
	From      *Status    // nil only for the creation row
	To        Status
	ActorID   *AccountID // nil for system-initiated transitions
	Note      string
	CreatedAt time.Time
}

// Upvote records one account's endorsement of one issue. The (IssueID,
// VoterID) pair is unique, enforced by the storage layer at insert time.
type Upvote struct {
	IssueID   IssueID
	VoterID   AccountID
	CreatedAt time.Time
}

// =============================================================================
// ACCOUNTS & LEDGER
// =============================================================================

// Account is a registered user able to earn points. TotalPoints is the cached
// running balance; it is authoritative only because every write path applies
// a relative increment in the same transaction as the ledger append.
type Account struct {
	ID          AccountID
	Name        string
	Email       string
	TotalPoints int
	CreatedAt   time.Time
}

// EntryKind is the business reason for a ledger entry.
type EntryKind string

const (
	KindReport          EntryKind = "report"
	KindResolution      EntryKind = "resolution"
	KindUpvoteReceived  EntryKind = "upvote_received"
	KindStreakBonus     EntryKind = "streak_bonus"
	KindLevelUp         EntryKind = "level_up"
	KindAchievement     EntryKind = "achievement"
	KindAdminAdjustment EntryKind = "admin_adjustment"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindReport, KindResolution, KindUpvoteReceived, KindStreakBonus,
		KindLevelUp, KindAchievement, KindAdminAdjustment:
		return true
	}
	return false
}

// LedgerEntry is one immutable, signed point-delta record tied to an account.
//
// INVARIANTS:
//   - Append-only: no update, no delete. Ever.
//   - The account balance equals the sum of Points over all its entries.
//   - Corrections are new entries of kind admin_adjustment with a
//     compensating delta, never edits.
type LedgerEntry struct {
	ID          EntryID
	AccountID   AccountID
	Points      int // signed delta
	Kind        EntryKind
	IssueID     *IssueID // optional related issue
	Description string
	CreatedAt   time.Time
}

// AccountStats are the aggregates the achievement engine evaluates against.
type AccountStats struct {
	IssuesReported int
	IssuesResolved int
	TotalPoints    int
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// CriterionKind is the closed set of aggregate statistics a criterion can
// target. Unknown kinds never grant.
type CriterionKind string

const (
	CriterionIssuesReported CriterionKind = "issues_reported"
	CriterionPointsEarned   CriterionKind = "points_earned"
	CriterionIssuesResolved CriterionKind = "issues_resolved"
)

// Criterion is a structured achievement condition: a statistic and a
// threshold it must reach.
type Criterion struct {
	Kind   CriterionKind
	Target int
}

// Satisfied evaluates the criterion against the account's aggregates.
func (c Criterion) Satisfied(stats AccountStats) bool {
	switch c.Kind {
	case CriterionIssuesReported:
		return stats.IssuesReported >= c.Target
	case CriterionPointsEarned:
		return stats.TotalPoints >= c.Target
	case CriterionIssuesResolved:
		return stats.IssuesResolved >= c.Target
	}
	return false
}

// Achievement is a named reward definition.
type Achievement struct {
	ID           AchievementID
	Name         string
	Description  string
	IconURL      string
	PointsReward int
	Criterion    Criterion
	Active       bool
	CreatedAt    time.Time
}

// AchievementGrant records that an account earned an achievement. The
// (AccountID, AchievementID) pair is unique; a grant is never revoked or
// re-issued, and a nonzero reward always travels with exactly one ledger
// entry of kind achievement, committed in the grant's transaction.
type AchievementGrant struct {
	ID            string
	AccountID     AccountID
	AchievementID AchievementID
	EarnedAt      time.Time
}
