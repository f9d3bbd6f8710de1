/*
errors.go - Centralized error taxonomy for the civic engine

PURPOSE:
  All error values in one place. The storage layer translates uniqueness
  constraint rejections into the duplicate sentinels; the HTTP layer maps
  the taxonomy onto status codes.

ERROR CATEGORIES:
  1. Not-found     - a referenced issue/account/achievement is absent
  2. Invalid state - illegal transition or malformed enumeration value
  3. Invalid op    - operation rejected by a business rule (self-upvote)
  4. Duplicates    - uniqueness rejection; expected under races, not a bug

USAGE:
  if errors.Is(err, civic.ErrDuplicateVote) {
      // already voted - treat as done, not as a failure
  }
*/
package civic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrIssueNotFound       = errors.New("issue not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAchievementNotFound = errors.New("achievement not found")

	// ErrUnknownStatus is returned when a caller supplies a status outside
	// the closed enumeration.
	ErrUnknownStatus = errors.New("unknown issue status")

	// ErrIllegalTransition is returned when the transition policy forbids
	// moving from the issue's current status to the requested one.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrSelfVote is returned when a reporter tries to upvote their own issue.
	ErrSelfVote = errors.New("cannot upvote own issue")

	// ErrDuplicateVote is returned when the (issue, voter) pair already has
	// a vote. Expected behavior for retries; the vote stands, nothing else
	// happens.
	ErrDuplicateVote = errors.New("issue already upvoted by this account")

	// ErrDuplicateGrant is returned when the (account, achievement) pair is
	// already granted. A concurrent evaluation won the race.
	ErrDuplicateGrant = errors.New("achievement already granted")

	// ErrDuplicateEntry is returned when a once-per-issue ledger entry (the
	// resolution bonus) is appended a second time for the same issue.
	ErrDuplicateEntry = errors.New("ledger entry already recorded for this issue")

	ErrInvalidCategory    = errors.New("unknown issue category")
	ErrInvalidPriority    = errors.New("unknown issue priority")
	ErrInvalidCoordinates = errors.New("coordinates out of range")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports a transition the policy does not allow.
type TransitionError struct {
	IssueID IssueID
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for issue %s", e.From, e.To, e.IssueID)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAchievementNotFound)
}

// IsDuplicate returns true for uniqueness rejections. These are "already
// done" signals, safe to treat as success from the caller's point of view.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateVote) ||
		errors.Is(err, ErrDuplicateGrant) ||
		errors.Is(err, ErrDuplicateEntry)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownStatus) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrSelfVote) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidCoordinates) ||
		IsDuplicate(err)
}
