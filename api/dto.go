/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

COORDINATES:
  Latitude/longitude cross the wire as strings and live as decimals
  internally. float64 would silently mangle the sixth decimal place, which
  is the difference between two potholes on the same street.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs. DTOs
  are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - civic/types.go: The domain model these project
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/ledger"
)

// =============================================================================
// ISSUES
// =============================================================================

// CreateIssueRequest is the request to report an issue.
type CreateIssueRequest struct {
	ReporterID  string          `json:"reporter_id,omitempty"` // empty for anonymous
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Priority    string          `json:"priority,omitempty"`
	Latitude    json.Number     `json:"latitude"`
	Longitude   json.Number     `json:"longitude"`
	Address     string          `json:"address,omitempty"`
	City        string          `json:"city,omitempty"`
	MediaRefs   []string        `json:"media_refs,omitempty"`
	AIDetection json.RawMessage `json:"ai_detection,omitempty"`
}

// IssueDTO represents an issue in API responses.
type IssueDTO struct {
	ID              string          `json:"id"`
	ReporterID      string          `json:"reporter_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category"`
	Priority        string          `json:"priority"`
	Status          string          `json:"status"`
	Latitude        string          `json:"latitude"`
	Longitude       string          `json:"longitude"`
	Address         string          `json:"address,omitempty"`
	City            string          `json:"city,omitempty"`
	MediaRefs       []string        `json:"media_refs,omitempty"`
	AIDetection     json.RawMessage `json:"ai_detection,omitempty"`
	Upvotes         int             `json:"upvotes"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	ResolvedAt      string          `json:"resolved_at,omitempty"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

func toIssueDTO(i *civic.Issue) IssueDTO {
	dto := IssueDTO{
		ID:              string(i.ID),
		Title:           i.Title,
		Description:     i.Description,
		Category:        string(i.Category),
		Priority:        string(i.Priority),
		Status:          string(i.Status),
		Latitude:        i.Latitude.String(),
		Longitude:       i.Longitude.String(),
		Address:         i.Address,
		City:            i.City,
		MediaRefs:       i.MediaRefs,
		AIDetection:     i.AIDetection,
		Upvotes:         i.Upvotes,
		ResolutionNotes: i.ResolutionNotes,
		CreatedAt:       i.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       i.UpdatedAt.Format(time.RFC3339),
	}
	if i.ReporterID != nil {
		dto.ReporterID = string(*i.ReporterID)
	}
	if i.AssignedTo != nil {
		dto.AssignedTo = string(*i.AssignedTo)
	}
	if i.ResolvedAt != nil {
		dto.ResolvedAt = i.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

// UpdateStatusRequest moves an issue through its lifecycle.
type UpdateStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id,omitempty"`
	Note    string `json:"note,omitempty"`
}

// UpvoteRequest endorses an issue.
type UpvoteRequest struct {
	VoterID string `json:"voter_id"`
}

// UpvoteResponse reports the outcome; repeat votes are a success with
// Result "already_upvoted", never an error.
type UpvoteResponse struct {
	Result string `json:"result"`
}

// TransitionDTO is one audit row of an issue's status history.
type TransitionDTO struct {
	From      string `json:"from,omitempty"` // empty for the creation row
	To        string `json:"to"`
	ActorID   string `json:"actor_id,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toTransitionDTO(tr civic.StatusTransition) TransitionDTO {
	dto := TransitionDTO{
		To:        string(tr.To),
		Note:      tr.Note,
		CreatedAt: tr.CreatedAt.Format(time.RFC3339),
	}
	if tr.From != nil {
		dto.From = string(*tr.From)
	}
	if tr.ActorID != nil {
		dto.ActorID = string(*tr.ActorID)
	}
	return dto
}

// =============================================================================
// ACCOUNTS & POINTS
// =============================================================================

// CreateAccountRequest registers an account.
type CreateAccountRequest struct {
	ID    string `json:"id,omitempty"` // generated when empty
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	TotalPoints int    `json:"total_points"`
	Level       int    `json:"level"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toAccountDTO(a civic.Account) AccountDTO {
	level, _ := ledger.LevelFor(a.TotalPoints)
	return AccountDTO{
		ID:          string(a.ID),
		Name:        a.Name,
		Email:       a.Email,
		TotalPoints: a.TotalPoints,
		Level:       level,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

// BalanceDTO is the read-side view of an account's points.
type BalanceDTO struct {
	AccountID         string `json:"account_id"`
	Balance           int    `json:"balance"`
	Level             int    `json:"level"`
	PointsToNextLevel int    `json:"points_to_next_level"`
}

// LedgerEntryDTO is one row of point history.
type LedgerEntryDTO struct {
	ID          string `json:"id"`
	Points      int    `json:"points"`
	Kind        string `json:"kind"`
	IssueID     string `json:"issue_id,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toLedgerEntryDTO(e civic.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:          string(e.ID),
		Points:      e.Points,
		Kind:        string(e.Kind),
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.IssueID != nil {
		dto.IssueID = string(*e.IssueID)
	}
	return dto
}

// AdjustmentRequest is a manual point correction.
type AdjustmentRequest struct {
	AccountID string `json:"account_id"`
	Points    int    `json:"points"`
	Reason    string `json:"reason"`
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// AchievementDTO represents an achievement definition.
type AchievementDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	IconURL         string `json:"icon_url,omitempty"`
	PointsReward    int    `json:"points_reward"`
	CriterionKind   string `json:"criterion_kind"`
	CriterionTarget int    `json:"criterion_target"`
	Active          bool   `json:"active"`
}

func toAchievementDTO(a civic.Achievement) AchievementDTO {
	return AchievementDTO{
		ID:              string(a.ID),
		Name:            a.Name,
		Description:     a.Description,
		IconURL:         a.IconURL,
		PointsReward:    a.PointsReward,
		CriterionKind:   string(a.Criterion.Kind),
		CriterionTarget: a.Criterion.Target,
		Active:          a.Active,
	}
}

// CreateAchievementRequest defines a new achievement.
type CreateAchievementRequest struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	IconURL         string `json:"icon_url,omitempty"`
	PointsReward    int    `json:"points_reward"`
	CriterionKind   string `json:"criterion_kind"`
	CriterionTarget int    `json:"criterion_target"`
}

// GrantDTO is one earned achievement.
type GrantDTO struct {
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name,omitempty"`
	PointsReward  int    `json:"points_reward,omitempty"`
	EarnedAt      string `json:"earned_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
