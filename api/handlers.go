/*
handlers.go - HTTP API handlers for the civic issue engine

PURPOSE:
  Exposes the issue lifecycle, points ledger, and achievement engine via
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Issues:
    GET    /api/issues                     List issues (filterable)
    POST   /api/issues                     Report an issue
    GET    /api/issues/{id}                Get issue details
    POST   /api/issues/{id}/status         Move through the lifecycle
    POST   /api/issues/{id}/upvote         Upvote (idempotent)
    GET    /api/issues/{id}/transitions    Status history

  Accounts:
    POST   /api/accounts                   Register account
    GET    /api/accounts/{id}              Get account
    GET    /api/accounts/{id}/balance      Points balance and level
    GET    /api/accounts/{id}/ledger       Point history
    GET    /api/accounts/{id}/achievements Earned achievements
    POST   /api/accounts/{id}/evaluate     Run achievement evaluation

  Achievements:
    GET    /api/achievements               List definitions
    POST   /api/achievements               Define achievement

  Other:
    GET    /api/leaderboard                Top accounts by points
    POST   /api/admin/adjustments          Manual point correction
    GET    /healthz                        Liveness probe
    GET    /metrics                        Prometheus metrics

ERROR HANDLING:
  Domain errors map to HTTP status via respondDomainError:
  - 400: Validation errors (bad enum, bad coordinates, self-vote)
  - 404: Unknown issue/account/achievement
  - 409: Transition not allowed by the lifecycle policy
  - 500: Everything else
  A duplicate upvote is NOT an error: it returns 200 with result
  "already_upvoted" and changes nothing.

SIDE EFFECTS:
  Rewards, achievement evaluation, and notifications that follow a commit
  are best-effort: the committed state is already correct, so a failed
  follow-up is logged and the request still succeeds.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic achievement sweep
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fixmycity/civic-engine/achievements"
	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/issues"
	"github.com/fixmycity/civic-engine/ledger"
	"github.com/fixmycity/civic-engine/metrics"
	"github.com/fixmycity/civic-engine/notify"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for the HTTP layer.
type Handler struct {
	Store    civic.Store
	Workflow *issues.Workflow
	Ledger   *ledger.PointsLedger
	Engine   *achievements.Engine
	Notifier notify.Notifier
	Log      *logrus.Logger
}

// NewHandler wires a handler with default domain components over the store.
func NewHandler(store civic.Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:    store,
		Workflow: issues.NewWorkflow(store),
		Ledger:   ledger.NewPointsLedger(store),
		Engine:   achievements.NewEngine(store),
		Notifier: notify.NewLogNotifier(log),
		Log:      log,
	}
}

// =============================================================================
// ISSUE ENDPOINTS
// =============================================================================

// CreateIssue reports a new issue.
// POST /api/issues
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	lat, err := decimal.NewFromString(req.Latitude.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid latitude", err)
		return
	}
	lon, err := decimal.NewFromString(req.Longitude.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid longitude", err)
		return
	}

	in := issues.NewIssue{
		Title:       req.Title,
		Description: req.Description,
		Category:    civic.Category(req.Category),
		Priority:    civic.Priority(req.Priority),
		Latitude:    lat,
		Longitude:   lon,
		Address:     req.Address,
		City:        req.City,
		MediaRefs:   req.MediaRefs,
		AIDetection: req.AIDetection,
	}
	if req.ReporterID != "" {
		rid := civic.AccountID(req.ReporterID)
		in.ReporterID = &rid
	}

	issue, err := h.Workflow.Create(r.Context(), in)
	if err != nil {
		h.respondDomainError(w, "Failed to create issue", err)
		return
	}

	metrics.IssuesReported.WithLabelValues(string(issue.Category)).Inc()
	if issue.ReporterID != nil {
		metrics.PointsAwarded.WithLabelValues(string(civic.KindReport)).
			Add(float64(h.Workflow.Rewards.Report))
		h.evaluateAchievements(r, *issue.ReporterID)
	}

	writeJSON(w, http.StatusCreated, toIssueDTO(issue))
}

// GetIssue returns a single issue.
// GET /api/issues/{id}
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	id := civic.IssueID(chi.URLParam(r, "id"))

	issue, err := h.Store.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get issue", err)
		return
	}
	if issue == nil {
		writeError(w, http.StatusNotFound, "Issue not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIssueDTO(issue))
}

// ListIssues returns issues matching the query filters.
// GET /api/issues?category=&status=&priority=&city=&limit=&offset=
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := civic.IssueFilter{
		Category: civic.Category(q.Get("category")),
		Status:   civic.Status(q.Get("status")),
		Priority: civic.Priority(q.Get("priority")),
		City:     q.Get("city"),
		Limit:    queryInt(q.Get("limit")),
		Offset:   queryInt(q.Get("offset")),
	}
	if f.Category != "" && !f.Category.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid category filter", nil)
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	list, err := h.Store.ListIssues(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list issues", err)
		return
	}

	dtos := make([]IssueDTO, len(list))
	for i := range list {
		dtos[i] = toIssueDTO(&list[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateStatus moves an issue through its lifecycle.
// POST /api/issues/{id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := civic.IssueID(chi.URLParam(r, "id"))

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var actor *civic.AccountID
	if req.ActorID != "" {
		a := civic.AccountID(req.ActorID)
		actor = &a
	}

	issue, err := h.Workflow.Transition(r.Context(), id, civic.Status(req.Status), actor, req.Note)
	if err != nil {
		if errors.Is(err, civic.ErrIllegalTransition) {
			metrics.IllegalTransitions.Inc()
		}
		h.respondDomainError(w, "Failed to update status", err)
		return
	}

	metrics.StatusTransitions.WithLabelValues(string(issue.Status)).Inc()

	// The transition itself never touches the ledger. Reaching resolved is
	// the one event that earns the reporter a bonus, applied after commit.
	if issue.Status == civic.StatusResolved && issue.ReporterID != nil {
		h.awardResolution(r, issue)
	}

	writeJSON(w, http.StatusOK, toIssueDTO(issue))
}

// awardResolution credits the reporter the resolution bonus, then re-runs
// achievement evaluation. The bonus lands at most once per issue regardless
// of how often the issue re-enters resolved. The transition is already
// committed; failures here are logged, not surfaced.
func (h *Handler) awardResolution(r *http.Request, issue *civic.Issue) {
	reporter := *issue.ReporterID
	entry := civic.LedgerEntry{
		AccountID:   reporter,
		Points:      h.Workflow.Rewards.Resolution,
		Kind:        civic.KindResolution,
		IssueID:     &issue.ID,
		Description: "issue resolved",
	}
	if err := h.Ledger.Append(r.Context(), entry); err != nil {
		if errors.Is(err, civic.ErrDuplicateEntry) {
			// The issue was resolved before; the bonus was paid then.
			return
		}
		h.Log.WithError(err).WithField("issue", issue.ID).
			Error("failed to credit resolution bonus")
		return
	}
	metrics.PointsAwarded.WithLabelValues(string(civic.KindResolution)).
		Add(float64(entry.Points))
	if err := h.Notifier.PointsAwarded(r.Context(), reporter, entry); err != nil {
		h.Log.WithError(err).Warn("notification failed")
	}
	h.evaluateAchievements(r, reporter)
}

// UpvoteIssue records an upvote. Voting twice is a no-op success.
// POST /api/issues/{id}/upvote
func (h *Handler) UpvoteIssue(w http.ResponseWriter, r *http.Request) {
	id := civic.IssueID(chi.URLParam(r, "id"))

	var req UpvoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.VoterID == "" {
		writeError(w, http.StatusBadRequest, "voter_id is required", nil)
		return
	}

	err := h.Workflow.Upvote(r.Context(), id, civic.AccountID(req.VoterID))
	if errors.Is(err, civic.ErrDuplicateVote) {
		metrics.DuplicateVotes.Inc()
		writeJSON(w, http.StatusOK, UpvoteResponse{Result: "already_upvoted"})
		return
	}
	if err != nil {
		h.respondDomainError(w, "Failed to upvote", err)
		return
	}

	metrics.Upvotes.Inc()
	if issue, gerr := h.Store.GetIssue(r.Context(), id); gerr == nil && issue != nil && issue.ReporterID != nil {
		metrics.PointsAwarded.WithLabelValues(string(civic.KindUpvoteReceived)).
			Add(float64(h.Workflow.Rewards.UpvoteReceived))
		h.evaluateAchievements(r, *issue.ReporterID)
	}
	writeJSON(w, http.StatusOK, UpvoteResponse{Result: "upvoted"})
}

// GetTransitions returns the ordered status history of an issue.
// GET /api/issues/{id}/transitions
func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	id := civic.IssueID(chi.URLParam(r, "id"))

	issue, err := h.Store.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get issue", err)
		return
	}
	if issue == nil {
		writeError(w, http.StatusNotFound, "Issue not found", nil)
		return
	}

	trs, err := h.Store.Transitions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transitions", err)
		return
	}

	dtos := make([]TransitionDTO, len(trs))
	for i, tr := range trs {
		dtos[i] = toTransitionDTO(tr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// CreateAccount registers a new account.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	a := civic.Account{
		ID:    civic.AccountID(req.ID),
		Name:  req.Name,
		Email: req.Email,
	}
	if err := h.Store.SaveAccount(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	saved, err := h.Store.GetAccount(r.Context(), a.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*saved))
}

// GetAccount returns a single account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := civic.AccountID(chi.URLParam(r, "id"))

	a, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*a))
}

// GetBalance returns the points balance and level.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := civic.AccountID(chi.URLParam(r, "id"))

	summary, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:         string(summary.AccountID),
		Balance:           summary.Balance,
		Level:             summary.Level,
		PointsToNextLevel: summary.PointsToNextLevel,
	})
}

// GetLedger returns point history, newest first.
// GET /api/accounts/{id}/ledger?limit=
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := civic.AccountID(chi.URLParam(r, "id"))

	entries, err := h.Ledger.History(r.Context(), id, queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccountAchievements returns the achievements an account has earned.
// GET /api/accounts/{id}/achievements
func (h *Handler) GetAccountAchievements(w http.ResponseWriter, r *http.Request) {
	id := civic.AccountID(chi.URLParam(r, "id"))

	grants, err := h.Store.GrantsForAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get achievements", err)
		return
	}

	defs, err := h.Store.ListAchievements(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get achievements", err)
		return
	}
	byID := make(map[civic.AchievementID]civic.Achievement, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	dtos := make([]GrantDTO, len(grants))
	for i, g := range grants {
		dto := GrantDTO{
			AchievementID: string(g.AchievementID),
			EarnedAt:      g.EarnedAt.Format(time.RFC3339),
		}
		if def, ok := byID[g.AchievementID]; ok {
			dto.Name = def.Name
			dto.PointsReward = def.PointsReward
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EvaluateAccount runs achievement evaluation for one account.
// POST /api/accounts/{id}/evaluate
func (h *Handler) EvaluateAccount(w http.ResponseWriter, r *http.Request) {
	id := civic.AccountID(chi.URLParam(r, "id"))

	granted, err := h.Engine.EvaluateAndGrant(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, "Failed to evaluate achievements", err)
		return
	}
	h.recordGrants(r, id, granted)

	dtos := make([]GrantDTO, len(granted))
	for i, g := range granted {
		dtos[i] = GrantDTO{
			AchievementID: string(g.AchievementID),
			EarnedAt:      g.EarnedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Leaderboard returns the top accounts by points.
// GET /api/leaderboard?limit=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.Leaderboard(r.Context(), queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get leaderboard", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACHIEVEMENT ENDPOINTS
// =============================================================================

// ListAchievements returns all achievement definitions.
// GET /api/achievements
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.ListAchievements(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list achievements", err)
		return
	}

	dtos := make([]AchievementDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toAchievementDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAchievement defines a new achievement.
// POST /api/achievements
func (h *Handler) CreateAchievement(w http.ResponseWriter, r *http.Request) {
	var req CreateAchievementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	a, err := h.Engine.Define(r.Context(), civic.Achievement{
		ID:           civic.AchievementID(req.ID),
		Name:         req.Name,
		Description:  req.Description,
		IconURL:      req.IconURL,
		PointsReward: req.PointsReward,
		Criterion: civic.Criterion{
			Kind:   civic.CriterionKind(req.CriterionKind),
			Target: req.CriterionTarget,
		},
		Active: true,
	})
	if err != nil {
		h.respondDomainError(w, "Failed to create achievement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAchievementDTO(*a))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// CreateAdjustment applies a manual point correction.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "account_id and reason are required", nil)
		return
	}

	id := civic.AccountID(req.AccountID)
	if err := h.Ledger.Adjust(r.Context(), id, req.Points, req.Reason); err != nil {
		h.respondDomainError(w, "Failed to apply adjustment", err)
		return
	}

	// Adjustments can cross point milestones too.
	h.evaluateAchievements(r, id)

	summary, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, "Failed to load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:         string(summary.AccountID),
		Balance:           summary.Balance,
		Level:             summary.Level,
		PointsToNextLevel: summary.PointsToNextLevel,
	})
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// evaluateAchievements runs the rule engine for an account after a commit.
// Best-effort: a failure here never fails the request that triggered it.
func (h *Handler) evaluateAchievements(r *http.Request, account civic.AccountID) {
	granted, err := h.Engine.EvaluateAndGrant(r.Context(), account)
	if err != nil {
		h.Log.WithError(err).WithField("account", account).
			Warn("achievement evaluation failed")
		return
	}
	h.recordGrants(r, account, granted)
}

func (h *Handler) recordGrants(r *http.Request, account civic.AccountID, granted []civic.AchievementGrant) {
	for _, g := range granted {
		metrics.AchievementsGranted.WithLabelValues(string(g.AchievementID)).Inc()
		def, err := h.Store.GetAchievement(r.Context(), g.AchievementID)
		if err != nil || def == nil {
			continue
		}
		if def.PointsReward > 0 {
			metrics.PointsAwarded.WithLabelValues(string(civic.KindAchievement)).
				Add(float64(def.PointsReward))
		}
		if err := h.Notifier.AchievementEarned(r.Context(), account, *def); err != nil {
			h.Log.WithError(err).Warn("notification failed")
		}
	}
}

// respondDomainError maps domain sentinels to HTTP status codes.
func (h *Handler) respondDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case civic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, civic.ErrIllegalTransition):
		writeError(w, http.StatusConflict, message, err)
	case civic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}


func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
