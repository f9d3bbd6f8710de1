/*
Package sqlite provides the SQLite-backed implementation of civic.Store.

PURPOSE:
  Implements all persistence for the civic engine. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  ledger_entries, status_transitions, upvotes, and achievement_grants take
  INSERTs only. There are no UPDATE or DELETE statements against them
  anywhere in this package; corrections are compensating ledger entries.

LOAD-BEARING CONSTRAINTS:
  idx_upvotes_issue_voter:        one vote per (issue, voter)
  idx_grants_account_achievement: one grant per (account, achievement)
  idx_ledger_issue_resolution:    one resolution bonus per issue
  These make upvote, grant, and the resolution bonus idempotent under
  concurrent requests without any application-level dedup check. A
  constraint rejection is translated into civic.ErrDuplicateVote /
  civic.ErrDuplicateGrant / civic.ErrDuplicateEntry - the expected
  "already done" signal, not an exceptional failure.

COUNTERS:
  accounts.total_points and issues.upvotes are only ever changed by
  relative-increment UPDATEs ("SET x = x + ?") inside the owning
  transaction. There is no method that writes an absolute balance.

CONCURRENCY:
  A sync.RWMutex serializes writers; the pool is pinned to one connection
  because SQLite allows a single writer and a second pooled connection
  would see its own private copy of a :memory: database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/civic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - civic/store.go: interface definition
  - issues/, ledger/, achievements/: the operations built on WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fixmycity/civic-engine/civic"
)

// Store implements civic.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ civic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; a second pooled connection would also get a private
	// copy of a :memory: database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		total_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		reporter_id TEXT REFERENCES accounts(id),
		title TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		status TEXT NOT NULL DEFAULT 'reported',
		latitude TEXT NOT NULL,
		longitude TEXT NOT NULL,
		address TEXT,
		city TEXT,
		media_json TEXT,
		ai_json TEXT,
		upvotes INTEGER NOT NULL DEFAULT 0,
		assigned_to TEXT,
		resolved_at TEXT,
		resolution_notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_reporter ON issues(reporter_id);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
	CREATE INDEX IF NOT EXISTS idx_issues_category ON issues(category);
	CREATE INDEX IF NOT EXISTS idx_issues_created ON issues(created_at DESC);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS status_transitions (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		prev_status TEXT,
		new_status TEXT NOT NULL,
		actor_id TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_issue
		ON status_transitions(issue_id, created_at);

	-- Points ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		kind TEXT NOT NULL,
		issue_id TEXT,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account
		ON ledger_entries(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_kind ON ledger_entries(kind);

	-- At most one resolution bonus per issue, no matter how often the
	-- issue cycles through resolved under a permissive policy.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_issue_resolution
		ON ledger_entries(issue_id) WHERE kind = 'resolution';

	-- CRITICAL: one vote per (issue, voter). The constraint IS the dedupe;
	-- there is no check-then-insert anywhere.
	CREATE TABLE IF NOT EXISTS upvotes (
		issue_id TEXT NOT NULL,
		voter_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_upvotes_issue_voter
		ON upvotes(issue_id, voter_id);

	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		icon_url TEXT,
		points_reward INTEGER NOT NULL DEFAULT 0,
		criterion_kind TEXT NOT NULL,
		criterion_target INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one grant per (account, achievement).
	CREATE TABLE IF NOT EXISTS achievement_grants (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		achievement_id TEXT NOT NULL,
		earned_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_account_achievement
		ON achievement_grants(account_id, achievement_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query can run
// against the handle or inside an open transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a store bound to one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(civic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore implements civic.Store against an open transaction. It holds no
// lock of its own; WithTx holds the store lock for the transaction's
// lifetime, and nested WithTx calls join the same transaction.
type txStore struct {
	tx *sql.Tx
}

var _ civic.Store = (*txStore)(nil)

func (ts *txStore) WithTx(ctx context.Context, fn func(civic.Store) error) error {
	return fn(ts)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func saveAccount(ctx context.Context, db dbtx, a civic.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO accounts (id, name, email, total_points, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`
	_, err := db.ExecContext(ctx, query,
		string(a.ID), a.Name, a.Email, a.TotalPoints,
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func getAccount(ctx context.Context, db dbtx, id civic.AccountID) (*civic.Account, error) {
	var a civic.Account
	var createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT id, name, email, total_points, created_at FROM accounts WHERE id = ?",
		string(id),
	).Scan(&a.ID, &a.Name, &a.Email, &a.TotalPoints, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func queryAccounts(ctx context.Context, db dbtx, query string, args ...any) ([]civic.Account, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []civic.Account
	for rows.Next() {
		var a civic.Account
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.TotalPoints, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func listAccounts(ctx context.Context, db dbtx) ([]civic.Account, error) {
	return queryAccounts(ctx, db,
		"SELECT id, name, email, total_points, created_at FROM accounts ORDER BY name")
}

func leaderboard(ctx context.Context, db dbtx, limit int) ([]civic.Account, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryAccounts(ctx, db,
		"SELECT id, name, email, total_points, created_at FROM accounts ORDER BY total_points DESC, id ASC LIMIT ?",
		limit)
}

// addPoints advances the cached balance by a relative increment. Never a
// read-modify-write: two concurrent increments both land.
func addPoints(ctx context.Context, db dbtx, id civic.AccountID, delta int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE accounts SET total_points = total_points + ? WHERE id = ?",
		delta, string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to add points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return civic.ErrAccountNotFound
	}
	return nil
}

func accountStats(ctx context.Context, db dbtx, id civic.AccountID) (*civic.AccountStats, error) {
	query := `
		SELECT a.total_points,
		       (SELECT COUNT(*) FROM issues i WHERE i.reporter_id = a.id) AS issues_reported,
		       (SELECT COUNT(*) FROM issues i WHERE i.reporter_id = a.id AND i.status = 'resolved') AS issues_resolved
		FROM accounts a
		WHERE a.id = ?
	`
	var stats civic.AccountStats
	err := db.QueryRowContext(ctx, query, string(id)).
		Scan(&stats.TotalPoints, &stats.IssuesReported, &stats.IssuesResolved)
	if err == sql.ErrNoRows {
		return nil, civic.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) SaveAccount(ctx context.Context, a civic.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func (s *Store) GetAccount(ctx context.Context, id civic.AccountID) (*civic.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]civic.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]civic.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaderboard(ctx, s.db, limit)
}

func (s *Store) AddPoints(ctx context.Context, id civic.AccountID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addPoints(ctx, s.db, id, delta)
}

func (s *Store) AccountStats(ctx context.Context, id civic.AccountID) (*civic.AccountStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return accountStats(ctx, s.db, id)
}

func (ts *txStore) SaveAccount(ctx context.Context, a civic.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) GetAccount(ctx context.Context, id civic.AccountID) (*civic.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]civic.Account, error) {
	return listAccounts(ctx, ts.tx)
}

func (ts *txStore) Leaderboard(ctx context.Context, limit int) ([]civic.Account, error) {
	return leaderboard(ctx, ts.tx, limit)
}

func (ts *txStore) AddPoints(ctx context.Context, id civic.AccountID, delta int) error {
	return addPoints(ctx, ts.tx, id, delta)
}

func (ts *txStore) AccountStats(ctx context.Context, id civic.AccountID) (*civic.AccountStats, error) {
	return accountStats(ctx, ts.tx, id)
}

// =============================================================================
// ISSUES
// =============================================================================

const issueColumns = `id, reporter_id, title, description, category, priority, status,
	latitude, longitude, address, city, media_json, ai_json, upvotes,
	assigned_to, resolved_at, resolution_notes, created_at, updated_at`

func insertIssue(ctx context.Context, db dbtx, issue *civic.Issue) error {
	mediaJSON, _ := json.Marshal(issue.MediaRefs)

	query := `
		INSERT INTO issues
		(` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		string(issue.ID),
		accountIDPtr(issue.ReporterID),
		issue.Title,
		issue.Description,
		string(issue.Category),
		string(issue.Priority),
		string(issue.Status),
		issue.Latitude.String(),
		issue.Longitude.String(),
		issue.Address,
		issue.City,
		string(mediaJSON),
		nullString(string(issue.AIDetection)),
		issue.Upvotes,
		accountIDPtr(issue.AssignedTo),
		timePtr(issue.ResolvedAt),
		issue.ResolutionNotes,
		issue.CreatedAt.Format(time.RFC3339Nano),
		issue.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}
	return nil
}

func getIssue(ctx context.Context, db dbtx, id civic.IssueID) (*civic.Issue, error) {
	issues, err := queryIssues(ctx, db,
		"SELECT "+issueColumns+" FROM issues WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}
	return &issues[0], nil
}

func listIssues(ctx context.Context, db dbtx, f civic.IssueFilter) ([]civic.Issue, error) {
	query := "SELECT " + issueColumns + " FROM issues"
	var conds []string
	var args []any

	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.City != "" {
		conds = append(conds, "city = ?")
		args = append(args, f.City)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	return queryIssues(ctx, db, query, args...)
}

// setIssueStatus writes the new status and keeps the resolution columns in
// step with it: resolved_at and resolution_notes are populated only while the
// status is a resolving one and cleared the moment it is not, so a reopened
// issue never carries a stale resolution stamp.
func setIssueStatus(ctx context.Context, db dbtx, id civic.IssueID, status civic.Status, resolvedAt *time.Time, assignee *civic.AccountID, notes string) error {
	query := `
		UPDATE issues SET
			status = ?,
			resolved_at = CASE WHEN ? THEN COALESCE(?, resolved_at) ELSE NULL END,
			assigned_to = COALESCE(?, assigned_to),
			resolution_notes = CASE
				WHEN NOT ? THEN ''
				WHEN ? != '' THEN ?
				ELSE resolution_notes
			END,
			updated_at = ?
		WHERE id = ?
	`
	resolving := boolInt(status.Resolving())
	res, err := db.ExecContext(ctx, query,
		string(status),
		resolving,
		timePtr(resolvedAt),
		accountIDPtr(assignee),
		resolving,
		notes, notes,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update issue status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return civic.ErrIssueNotFound
	}
	return nil
}

// incrementUpvotes advances the cached counter by a relative increment.
func incrementUpvotes(ctx context.Context, db dbtx, id civic.IssueID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE issues SET upvotes = upvotes + 1 WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to increment upvotes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return civic.ErrIssueNotFound
	}
	return nil
}

func queryIssues(ctx context.Context, db dbtx, query string, args ...any) ([]civic.Issue, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []civic.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func scanIssue(rows *sql.Rows) (civic.Issue, error) {
	var (
		issue           civic.Issue
		reporterID      sql.NullString
		description     sql.NullString
		latitude        string
		longitude       string
		address         sql.NullString
		city            sql.NullString
		mediaJSON       sql.NullString
		aiJSON          sql.NullString
		assignedTo      sql.NullString
		resolvedAt      sql.NullString
		resolutionNotes sql.NullString
		createdAt       string
		updatedAt       string
	)

	err := rows.Scan(
		&issue.ID, &reporterID, &issue.Title, &description,
		&issue.Category, &issue.Priority, &issue.Status,
		&latitude, &longitude, &address, &city,
		&mediaJSON, &aiJSON, &issue.Upvotes,
		&assignedTo, &resolvedAt, &resolutionNotes, &createdAt, &updatedAt,
	)
	if err != nil {
		return issue, fmt.Errorf("failed to scan issue: %w", err)
	}

	if reporterID.Valid {
		rid := civic.AccountID(reporterID.String)
		issue.ReporterID = &rid
	}
	issue.Description = description.String
	issue.Latitude, _ = decimal.NewFromString(latitude)
	issue.Longitude, _ = decimal.NewFromString(longitude)
	issue.Address = address.String
	issue.City = city.String
	if mediaJSON.Valid && mediaJSON.String != "" {
		json.Unmarshal([]byte(mediaJSON.String), &issue.MediaRefs)
	}
	if aiJSON.Valid && aiJSON.String != "" {
		issue.AIDetection = json.RawMessage(aiJSON.String)
	}
	if assignedTo.Valid {
		aid := civic.AccountID(assignedTo.String)
		issue.AssignedTo = &aid
	}
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
		issue.ResolvedAt = &t
	}
	issue.ResolutionNotes = resolutionNotes.String
	issue.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	issue.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return issue, nil
}

func (s *Store) InsertIssue(ctx context.Context, issue *civic.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertIssue(ctx, s.db, issue)
}

func (s *Store) GetIssue(ctx context.Context, id civic.IssueID) (*civic.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getIssue(ctx, s.db, id)
}

func (s *Store) ListIssues(ctx context.Context, f civic.IssueFilter) ([]civic.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listIssues(ctx, s.db, f)
}

func (s *Store) SetIssueStatus(ctx context.Context, id civic.IssueID, status civic.Status, resolvedAt *time.Time, assignee *civic.AccountID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setIssueStatus(ctx, s.db, id, status, resolvedAt, assignee, notes)
}

func (s *Store) IncrementUpvotes(ctx context.Context, id civic.IssueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementUpvotes(ctx, s.db, id)
}

func (ts *txStore) InsertIssue(ctx context.Context, issue *civic.Issue) error {
	return insertIssue(ctx, ts.tx, issue)
}

func (ts *txStore) GetIssue(ctx context.Context, id civic.IssueID) (*civic.Issue, error) {
	return getIssue(ctx, ts.tx, id)
}

func (ts *txStore) ListIssues(ctx context.Context, f civic.IssueFilter) ([]civic.Issue, error) {
	return listIssues(ctx, ts.tx, f)
}

func (ts *txStore) SetIssueStatus(ctx context.Context, id civic.IssueID, status civic.Status, resolvedAt *time.Time, assignee *civic.AccountID, notes string) error {
	return setIssueStatus(ctx, ts.tx, id, status, resolvedAt, assignee, notes)
}

func (ts *txStore) IncrementUpvotes(ctx context.Context, id civic.IssueID) error {
	return incrementUpvotes(ctx, ts.tx, id)
}

// =============================================================================
// STATUS TRANSITIONS (append-only audit trail)
// =============================================================================

func appendTransition(ctx context.Context, db dbtx, tr civic.StatusTransition) error {
	query := `
		INSERT INTO status_transitions
		(id, issue_id, prev_status, new_status, actor_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var prev any
	if tr.From != nil {
		prev = string(*tr.From)
	}
	_, err := db.ExecContext(ctx, query,
		tr.ID,
		string(tr.IssueID),
		prev,
		string(tr.To),
		accountIDPtr(tr.ActorID),
		tr.Note,
		tr.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func transitions(ctx context.Context, db dbtx, id civic.IssueID) ([]civic.StatusTransition, error) {
	query := `
		SELECT id, issue_id, prev_status, new_status, actor_id, note, created_at
		FROM status_transitions
		WHERE issue_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trs []civic.StatusTransition
	for rows.Next() {
		var (
			tr        civic.StatusTransition
			prev      sql.NullString
			actor     sql.NullString
			note      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tr.ID, &tr.IssueID, &prev, &tr.To, &actor, &note, &createdAt); err != nil {
			return nil, err
		}
		if prev.Valid {
			p := civic.Status(prev.String)
			tr.From = &p
		}
		if actor.Valid {
			a := civic.AccountID(actor.String)
			tr.ActorID = &a
		}
		tr.Note = note.String
		tr.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

func (s *Store) AppendTransition(ctx context.Context, tr civic.StatusTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransition(ctx, s.db, tr)
}

func (s *Store) Transitions(ctx context.Context, id civic.IssueID) ([]civic.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transitions(ctx, s.db, id)
}

func (ts *txStore) AppendTransition(ctx context.Context, tr civic.StatusTransition) error {
	return appendTransition(ctx, ts.tx, tr)
}

func (ts *txStore) Transitions(ctx context.Context, id civic.IssueID) ([]civic.StatusTransition, error) {
	return transitions(ctx, ts.tx, id)
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func appendLedgerEntry(ctx context.Context, db dbtx, e civic.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, account_id, points, kind, issue_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var issueID any
	if e.IssueID != nil {
		issueID = string(*e.IssueID)
	}
	_, err := db.ExecContext(ctx, query,
		string(e.ID),
		string(e.AccountID),
		e.Points,
		string(e.Kind),
		issueID,
		e.Description,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err, "ledger_entries.") {
			return civic.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func ledgerEntries(ctx context.Context, db dbtx, id civic.AccountID, limit int) ([]civic.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, account_id, points, kind, issue_id, description, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []civic.LedgerEntry
	for rows.Next() {
		var (
			e           civic.LedgerEntry
			issueID     sql.NullString
			description sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Points, &e.Kind, &issueID, &description, &createdAt); err != nil {
			return nil, err
		}
		if issueID.Valid {
			iid := civic.IssueID(issueID.String)
			e.IssueID = &iid
		}
		e.Description = description.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func sumLedger(ctx context.Context, db dbtx, id civic.AccountID) (int, error) {
	var sum int
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points), 0) FROM ledger_entries WHERE account_id = ?",
		string(id),
	).Scan(&sum)
	return sum, err
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e civic.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLedgerEntry(ctx, s.db, e)
}

func (s *Store) LedgerEntries(ctx context.Context, id civic.AccountID, limit int) ([]civic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledgerEntries(ctx, s.db, id, limit)
}

func (s *Store) SumLedger(ctx context.Context, id civic.AccountID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumLedger(ctx, s.db, id)
}

func (ts *txStore) AppendLedgerEntry(ctx context.Context, e civic.LedgerEntry) error {
	return appendLedgerEntry(ctx, ts.tx, e)
}

func (ts *txStore) LedgerEntries(ctx context.Context, id civic.AccountID, limit int) ([]civic.LedgerEntry, error) {
	return ledgerEntries(ctx, ts.tx, id, limit)
}

func (ts *txStore) SumLedger(ctx context.Context, id civic.AccountID) (int, error) {
	return sumLedger(ctx, ts.tx, id)
}

// =============================================================================
// UPVOTES
// =============================================================================

func insertUpvote(ctx context.Context, db dbtx, v civic.Upvote) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO upvotes (issue_id, voter_id, created_at) VALUES (?, ?, ?)",
		string(v.IssueID), string(v.VoterID), v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err, "upvotes.") {
			return civic.ErrDuplicateVote
		}
		return fmt.Errorf("failed to insert upvote: %w", err)
	}
	return nil
}

func hasUpvoted(ctx context.Context, db dbtx, issue civic.IssueID, voter civic.AccountID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM upvotes WHERE issue_id = ? AND voter_id = ?",
		string(issue), string(voter),
	).Scan(&count)
	return count > 0, err
}

func (s *Store) InsertUpvote(ctx context.Context, v civic.Upvote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertUpvote(ctx, s.db, v)
}

func (s *Store) HasUpvoted(ctx context.Context, issue civic.IssueID, voter civic.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasUpvoted(ctx, s.db, issue, voter)
}

func (ts *txStore) InsertUpvote(ctx context.Context, v civic.Upvote) error {
	return insertUpvote(ctx, ts.tx, v)
}

func (ts *txStore) HasUpvoted(ctx context.Context, issue civic.IssueID, voter civic.AccountID) (bool, error) {
	return hasUpvoted(ctx, ts.tx, issue, voter)
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

func saveAchievement(ctx context.Context, db dbtx, a civic.Achievement) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO achievements
		(id, name, description, icon_url, points_reward, criterion_kind, criterion_target, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon_url = excluded.icon_url,
			points_reward = excluded.points_reward,
			criterion_kind = excluded.criterion_kind,
			criterion_target = excluded.criterion_target,
			is_active = excluded.is_active
	`
	_, err := db.ExecContext(ctx, query,
		string(a.ID), a.Name, a.Description, a.IconURL, a.PointsReward,
		string(a.Criterion.Kind), a.Criterion.Target, boolInt(a.Active),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

const achievementColumns = `id, name, description, icon_url, points_reward,
	criterion_kind, criterion_target, is_active, created_at`

func getAchievement(ctx context.Context, db dbtx, id civic.AchievementID) (*civic.Achievement, error) {
	achievements, err := queryAchievements(ctx, db,
		"SELECT "+achievementColumns+" FROM achievements WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(achievements) == 0 {
		return nil, nil
	}
	return &achievements[0], nil
}

func listAchievements(ctx context.Context, db dbtx, activeOnly bool) ([]civic.Achievement, error) {
	query := "SELECT " + achievementColumns + " FROM achievements"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY points_reward DESC, id ASC"
	return queryAchievements(ctx, db, query)
}

func queryAchievements(ctx context.Context, db dbtx, query string, args ...any) ([]civic.Achievement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var achievements []civic.Achievement
	for rows.Next() {
		var (
			a           civic.Achievement
			description sql.NullString
			iconURL     sql.NullString
			active      int
			createdAt   string
		)
		if err := rows.Scan(&a.ID, &a.Name, &description, &iconURL, &a.PointsReward,
			&a.Criterion.Kind, &a.Criterion.Target, &active, &createdAt); err != nil {
			return nil, err
		}
		a.Description = description.String
		a.IconURL = iconURL.String
		a.Active = active != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}

func insertGrant(ctx context.Context, db dbtx, g civic.AchievementGrant) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO achievement_grants (id, account_id, achievement_id, earned_at) VALUES (?, ?, ?, ?)",
		g.ID, string(g.AccountID), string(g.AchievementID),
		g.EarnedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err, "achievement_grants.") {
			return civic.ErrDuplicateGrant
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

func grantsForAccount(ctx context.Context, db dbtx, id civic.AccountID) ([]civic.AchievementGrant, error) {
	query := `
		SELECT id, account_id, achievement_id, earned_at
		FROM achievement_grants
		WHERE account_id = ?
		ORDER BY earned_at DESC, rowid DESC
	`
	rows, err := db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []civic.AchievementGrant
	for rows.Next() {
		var g civic.AchievementGrant
		var earnedAt string
		if err := rows.Scan(&g.ID, &g.AccountID, &g.AchievementID, &earnedAt); err != nil {
			return nil, err
		}
		g.EarnedAt, _ = time.Parse(time.RFC3339Nano, earnedAt)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) SaveAchievement(ctx context.Context, a civic.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAchievement(ctx, s.db, a)
}

func (s *Store) GetAchievement(ctx context.Context, id civic.AchievementID) (*civic.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAchievement(ctx, s.db, id)
}

func (s *Store) ListAchievements(ctx context.Context, activeOnly bool) ([]civic.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAchievements(ctx, s.db, activeOnly)
}

func (s *Store) InsertGrant(ctx context.Context, g civic.AchievementGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertGrant(ctx, s.db, g)
}

func (s *Store) GrantsForAccount(ctx context.Context, id civic.AccountID) ([]civic.AchievementGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return grantsForAccount(ctx, s.db, id)
}

func (ts *txStore) SaveAchievement(ctx context.Context, a civic.Achievement) error {
	return saveAchievement(ctx, ts.tx, a)
}

func (ts *txStore) GetAchievement(ctx context.Context, id civic.AchievementID) (*civic.Achievement, error) {
	return getAchievement(ctx, ts.tx, id)
}

func (ts *txStore) ListAchievements(ctx context.Context, activeOnly bool) ([]civic.Achievement, error) {
	return listAchievements(ctx, ts.tx, activeOnly)
}

func (ts *txStore) InsertGrant(ctx context.Context, g civic.AchievementGrant) error {
	return insertGrant(ctx, ts.tx, g)
}

func (ts *txStore) GrantsForAccount(ctx context.Context, id civic.AccountID) ([]civic.AchievementGrant, error) {
	return grantsForAccount(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func accountIDPtr(id *civic.AccountID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports whether err is a uniqueness rejection on
// the given table. Tables are disambiguated by the "<table>.<column>" list
// in SQLite's message.
func isUniqueConstraintError(err error, table string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, table)
}
