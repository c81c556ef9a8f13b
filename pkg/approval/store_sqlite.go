package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adithya0597/reins/pkg/contracts"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// default backend for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and creates the approvals table if missing.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_type TEXT NOT NULL DEFAULT '',
		action_name TEXT NOT NULL,
		payload JSON,
		rationale TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		decided_at DATETIME,
		decision_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_user_status ON approvals (user_id, status);
	CREATE INDEX IF NOT EXISTS idx_approvals_status_expiry ON approvals (status, expires_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const sqliteItemColumns = `id, user_id, agent_type, action_name, payload, rationale, confidence, status, created_at, expires_at, decided_at, decision_reason`

func (s *SQLiteStore) Insert(ctx context.Context, item contracts.ApprovalItem) error {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", item.ID, err)
	}
	query := `INSERT INTO approvals (` + sqliteItemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.UserID, item.AgentType, item.ActionName, string(payloadJSON),
		item.Rationale, item.Confidence, string(item.Status),
		formatTime(item.CreatedAt), formatTime(item.ExpiresAt),
		formatTimePtr(item.DecidedAt), nullableString(item.DecisionReason),
	)
	if err != nil {
		return fmt.Errorf("inserting approval item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.ApprovalItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM approvals WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading approval item %s: %w", id, err)
	}
	return item, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, pendingOnly bool, offset, limit int) ([]contracts.ApprovalItem, int, error) {
	where := `WHERE user_id = ?`
	if pendingOnly {
		where += ` AND status = 'pending'`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting approval items for %s: %w", userID, err)
	}

	query := `SELECT ` + sqliteItemColumns + ` FROM approvals ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing approval items for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var items []contracts.ApprovalItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SQLiteStore) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE user_id = ? AND status = 'pending'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending approvals for %s: %w", userID, err)
	}
	return n, nil
}

// Decide is the single-decision guard: the conditional UPDATE only matches
// a PENDING row, so the second of two racing deciders updates zero rows
// and reports Conflict.
func (s *SQLiteStore) Decide(ctx context.Context, id, userID string, to contracts.ApprovalStatus, decidedAt time.Time, reason string) (*contracts.ApprovalItem, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ?, decision_reason = ?
		 WHERE id = ? AND user_id = ? AND status = 'pending'`,
		string(to), formatTime(decidedAt), nullableString(reason), id, userID)
	if err != nil {
		return nil, fmt.Errorf("deciding approval item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("deciding approval item %s: %w", id, err)
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM approvals WHERE id = ? AND user_id = ?`, id, userID).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("deciding approval item %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w (status=%s)", ErrConflict, status)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = 'expired', decided_at = ?
		 WHERE status = 'pending' AND expires_at < ?`,
		formatTime(now), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("expiring approval items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expiring approval items: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) MoveUserStatus(ctx context.Context, userID string, from, to contracts.ApprovalStatus) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ? WHERE user_id = ? AND status = ?`,
		string(to), userID, string(from))
	if err != nil {
		return 0, fmt.Errorf("moving approval items for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("moving approval items for %s: %w", userID, err)
	}
	return int(n), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*contracts.ApprovalItem, error) {
	var (
		item           contracts.ApprovalItem
		payloadJSON    sql.NullString
		status         string
		createdAt      string
		expiresAt      string
		decidedAt      sql.NullString
		decisionReason sql.NullString
	)
	err := row.Scan(&item.ID, &item.UserID, &item.AgentType, &item.ActionName,
		&payloadJSON, &item.Rationale, &item.Confidence, &status,
		&createdAt, &expiresAt, &decidedAt, &decisionReason)
	if err != nil {
		return nil, err
	}
	item.Status = contracts.ApprovalStatus(status)
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &item.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload JSON for item %s: %w", item.ID, err)
		}
	}
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for item %s: %w", item.ID, err)
	}
	if item.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("corrupt expires_at for item %s: %w", item.ID, err)
	}
	if decidedAt.Valid && decidedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt decided_at for item %s: %w", item.ID, err)
		}
		item.DecidedAt = &t
	}
	if decisionReason.Valid {
		item.DecisionReason = decisionReason.String
	}
	return &item, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
