package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/adithya0597/reins/pkg/contracts"
)

// PostgresStore implements Store on Postgres for multi-node deployments
// where every worker must see the same queue.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle. Call Migrate before
// first use when the schema is managed by this process.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the approvals table and its indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_type TEXT NOT NULL DEFAULT '',
		action_name TEXT NOT NULL,
		payload JSONB,
		rationale TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ,
		decision_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_user_status ON approvals (user_id, status);
	CREATE INDEX IF NOT EXISTS idx_approvals_status_expiry ON approvals (status, expires_at);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrating approvals table: %w", err)
	}
	return nil
}

const pgItemColumns = `id, user_id, agent_type, action_name, payload, rationale, confidence, status, created_at, expires_at, decided_at, decision_reason`

func (s *PostgresStore) Insert(ctx context.Context, item contracts.ApprovalItem) error {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", item.ID, err)
	}
	query := `INSERT INTO approvals (` + pgItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.UserID, item.AgentType, item.ActionName, string(payloadJSON),
		item.Rationale, item.Confidence, string(item.Status),
		item.CreatedAt.UTC(), item.ExpiresAt.UTC(),
		pgTimePtr(item.DecidedAt), nullableString(item.DecisionReason),
	)
	if err != nil {
		return fmt.Errorf("inserting approval item %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*contracts.ApprovalItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgItemColumns+` FROM approvals WHERE id = $1`, id)
	item, err := scanPGItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading approval item %s: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, pendingOnly bool, offset, limit int) ([]contracts.ApprovalItem, int, error) {
	where := `WHERE user_id = $1`
	if pendingOnly {
		where += ` AND status = 'pending'`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting approval items for %s: %w", userID, err)
	}

	query := `SELECT ` + pgItemColumns + ` FROM approvals ` + where + ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing approval items for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var items []contracts.ApprovalItem
	for rows.Next() {
		item, err := scanPGItem(rows)
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

func (s *PostgresStore) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE user_id = $1 AND status = 'pending'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending approvals for %s: %w", userID, err)
	}
	return n, nil
}

func (s *PostgresStore) Decide(ctx context.Context, id, userID string, to contracts.ApprovalStatus, decidedAt time.Time, reason string) (*contracts.ApprovalItem, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = $1, decided_at = $2, decision_reason = $3
		 WHERE id = $4 AND user_id = $5 AND status = 'pending'`,
		string(to), decidedAt.UTC(), nullableString(reason), id, userID)
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
			`SELECT status FROM approvals WHERE id = $1 AND user_id = $2`, id, userID).Scan(&status)
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

func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = 'expired', decided_at = $1
		 WHERE status = 'pending' AND expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expiring approval items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expiring approval items: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) MoveUserStatus(ctx context.Context, userID string, from, to contracts.ApprovalStatus) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = $1 WHERE user_id = $2 AND status = $3`,
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

func scanPGItem(row scanner) (*contracts.ApprovalItem, error) {
	var (
		item           contracts.ApprovalItem
		payloadJSON    sql.NullString
		status         string
		decidedAt      sql.NullTime
		decisionReason sql.NullString
	)
	err := row.Scan(&item.ID, &item.UserID, &item.AgentType, &item.ActionName,
		&payloadJSON, &item.Rationale, &item.Confidence, &status,
		&item.CreatedAt, &item.ExpiresAt, &decidedAt, &decisionReason)
	if err != nil {
		return nil, err
	}
	item.Status = contracts.ApprovalStatus(status)
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &item.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload JSON for item %s: %w", item.ID, err)
		}
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		item.DecidedAt = &t
	}
	if decisionReason.Valid {
		item.DecisionReason = decisionReason.String
	}
	return &item, nil
}

func pgTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
