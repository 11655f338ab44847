package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"moddash/audit"
)

// AuditStore is the durable audit sink backed by the audit_log table.
type AuditStore struct {
	db *sqlx.DB
}

func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

type auditRow struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"timestamp"`
	Username  string    `db:"username"`
	Role      string    `db:"role"`
	Action    string    `db:"action"`
	Success   bool      `db:"success"`
	Details   string    `db:"details"`
}

func (s *AuditStore) Write(ctx context.Context, e audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_log (timestamp, username, role, action, success, details) VALUES (?, ?, ?, ?, ?, ?)",
		e.Timestamp, e.Username, e.Role, e.Action, e.Success, string(details))
	return err
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, timestamp, username, role, action, success, details FROM audit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		e := audit.Entry{
			Timestamp: r.Timestamp,
			Username:  r.Username,
			Role:      r.Role,
			Action:    r.Action,
			Success:   r.Success,
			Details:   map[string]any{},
		}
		if err := json.Unmarshal([]byte(r.Details), &e.Details); err != nil {
			e.Details = map[string]any{"raw": r.Details}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
