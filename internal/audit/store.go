// Package audit provides PostgreSQL-backed storage for the moderation audit
// log. Each entry captures one engine decision — a challenge issued or
// resolved, or an enforcement action — for moderator review.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit log, matching the CHECK constraint on the
// moderation_actions table.
var validActions = map[string]bool{
	"challenge_issued":  true,
	"challenge_passed":  true,
	"challenge_expired": true,
	"instant_ban":       true,
	"ban":               true,
}

// Entry represents a single audit record. It is persisted to Postgres and
// fanned out as JSON on the audit subject.
type Entry struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"` // one of validActions
	Reason    string    `json:"reason"` // detector reason or "captcha_timeout"
	Term      string    `json:"term"`   // the violating token, if any
	CreatedAt time.Time `json:"created_at"`
}

// Store manages audit records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an audit entry. A zero ID or CreatedAt is filled in.
// The action is validated against the allowed set before insertion.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if !validActions[entry.Action] {
		return fmt.Errorf("audit: invalid action %q", entry.Action)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO moderation_actions (id, chat_id, user_id, action, reason, term, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.ChatID,
		entry.UserID,
		entry.Action,
		entry.Reason,
		entry.Term,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// RecentForUser returns the most recent audit entries for a user in a chat,
// newest first.
func (s *Store) RecentForUser(ctx context.Context, chatID, userID int64, limit int) ([]Entry, error) {
	const query = `
		SELECT id, chat_id, user_id, action, reason, term, created_at
		FROM moderation_actions
		WHERE chat_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, chatID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.UserID, &e.Action, &e.Reason, &e.Term, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}
