// ABOUTME: Request ledger methods: record, fetch, list, and the highest guest id used
// ABOUTME: Timestamps are stored as fixed-width UTC strings

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const requestColumns = `request_id, room, requester_id, customer, guest_id, memory_mb, cores, disk,
	state, exit_status, error, created_at, completed_at`

// RecordRequest inserts r, replacing any earlier row with the same id. ID and
// timestamps are filled in when unset.
func (s *SQLiteStore) RecordRequest(ctx context.Context, r *Request) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = now
	}

	query := `INSERT OR REPLACE INTO requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.Room,
		r.RequesterID,
		r.Customer,
		r.GuestID,
		r.MemoryMB,
		r.Cores,
		r.Disk,
		r.State,
		r.ExitStatus,
		r.Error,
		r.CreatedAt.UTC().Format(timeLayout),
		r.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	s.logger.Debug("recorded request", "id", r.ID, "state", r.State, "guest_id", r.GuestID)
	return nil
}

// GetRequest returns the request with the given id, or ErrNotFound.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequests returns matching requests, newest first.
func (s *SQLiteStore) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE (? IS NULL OR requester_id = ?)
		  AND (? IS NULL OR state = ?)
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query,
		f.RequesterID, f.RequesterID,
		f.State, f.State,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating requests: %w", err)
	}
	return out, nil
}

// HighestGuestID returns the largest guest id any recorded request was given,
// or 0 when none was.
func (s *SQLiteStore) HighestGuestID(ctx context.Context) (int, error) {
	var id int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(guest_id), 0) FROM requests`).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying highest guest id: %w", err)
	}
	return id, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

func scanRequest(scanner interface{ Scan(dest ...any) error }) (Request, error) {
	var r Request
	var exitStatus sql.NullInt64
	var createdStr, completedStr string

	if err := scanner.Scan(
		&r.ID,
		&r.Room,
		&r.RequesterID,
		&r.Customer,
		&r.GuestID,
		&r.MemoryMB,
		&r.Cores,
		&r.Disk,
		&r.State,
		&exitStatus,
		&r.Error,
		&createdStr,
		&completedStr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning request: %w", err)
	}

	if exitStatus.Valid {
		v := int(exitStatus.Int64)
		r.ExitStatus = &v
	}
	var err error
	if r.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return r, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.CompletedAt, err = time.Parse(timeLayout, completedStr); err != nil {
		return r, fmt.Errorf("parsing completed_at: %w", err)
	}
	return r, nil
}
