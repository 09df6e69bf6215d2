package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UsageWindow names one of the rolling windows tracked per user.
type UsageWindow string

const (
	WindowMinute UsageWindow = "minute"
	WindowHour   UsageWindow = "hour"
	WindowDay    UsageWindow = "day"
)

// UsageWindows lists every window in evaluation order.
var UsageWindows = []UsageWindow{WindowMinute, WindowHour, WindowDay}

// WindowCounter is the state of one rolling window. The counters are valid
// only within [StartedAt, StartedAt+duration).
type WindowCounter struct {
	Requests  int
	Cost      float64 // always zero for the minute window
	StartedAt time.Time
}

// UsageRecord is the per-user usage ledger row.
type UsageRecord struct {
	UserID        string
	Minute        WindowCounter
	Hour          WindowCounter
	Day           WindowCounter
	TotalCost     float64
	Blocked       bool
	BlockedReason string
	BlockedAt     time.Time // zero when not blocked
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Window returns a pointer to the counter for w.
func (r *UsageRecord) Window(w UsageWindow) *WindowCounter {
	switch w {
	case WindowMinute:
		return &r.Minute
	case WindowHour:
		return &r.Hour
	default:
		return &r.Day
	}
}

// windowColumns maps a window to its (request counter, cost, boundary)
// columns. The minute window carries no cost column.
func windowColumns(w UsageWindow) (count, cost, reset string, err error) {
	switch w {
	case WindowMinute:
		return "requests_minute", "", "minute_reset_at", nil
	case WindowHour:
		return "requests_hour", "cost_hour", "hour_reset_at", nil
	case WindowDay:
		return "requests_day", "cost_day", "day_reset_at", nil
	}
	return "", "", "", fmt.Errorf("unknown usage window %q", w)
}

const usageColumns = `user_id, requests_minute, requests_hour, requests_day,
	cost_hour, cost_day, cost_total, minute_reset_at, hour_reset_at, day_reset_at,
	is_blocked, blocked_reason, blocked_at, created_at, updated_at`

// GetOrCreateUsage returns the ledger row for userID, inserting a fresh one
// (all windows starting at now) when none exists.
func (s *Store) GetOrCreateUsage(ctx context.Context, userID string, now time.Time) (*UsageRecord, error) {
	ms := toMillis(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage (user_id, minute_reset_at, hour_reset_at, day_reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, ms, ms, ms, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage record: %w", err)
	}
	return s.GetUsage(ctx, userID)
}

// GetUsage returns the ledger row for userID or ErrNotFound.
func (s *Store) GetUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM user_usage WHERE user_id = ?`, userID)
	rec, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("usage for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return rec, nil
}

// ResetUsageWindow zeroes the counter (and cost, for hour/day) of window w
// and moves its boundary to now, but only if the stored boundary still
// equals prevStart. It reports whether the swap happened; false means a
// concurrent caller already reset the window and the row should be reloaded.
func (s *Store) ResetUsageWindow(ctx context.Context, userID string, w UsageWindow, prevStart, now time.Time) (bool, error) {
	count, cost, reset, err := windowColumns(w)
	if err != nil {
		return false, err
	}
	set := count + " = 0, " + reset + " = ?, updated_at = ?"
	if cost != "" {
		set += ", " + cost + " = 0"
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_usage SET `+set+` WHERE user_id = ? AND `+reset+` = ?`,
		toMillis(now), toMillis(now), userID, toMillis(prevStart),
	)
	if err != nil {
		return false, fmt.Errorf("failed to reset %s window: %w", w, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// IncrementRequests adds one request to every window counter.
func (s *Store) IncrementRequests(ctx context.Context, userID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_usage
		SET requests_minute = requests_minute + 1,
		    requests_hour = requests_hour + 1,
		    requests_day = requests_day + 1,
		    updated_at = ?
		WHERE user_id = ?
	`, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("failed to increment requests: %w", err)
	}
	return expectOneRow(res, "usage", userID)
}

// AddCost adds amount to the hour and day accumulators and the lifetime total.
func (s *Store) AddCost(ctx context.Context, userID string, amount float64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_usage
		SET cost_hour = cost_hour + ?,
		    cost_day = cost_day + ?,
		    cost_total = cost_total + ?,
		    updated_at = ?
		WHERE user_id = ?
	`, amount, amount, amount, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("failed to add cost: %w", err)
	}
	return expectOneRow(res, "usage", userID)
}

// SetBlocked sets or clears the block flag. Rolling counters are untouched.
func (s *Store) SetBlocked(ctx context.Context, userID string, blocked bool, reason string, now time.Time) error {
	var (
		reasonArg    sql.NullString
		blockedAtArg sql.NullInt64
	)
	if blocked {
		reasonArg = sql.NullString{String: reason, Valid: reason != ""}
		blockedAtArg = sql.NullInt64{Int64: toMillis(now), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE user_usage
		SET is_blocked = ?, blocked_reason = ?, blocked_at = ?, updated_at = ?
		WHERE user_id = ?
	`, blocked, reasonArg, blockedAtArg, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("failed to update block flag: %w", err)
	}
	return expectOneRow(res, "usage", userID)
}

func scanUsage(row scanner) (*UsageRecord, error) {
	var (
		rec                     UsageRecord
		minuteAt, hourAt, dayAt int64
		createdAt, updatedAt    int64
		blockedReason           sql.NullString
		blockedAt               sql.NullInt64
	)
	err := row.Scan(
		&rec.UserID, &rec.Minute.Requests, &rec.Hour.Requests, &rec.Day.Requests,
		&rec.Hour.Cost, &rec.Day.Cost, &rec.TotalCost,
		&minuteAt, &hourAt, &dayAt,
		&rec.Blocked, &blockedReason, &blockedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Minute.StartedAt = fromMillis(minuteAt)
	rec.Hour.StartedAt = fromMillis(hourAt)
	rec.Day.StartedAt = fromMillis(dayAt)
	rec.BlockedReason = blockedReason.String
	rec.BlockedAt = nullMillis(blockedAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// expectOneRow turns a zero-row update into ErrNotFound.
func expectOneRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return nil
}
