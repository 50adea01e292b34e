package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Transition is one entry leaving a stage.
type Transition struct {
	Stage         string
	Entry         string
	Outcome       string
	Source        string
	Dest          string
	Size          int64
	Error         string
	CorrelationID string
	At            time.Time
}

// Tick summarizes one scan-decide-transition cycle of a stage.
type Tick struct {
	Stage         string
	StartedAt     time.Time
	Duration      time.Duration
	Scanned       int
	Moved         int
	Failed        int
	Error         string
	CorrelationID string
}

// RecordTransition appends a transition. A nil journal is a no-op.
func (j *Journal) RecordTransition(ctx context.Context, t Transition) error {
	if j == nil {
		return nil
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	_, err := j.exec(ctx, `INSERT INTO transitions
		(stage, entry, outcome, source_path, dest_path, size_bytes, error_message, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Stage, t.Entry, t.Outcome, t.Source, nullString(t.Dest), t.Size,
		nullString(t.Error), nullString(t.CorrelationID), formatTime(t.At),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordTick appends a tick summary. A nil journal is a no-op.
func (j *Journal) RecordTick(ctx context.Context, t Tick) error {
	if j == nil {
		return nil
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	_, err := j.exec(ctx, `INSERT INTO ticks
		(stage, started_at, duration_ms, scanned, moved, failed, error_message, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Stage, formatTime(t.StartedAt), t.Duration.Milliseconds(), t.Scanned, t.Moved, t.Failed,
		nullString(t.Error), nullString(t.CorrelationID),
	)
	if err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

// RecentTicks returns the newest ticks across all stages, newest first.
func (j *Journal) RecentTicks(ctx context.Context, limit int) ([]Tick, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ensureContext(ctx), `SELECT
		stage, started_at, duration_ms, scanned, moved, failed, error_message, correlation_id
		FROM ticks ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []Tick
	for rows.Next() {
		var (
			t          Tick
			started    string
			durationMS int64
			errMsg     sql.NullString
			corrID     sql.NullString
		)
		if err := rows.Scan(&t.Stage, &started, &durationMS, &t.Scanned, &t.Moved, &t.Failed, &errMsg, &corrID); err != nil {
			return nil, err
		}
		t.StartedAt = parseTime(started)
		t.Duration = time.Duration(durationMS) * time.Millisecond
		t.Error = errMsg.String
		t.CorrelationID = corrID.String
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// History returns the recorded transitions of one entry name, oldest first.
func (j *Journal) History(ctx context.Context, entry string) ([]Transition, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ensureContext(ctx), `SELECT
		stage, entry, outcome, source_path, dest_path, size_bytes, error_message, correlation_id, created_at
		FROM transitions WHERE entry = ? ORDER BY created_at ASC, id ASC`, entry)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t       Transition
			dest    sql.NullString
			errMsg  sql.NullString
			corrID  sql.NullString
			created string
		)
		if err := rows.Scan(&t.Stage, &t.Entry, &t.Outcome, &t.Source, &dest, &t.Size, &errMsg, &corrID, &created); err != nil {
			return nil, err
		}
		t.Dest = dest.String
		t.Error = errMsg.String
		t.CorrelationID = corrID.String
		t.At = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// OutcomeCounts returns transition counts per stage and outcome since the
// given instant.
func (j *Journal) OutcomeCounts(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ensureContext(ctx), `SELECT stage, outcome, COUNT(1)
		FROM transitions WHERE created_at >= ? GROUP BY stage, outcome`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var (
			stage, outcome string
			count          int
		)
		if err := rows.Scan(&stage, &outcome, &count); err != nil {
			return nil, err
		}
		if counts[stage] == nil {
			counts[stage] = make(map[string]int)
		}
		counts[stage][outcome] = count
	}
	return counts, rows.Err()
}

// Prune removes transitions and ticks recorded before cutoff and returns the
// number of rows deleted.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil {
		return 0, nil
	}
	var removed int64
	for _, query := range []string{
		`DELETE FROM transitions WHERE created_at < ?`,
		`DELETE FROM ticks WHERE started_at < ?`,
	} {
		res, err := j.exec(ctx, query, formatTime(cutoff))
		if err != nil {
			return removed, fmt.Errorf("prune journal: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
