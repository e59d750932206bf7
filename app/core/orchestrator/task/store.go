package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dockit/app/core/orchestrator/db"
	"dockit/app/pkg/types"
)

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// CreateIfAbsent persists the task unless a row with the same external id
// already exists. The ON CONFLICT clause is the uniqueness arbiter: under
// concurrent attempts for one external id exactly one insert wins and the
// rest report created=false without error.
func (s *Store) CreateIfAbsent(ctx context.Context, t UnifiedTask) (bool, error) {
	t.ExternalID = strings.TrimSpace(t.ExternalID)
	if t.ExternalID == "" {
		return false, fmt.Errorf("external_id is required")
	}
	if t.Title == "" {
		t.Title = "Untitled Task"
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	query := `
INSERT INTO unified_tasks (external_id, title, summary, action_item, source, priority, deep_link, is_completed, created_at, deadline, origin_ts)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT(external_id) DO NOTHING`
	res, err := s.db.Conn().ExecContext(ctx, query,
		t.ExternalID,
		t.Title,
		t.Summary,
		t.ActionItem,
		string(t.Source),
		int(t.Priority),
		nullableText(t.DeepLink),
		t.CreatedAt,
		nullableInt(t.Deadline),
		t.OriginTS,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) Exists(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT 1 FROM unified_tasks WHERE external_id = ?`, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, externalID string) (UnifiedTask, error) {
	query := `
SELECT external_id, title, summary, action_item, source, priority, COALESCE(deep_link, ''), is_completed, created_at, COALESCE(deadline, 0), origin_ts
FROM unified_tasks WHERE external_id = ?`
	return scanTask(s.db.Conn().QueryRowContext(ctx, query, externalID))
}

// List returns tasks ordered by priority rank then recency. Completed tasks
// are excluded unless includeCompleted is set.
func (s *Store) List(ctx context.Context, includeCompleted bool, limit int) ([]UnifiedTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT external_id, title, summary, action_item, source, priority, COALESCE(deep_link, ''), is_completed, created_at, COALESCE(deadline, 0), origin_ts
FROM unified_tasks`
	if !includeCompleted {
		query += ` WHERE is_completed = 0`
	}
	query += ` ORDER BY priority DESC, created_at DESC LIMIT ?`

	rows, err := s.db.Conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]UnifiedTask, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// SetCompleted flips the completion flag, the only mutation a stored task
// supports after creation.
func (s *Store) SetCompleted(ctx context.Context, externalID string, completed bool) error {
	flag := 0
	if completed {
		flag = 1
	}
	res, err := s.db.Conn().ExecContext(ctx, `UPDATE unified_tasks SET is_completed = ? WHERE external_id = ?`, flag, externalID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Watermark reports the newest origination timestamp stored for a source.
// ok is false on first run, before any task from the source exists.
func (s *Store) Watermark(ctx context.Context, source types.TaskSource) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := s.db.Conn().QueryRowContext(ctx, `SELECT MAX(origin_ts) FROM unified_tasks WHERE source = ?`, string(source)).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid || latest.Int64 == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(latest.Int64, 0).UTC(), true, nil
}

// RecordSyncOutcome upserts the per-source sync bookkeeping. An empty
// errText clears any previous failure; deferredUntil=0 clears a deferral.
func (s *Store) RecordSyncOutcome(ctx context.Context, source types.TaskSource, errText string, deferredUntil int64) error {
	now := time.Now().Unix()
	var synced sql.NullInt64
	if errText == "" && deferredUntil == 0 {
		synced = sql.NullInt64{Int64: now, Valid: true}
	}
	query := `
INSERT INTO sync_state (source, last_synced_at, last_error, deferred_until, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	last_synced_at = COALESCE(excluded.last_synced_at, sync_state.last_synced_at),
	last_error = excluded.last_error,
	deferred_until = excluded.deferred_until,
	updated_at = excluded.updated_at`
	_, err := s.db.Conn().ExecContext(ctx, query, string(source), synced, nullableText(errText), nullableInt(deferredUntil), now)
	return err
}

func (s *Store) GetSyncState(ctx context.Context, source types.TaskSource) (SyncState, error) {
	query := `
SELECT source, COALESCE(last_synced_at, 0), COALESCE(last_error, ''), COALESCE(deferred_until, 0), updated_at
FROM sync_state WHERE source = ?`
	var st SyncState
	var src string
	err := s.db.Conn().QueryRowContext(ctx, query, string(source)).Scan(&src, &st.LastSyncedAt, &st.LastError, &st.DeferredUntil, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// a source that has never synced has no row yet
		return SyncState{Source: source}, nil
	}
	if err != nil {
		return SyncState{}, err
	}
	st.Source = types.TaskSource(src)
	return st, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (UnifiedTask, error) {
	var (
		t         UnifiedTask
		source    string
		priority  int
		completed int
	)
	err := row.Scan(
		&t.ExternalID,
		&t.Title,
		&t.Summary,
		&t.ActionItem,
		&source,
		&priority,
		&t.DeepLink,
		&completed,
		&t.CreatedAt,
		&t.Deadline,
		&t.OriginTS,
	)
	if err != nil {
		return UnifiedTask{}, err
	}
	t.Source = types.TaskSource(source)
	t.Priority = types.Priority(priority)
	t.IsCompleted = completed != 0
	return t, nil
}

func nullableText(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
