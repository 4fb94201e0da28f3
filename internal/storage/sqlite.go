package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/t0khyo/wa-group-reminder-sub000/internal/reminder"
	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// SQLite implements reminder.Store on a single SQLite file.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &SQLite{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- events ----

func (s *SQLite) CreateEvent(ctx context.Context, ev *reminder.Event) error {
	recipients, err := json.Marshal(ev.Recipients)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(id, group_jid, owner_jid, title, recipients, target_at, display_tz, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.GroupJID, nullStr(ev.OwnerJID), ev.Title, string(recipients),
		ev.TargetTime.UnixMilli(), ev.DisplayTimezone, string(ev.Status), ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	for _, st := range ev.Stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stages(event_id, label, offset_ms, fire_at, state) VALUES(?,?,?,?,?)`,
			ev.ID, st.Label, st.Offset.Milliseconds(), st.FireAt.UnixMilli(), string(st.State),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetEvent(ctx context.Context, id string) (*reminder.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_jid, owner_jid, title, recipients, target_at, display_tz, status, created_at
		 FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	if err := s.attachStages(ctx, []*reminder.Event{ev}); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SQLite) LoadActiveEvents(ctx context.Context) ([]*reminder.Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, group_jid, owner_jid, title, recipients, target_at, display_tz, status, created_at
		 FROM events WHERE status = 'active' ORDER BY target_at`)
}

func (s *SQLite) ListActive(ctx context.Context, groupJID, ownerJID string) ([]*reminder.Event, error) {
	q := `SELECT id, group_jid, owner_jid, title, recipients, target_at, display_tz, status, created_at
	      FROM events WHERE status = 'active' AND group_jid = ?`
	args := []any{groupJID}
	if strings.TrimSpace(ownerJID) != "" {
		q += ` AND owner_jid = ?`
		args = append(args, ownerJID)
	}
	q += ` ORDER BY target_at`
	return s.queryEvents(ctx, q, args...)
}

func (s *SQLite) queryEvents(ctx context.Context, q string, args ...any) ([]*reminder.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*reminder.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachStages(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) attachStages(ctx context.Context, events []*reminder.Event) error {
	for _, ev := range events {
		rows, err := s.db.QueryContext(ctx,
			`SELECT label, offset_ms, fire_at, state FROM stages
			 WHERE event_id = ? ORDER BY offset_ms DESC`, ev.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				label    string
				offsetMS int64
				fireAt   int64
				state    string
			)
			if err := rows.Scan(&label, &offsetMS, &fireAt, &state); err != nil {
				rows.Close()
				return err
			}
			ev.Stages = append(ev.Stages, reminder.Stage{
				Label:  label,
				Offset: time.Duration(offsetMS) * time.Millisecond,
				FireAt: time.UnixMilli(fireAt).UTC(),
				State:  reminder.StageState(state),
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// ---- stage transitions ----

func (s *SQLite) FindDueStages(ctx context.Context, now time.Time) ([]reminder.DueStage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT st.event_id, st.label, st.fire_at
		 FROM stages st JOIN events ev ON ev.id = st.event_id
		 WHERE st.state = 'pending' AND st.fire_at <= ? AND ev.status = 'active'
		 ORDER BY st.fire_at`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.DueStage
	for rows.Next() {
		var d reminder.DueStage
		var fireAt int64
		if err := rows.Scan(&d.EventID, &d.Label, &fireAt); err != nil {
			return nil, err
		}
		d.FireAt = time.UnixMilli(fireAt).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimStage is the race resolver: a conditional pending->inflight update
// that also checks the owning event is still active. Exactly one of any
// number of concurrent callers gets rows-affected == 1.
func (s *SQLite) ClaimStage(ctx context.Context, eventID, label string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = 'inflight', claimed_at = ?
		 WHERE event_id = ? AND label = ? AND state = 'pending'
		   AND EXISTS (SELECT 1 FROM events WHERE id = ? AND status = 'active')`,
		time.Now().UnixMilli(), eventID, label, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) CommitStage(ctx context.Context, eventID, label string, final bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE stages SET state = 'sent', sent_at = ?, claimed_at = NULL
		 WHERE event_id = ? AND label = ? AND state = 'inflight'`,
		time.Now().UnixMilli(), eventID, label,
	); err != nil {
		return err
	}
	if final {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET status = 'completed' WHERE id = ? AND status = 'active'`,
			eventID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) RollbackStage(ctx context.Context, eventID, label string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = 'pending', claimed_at = NULL
		 WHERE event_id = ? AND label = ? AND state = 'inflight'`,
		eventID, label)
	return err
}

func (s *SQLite) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = 'pending', claimed_at = NULL
		 WHERE state = 'inflight' AND claimed_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- lifecycle ----

// CancelEvent flips active -> cancelled. Returns false when the event is
// missing or already terminal (the caller reports both as a no-op).
func (s *SQLite) CancelEvent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = 'cancelled' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RescheduleEvent rewrites the target time, title and the full stage set
// in one transaction, guarded on the event still being active.
func (s *SQLite) RescheduleEvent(ctx context.Context, id string, target time.Time, title string, stages []reminder.Stage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE events SET target_at = ?, title = ? WHERE id = ? AND status = 'active'`,
		target.UnixMilli(), title, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reminder.ErrTerminal
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE event_id = ?`, id); err != nil {
		return err
	}
	for _, st := range stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stages(event_id, label, offset_ms, fire_at, state) VALUES(?,?,?,?,?)`,
			id, st.Label, st.Offset.Milliseconds(), st.FireAt.UnixMilli(), string(st.State),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PruneTerminal deletes completed/cancelled events created before the
// cutoff. Retention policy lives with the caller; this subsystem never
// deletes on its own.
func (s *SQLite) PruneTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE status IN ('completed','cancelled') AND created_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- scanning ----

type rowScanner interface{ Scan(dest ...any) error }

func scanEvent(r rowScanner) (*reminder.Event, error) {
	var (
		ev         reminder.Event
		ownerJID   sql.NullString
		recipients string
		targetAt   int64
		status     string
		createdAt  int64
	)
	err := r.Scan(&ev.ID, &ev.GroupJID, &ownerJID, &ev.Title, &recipients,
		&targetAt, &ev.DisplayTimezone, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reminder.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.OwnerJID = ownerJID.String
	if err := json.Unmarshal([]byte(recipients), &ev.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients for %s: %w", ev.ID, err)
	}
	ev.TargetTime = time.UnixMilli(targetAt).UTC()
	ev.Status = reminder.Status(status)
	ev.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &ev, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
