package pulse

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/internal/sqlitestore"
)

const schema = `
CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	working_dir TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL,
	permission_mode TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	max_runtime_ms INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	approver TEXT NOT NULL DEFAULT '',
	creator TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_run_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT NOT NULL DEFAULT '',
	finished_at TEXT NOT NULL DEFAULT '',
	output_summary TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	token_cost INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_schedule ON runs(schedule_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Store is the SQLite-backed Pulse store, at {data}/pulse/pulse.db per
// spec §6.2, following the same sqlitestore.Open shape as
// internal/relay/adapter.BindingStore and internal/mesh.Registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the Pulse store at path.
func Open(path string) (*Store, error) {
	db, err := sqlitestore.Open(path, schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateSchedule inserts sched, stamping CreatedAt/UpdatedAt if unset.
func (s *Store) CreateSchedule(sched Schedule) (Schedule, error) {
	now := time.Now()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	_, err := s.db.Exec(`INSERT INTO schedules
		(id, name, cron_expr, timezone, working_dir, prompt, permission_mode, model, max_runtime_ms, enabled, status, approver, creator, created_at, updated_at, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, sched.CronExpr, sched.Timezone, sched.WorkingDir, sched.Prompt,
		string(sched.PermissionMode), sched.Model, sched.MaxRuntimeMs, boolToInt(sched.Enabled), string(sched.Status),
		sched.Approver, sched.Creator, formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt), formatTime(sched.LastRunAt))
	if err != nil {
		return Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	return sched, nil
}

// UpdateSchedule overwrites an existing schedule's mutable fields.
func (s *Store) UpdateSchedule(sched Schedule) error {
	sched.UpdatedAt = time.Now()
	res, err := s.db.Exec(`UPDATE schedules SET
		name=?, cron_expr=?, timezone=?, working_dir=?, prompt=?, permission_mode=?, model=?,
		max_runtime_ms=?, enabled=?, status=?, approver=?, updated_at=?, last_run_at=?
		WHERE id=?`,
		sched.Name, sched.CronExpr, sched.Timezone, sched.WorkingDir, sched.Prompt,
		string(sched.PermissionMode), sched.Model, sched.MaxRuntimeMs, boolToInt(sched.Enabled),
		string(sched.Status), sched.Approver, formatTime(sched.UpdatedAt), formatTime(sched.LastRunAt), sched.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %s not found", sched.ID)
	}
	return nil
}

// DeleteSchedule removes a schedule by ID. Idempotent.
func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id=?`, id)
	return err
}

// GetSchedule looks up a schedule by ID.
func (s *Store) GetSchedule(id string) (Schedule, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, cron_expr, timezone, working_dir, prompt, permission_mode, model,
		max_runtime_ms, enabled, status, approver, creator, created_at, updated_at, last_run_at
		FROM schedules WHERE id=?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return Schedule{}, false, nil
	}
	if err != nil {
		return Schedule{}, false, err
	}
	return sched, true, nil
}

// ListSchedules returns every schedule, ordered by name.
func (s *Store) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query(`SELECT id, name, cron_expr, timezone, working_dir, prompt, permission_mode, model,
		max_runtime_ms, enabled, status, approver, creator, created_at, updated_at, last_run_at
		FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// DueSchedules returns schedules eligible for scheduled dispatch
// (enabled ∧ status = active).
func (s *Store) DueSchedules() ([]Schedule, error) {
	all, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}
	var out []Schedule
	for _, sched := range all {
		if sched.Runnable() {
			out = append(out, sched)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (Schedule, error) {
	var sched Schedule
	var enabled int
	var permissionMode, status, createdAt, updatedAt, lastRunAt string
	err := r.Scan(&sched.ID, &sched.Name, &sched.CronExpr, &sched.Timezone, &sched.WorkingDir, &sched.Prompt,
		&permissionMode, &sched.Model, &sched.MaxRuntimeMs, &enabled, &status, &sched.Approver, &sched.Creator,
		&createdAt, &updatedAt, &lastRunAt)
	if err != nil {
		return Schedule{}, err
	}
	sched.PermissionMode = runtime.PermissionMode(permissionMode)
	sched.Enabled = enabled != 0
	sched.Status = Status(status)
	sched.CreatedAt = parseTime(createdAt)
	sched.UpdatedAt = parseTime(updatedAt)
	sched.LastRunAt = parseTime(lastRunAt)
	return sched, nil
}

// CreateRun inserts run.
func (s *Store) CreateRun(run Run) (Run, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO runs
		(id, schedule_id, trigger, status, created_at, started_at, finished_at, output_summary, error, session_id, token_cost, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScheduleID, string(run.Trigger), string(run.Status), formatTime(run.CreatedAt),
		formatTime(run.StartedAt), formatTime(run.FinishedAt), run.OutputSummary, run.Error, run.SessionID,
		run.TokenCost, run.DurationMs)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// UpdateRun overwrites a run's mutable fields (status/output/error/etc).
func (s *Store) UpdateRun(run Run) error {
	_, err := s.db.Exec(`UPDATE runs SET status=?, started_at=?, finished_at=?, output_summary=?, error=?, session_id=?, token_cost=?, duration_ms=?
		WHERE id=?`,
		string(run.Status), formatTime(run.StartedAt), formatTime(run.FinishedAt), run.OutputSummary, run.Error,
		run.SessionID, run.TokenCost, run.DurationMs, run.ID)
	return err
}

// GetRun looks up a run by ID.
func (s *Store) GetRun(id string) (Run, bool, error) {
	row := s.db.QueryRow(`SELECT id, schedule_id, trigger, status, created_at, started_at, finished_at, output_summary, error, session_id, token_cost, duration_ms
		FROM runs WHERE id=?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// CountRunningForSchedule returns the number of runs in status=running for
// scheduleID, used for the concurrency cap check (spec §3, §5).
func (s *Store) CountRunningForSchedule(scheduleID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE schedule_id=? AND status=?`, scheduleID, string(RunRunning)).Scan(&n)
	return n, err
}

// ListRunsOptions filters ListRuns.
type ListRunsOptions struct {
	ScheduleID string
	Status     RunStatus
	Limit      int
	Offset     int
}

// ListRuns returns paginated runs ordered by createdAt desc (spec §4.11
// "Run history").
func (s *Store) ListRuns(opts ListRunsOptions) ([]Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, schedule_id, trigger, status, created_at, started_at, finished_at, output_summary, error, session_id, token_cost, duration_ms
		FROM runs WHERE 1=1`
	var args []any
	if opts.ScheduleID != "" {
		query += " AND schedule_id=?"
		args = append(args, opts.ScheduleID)
	}
	if opts.Status != "" {
		query += " AND status=?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(r rowScanner) (Run, error) {
	var run Run
	var trigger, status, createdAt, startedAt, finishedAt string
	err := r.Scan(&run.ID, &run.ScheduleID, &trigger, &status, &createdAt, &startedAt, &finishedAt,
		&run.OutputSummary, &run.Error, &run.SessionID, &run.TokenCost, &run.DurationMs)
	if err != nil {
		return Run{}, err
	}
	run.Trigger = Trigger(trigger)
	run.Status = RunStatus(status)
	run.CreatedAt = parseTime(createdAt)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CountSchedulesForDir implements mesh.PulseScheduleCounter, letting the
// Mesh topology view enrich manifests with a Pulse schedule count (spec
// §3 "Topology View").
func (s *Store) CountSchedulesForDir(workingDir string) int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schedules WHERE working_dir=?`, workingDir).Scan(&n); err != nil {
		return 0
	}
	return n
}
