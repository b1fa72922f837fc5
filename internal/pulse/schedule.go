// Package pulse is the Pulse Scheduler: a cron-based dispatcher that runs
// agent prompts through the Agent Manager (optionally via Relay) on a
// schedule, with concurrency limiting, an approval state machine, manual
// triggering, cancellation, and paginated run history (spec §4.11).
package pulse

import (
	"time"

	"github.com/dorkos/dorkos/internal/runtime"
)

// Status is a Schedule's lifecycle status.
type Status string

const (
	StatusActive          Status = "active"
	StatusPendingApproval Status = "pending_approval"
	StatusPaused          Status = "paused"
	StatusErrored         Status = "errored"
)

// Trigger names how a Run was started.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunStatus is a Run's lifecycle status.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// DefaultConcurrencyCap is the max concurrent runs per schedule (spec §4.11,
// §5 "Pulse never dispatches a schedule while the prior run is still
// running").
const DefaultConcurrencyCap = 1

// TickInterval is how often the tick thread wakes to check for due
// schedules (spec §4.11 "a tick thread wakes every 30 s").
const TickInterval = 30 * time.Second

// Schedule is a Pulse schedule (spec §3 "Pulse Schedule").
type Schedule struct {
	ID             string
	Name           string
	CronExpr       string
	Timezone       string // IANA zone name; empty means local
	WorkingDir     string // nullable
	Prompt         string
	PermissionMode runtime.PermissionMode
	Model          string // optional
	MaxRuntimeMs   int64  // 0 means no cap
	Enabled        bool
	Status         Status
	Approver       string // optional
	Creator        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastRunAt      time.Time
}

// Runnable reports whether the schedule may dispatch (spec §3 invariant:
// "a schedule may run only when enabled AND status = active").
func (s Schedule) Runnable() bool {
	return s.Enabled && s.Status == StatusActive
}

// Run is one execution of a Pulse schedule (spec §3 "Pulse Run").
type Run struct {
	ID            string
	ScheduleID    string
	Trigger       Trigger
	Status        RunStatus
	CreatedAt     time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	OutputSummary string
	Error         string
	SessionID     string
	TokenCost     int64
	DurationMs    int64
}
