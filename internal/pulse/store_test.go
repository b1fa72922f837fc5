package pulse

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSchedule(t *testing.T) {
	s := newTestStore(t)
	sched := Schedule{ID: "sched1", Name: "nightly", CronExpr: "0 2 * * *", Prompt: "do the thing", Enabled: true, Status: StatusActive}
	if _, err := s.CreateSchedule(sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	got, ok, err := s.GetSchedule("sched1")
	if err != nil || !ok {
		t.Fatalf("GetSchedule: ok=%v err=%v", ok, err)
	}
	if got.Name != "nightly" || !got.Runnable() {
		t.Fatalf("unexpected schedule: %+v", got)
	}
}

func TestUpdateScheduleChangesFields(t *testing.T) {
	s := newTestStore(t)
	sched, _ := s.CreateSchedule(Schedule{ID: "sched2", Name: "old", CronExpr: "* * * * *", Prompt: "p", Status: StatusPaused})
	sched.Name = "new"
	sched.Status = StatusActive
	sched.Enabled = true
	if err := s.UpdateSchedule(sched); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	got, _, _ := s.GetSchedule("sched2")
	if got.Name != "new" || !got.Runnable() {
		t.Fatalf("expected updated schedule, got %+v", got)
	}
}

func TestDeleteScheduleIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.CreateSchedule(Schedule{ID: "sched3", Name: "x", CronExpr: "* * * * *", Prompt: "p"})
	if err := s.DeleteSchedule("sched3"); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if err := s.DeleteSchedule("sched3"); err != nil {
		t.Fatalf("DeleteSchedule (again): %v", err)
	}
	if _, ok, _ := s.GetSchedule("sched3"); ok {
		t.Fatal("expected schedule to be gone")
	}
}

func TestDueSchedulesFiltersByEnabledAndStatus(t *testing.T) {
	s := newTestStore(t)
	s.CreateSchedule(Schedule{ID: "active", Name: "a", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusActive})
	s.CreateSchedule(Schedule{ID: "paused", Name: "b", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusPaused})
	s.CreateSchedule(Schedule{ID: "disabled", Name: "c", CronExpr: "* * * * *", Prompt: "p", Enabled: false, Status: StatusActive})

	due, err := s.DueSchedules()
	if err != nil {
		t.Fatalf("DueSchedules: %v", err)
	}
	if len(due) != 1 || due[0].ID != "active" {
		t.Fatalf("expected only 'active', got %+v", due)
	}
}

func TestRunLifecycleAndHistory(t *testing.T) {
	s := newTestStore(t)
	s.CreateSchedule(Schedule{ID: "sched4", Name: "x", CronExpr: "* * * * *", Prompt: "p"})

	run, err := s.CreateRun(Run{ID: "run1", ScheduleID: "sched4", Trigger: TriggerManual, Status: RunRunning})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	n, err := s.CountRunningForSchedule("sched4")
	if err != nil || n != 1 {
		t.Fatalf("CountRunningForSchedule: n=%d err=%v", n, err)
	}

	run.Status = RunCompleted
	run.OutputSummary = "done"
	run.FinishedAt = time.Now()
	if err := s.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	n, _ = s.CountRunningForSchedule("sched4")
	if n != 0 {
		t.Fatalf("expected 0 running after completion, got %d", n)
	}

	runs, err := s.ListRuns(ListRunsOptions{ScheduleID: "sched4"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].OutputSummary != "done" {
		t.Fatalf("unexpected run history: %+v", runs)
	}
}

func TestCountSchedulesForDir(t *testing.T) {
	s := newTestStore(t)
	s.CreateSchedule(Schedule{ID: "sched5", Name: "x", CronExpr: "* * * * *", Prompt: "p", WorkingDir: "/ws/a"})
	s.CreateSchedule(Schedule{ID: "sched6", Name: "y", CronExpr: "* * * * *", Prompt: "p", WorkingDir: "/ws/a"})
	s.CreateSchedule(Schedule{ID: "sched7", Name: "z", CronExpr: "* * * * *", Prompt: "p", WorkingDir: "/ws/b"})

	if n := s.CountSchedulesForDir("/ws/a"); n != 2 {
		t.Fatalf("expected 2 schedules for /ws/a, got %d", n)
	}
}
