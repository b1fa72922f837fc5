package pulse

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dorkos/dorkos/internal/agentmgr"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/pkg/protocol"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	blockCh  chan struct{} // if non-nil, SendMessage blocks until ctx is done or this is closed
	lastOpts agentmgr.SendMessageOptions
}

func (f *fakeDispatcher) SendMessage(ctx context.Context, sessionKey, content string, opts agentmgr.SendMessageOptions, sink func(protocol.Event)) error {
	f.mu.Lock()
	f.calls++
	f.lastOpts = opts
	f.mu.Unlock()

	sink(protocol.Event{Type: protocol.EventTextDelta, Text: "hello"})
	if f.blockCh == nil {
		return nil
	}
	select {
	case <-f.blockCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestScheduler(t *testing.T, agent AgentDispatcher) (*Scheduler, *Store) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sc := New(Config{Store: store, IDs: idgen.New(nil), Agent: agent})
	return sc, store
}

func TestValidateCronExprRejectsGarbage(t *testing.T) {
	if err := ValidateCronExpr("not a cron expr"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Fatalf("expected a valid cron expression to pass, got %v", err)
	}
}

func TestRunNowRejectsNonActiveSchedule(t *testing.T) {
	sc, store := newTestScheduler(t, &fakeDispatcher{})
	store.CreateSchedule(Schedule{ID: "s1", Name: "x", CronExpr: "* * * * *", Prompt: "p", Status: StatusPendingApproval})

	if _, err := sc.RunNow(context.Background(), "s1"); err == nil {
		t.Fatal("expected RunNow to reject a pending_approval schedule")
	}
}

func TestRunNowDispatchesAndRecordsCompletion(t *testing.T) {
	agent := &fakeDispatcher{}
	sc, store := newTestScheduler(t, agent)
	store.CreateSchedule(Schedule{ID: "s2", Name: "x", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusActive})

	run, err := sc.RunNow(context.Background(), "s2")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if run.Trigger != TriggerManual || run.SessionID != run.ID {
		t.Fatalf("unexpected run: %+v", run)
	}

	waitForRunStatus(t, store, run.ID, RunCompleted)

	got, _, _ := store.GetRun(run.ID)
	if got.OutputSummary != "hello" {
		t.Fatalf("expected output summary 'hello', got %q", got.OutputSummary)
	}
}

func TestDispatchRejectsOverConcurrencyCap(t *testing.T) {
	block := make(chan struct{})
	agent := &fakeDispatcher{blockCh: block}
	defer close(block)

	sc, store := newTestScheduler(t, agent)
	store.CreateSchedule(Schedule{ID: "s3", Name: "x", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusActive})

	if _, err := sc.RunNow(context.Background(), "s3"); err != nil {
		t.Fatalf("first RunNow: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let the goroutine register as running

	if _, err := sc.RunNow(context.Background(), "s3"); err == nil {
		t.Fatal("expected second RunNow to be rejected at the concurrency cap")
	}
}

func TestCancelRunMarksCancelled(t *testing.T) {
	block := make(chan struct{})
	agent := &fakeDispatcher{blockCh: block}
	sc, store := newTestScheduler(t, agent)
	store.CreateSchedule(Schedule{ID: "s4", Name: "x", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusActive})

	run, err := sc.RunNow(context.Background(), "s4")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := sc.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	waitForRunStatus(t, store, run.ID, RunCancelled)
}

type fakeBus struct {
	published []string
}

func (f *fakeBus) Publish(subject string, payload any, opts relay.PublishOptions) (relay.PublishResult, error) {
	f.published = append(f.published, subject)
	return relay.PublishResult{MessageID: "m1"}, nil
}

func TestDispatchViaRelayPublishesOnPulseSubject(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	bus := &fakeBus{}
	sc := New(Config{Store: store, IDs: idgen.New(nil), Bus: bus})
	store.CreateSchedule(Schedule{ID: "s5", Name: "x", CronExpr: "* * * * *", Prompt: "p", Enabled: true, Status: StatusActive})

	run, err := sc.RunNow(context.Background(), "s5")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitForRunStatus(t, store, run.ID, RunCompleted)

	if len(bus.published) != 1 || bus.published[0] != "relay.system.pulse.s5" {
		t.Fatalf("expected a publish on relay.system.pulse.s5, got %+v", bus.published)
	}
}

func waitForRunStatus(t *testing.T, store *Store, runID string, want RunStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, ok, err := store.GetRun(runID)
		if err == nil && ok && run.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
}
