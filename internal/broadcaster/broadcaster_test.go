package broadcaster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dorkos/dorkos/pkg/protocol"
)

func TestBroadcasterEmitsSyncUpdateOnTranscriptWrite(t *testing.T) {
	root := t.TempDir()
	cwdDir := filepath.Join(root, "abc123")
	if err := os.MkdirAll(cwdDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	b := New(root, nil)
	received := make(chan protocol.Event, 1)
	b.Subscribe(func(ev protocol.Event) {
		select {
		case received <- ev:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	time.Sleep(50 * time.Millisecond) // let the watcher register the root + subdir

	transcriptFile := filepath.Join(cwdDir, "session1.jsonl")
	if err := os.WriteFile(transcriptFile, []byte(`{"role":"user","content":"hi"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != protocol.EventSyncUpdate || ev.SyncSessionID != "session1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync_update event")
	}
}

func TestScheduleNotifyDebouncesBurstsIntoOneEvent(t *testing.T) {
	b := New(t.TempDir(), nil)
	var count int
	done := make(chan struct{})
	b.Subscribe(func(ev protocol.Event) {
		count++
		select {
		case done <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 5; i++ {
		b.scheduleNotify("sessionX", "cwdhash")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced notify")
	}
	time.Sleep(50 * time.Millisecond)
	if count != 1 {
		t.Fatalf("expected exactly 1 notify from a debounced burst, got %d", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(t.TempDir(), nil)
	called := false
	unsub := b.Subscribe(func(ev protocol.Event) { called = true })
	unsub()

	b.notify("s1", "cwd")
	if called {
		t.Fatal("expected no delivery after unsubscribe")
	}
}
