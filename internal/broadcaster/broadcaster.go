// Package broadcaster is the Session Broadcaster: it watches the LLM
// runtime's transcript directory and emits sync_update Stream Events when a
// session's transcript file changes, so multiple transports observing the
// same session stay in sync (spec §4.12). No teacher module watches the
// transcript directory — this is built fresh, in the fsnotify watch-loop
// idiom haasonsaas-nexus/internal/skills/manager.go uses for its own
// filesystem watch (per-path debounce timer, fsnotify.Create/Write/Remove/
// Rename triggering a refresh), adapted from "refresh the skill registry"
// to "notify subscribers of one session".
package broadcaster

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dorkos/dorkos/pkg/protocol"
)

// Debounce coalesces bursts of writes to the same transcript file into one
// sync_update event (spec §4.12 "Debounces at 250 ms per session").
const Debounce = 250 * time.Millisecond

// Broadcaster watches root (the transcript root directory, laid out
// {root}/{hash(cwd)}/{sessionId}.jsonl per internal/transcript.Reader) and
// fans sync_update events out to subscribers.
type Broadcaster struct {
	root    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	subscribers map[string]func(protocol.Event)
	timers      map[string]*time.Timer // sessionID -> pending debounce timer
	watchedDirs map[string]struct{}
	nextSubID   int
}

// New builds a Broadcaster over root. Call Start to begin watching.
func New(root string, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		root:        root,
		logger:      logger,
		subscribers: map[string]func(protocol.Event){},
		timers:      map[string]*time.Timer{},
		watchedDirs: map[string]struct{}{},
	}
}

// Subscribe registers fn to receive every emitted sync_update event. The
// returned func unsubscribes.
func (b *Broadcaster) Subscribe(fn func(protocol.Event)) func() {
	b.mu.Lock()
	b.nextSubID++
	id := strconv.Itoa(b.nextSubID)
	b.subscribers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Start begins watching the transcript root, recursing into existing
// per-cwd subdirectories and picking up new ones as fsnotify reports them
// created. It blocks until ctx is canceled.
func (b *Broadcaster) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	b.watcher = watcher
	defer watcher.Close()

	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return err
	}
	if err := b.addWatch(b.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(b.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = b.addWatch(filepath.Join(b.root, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			b.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("broadcaster: watch error", "error", err)
		}
	}
}

func (b *Broadcaster) addWatch(dir string) error {
	b.mu.Lock()
	_, already := b.watchedDirs[dir]
	b.mu.Unlock()
	if already {
		return nil
	}
	if err := b.watcher.Add(dir); err != nil {
		return err
	}
	b.mu.Lock()
	b.watchedDirs[dir] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *Broadcaster) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = b.addWatch(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}
	sessionID := strings.TrimSuffix(filepath.Base(event.Name), ".jsonl")
	cwd := filepath.Base(filepath.Dir(event.Name))
	b.scheduleNotify(sessionID, cwd)
}

func (b *Broadcaster) scheduleNotify(sessionID, cwd string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[sessionID]; ok {
		t.Stop()
	}
	b.timers[sessionID] = time.AfterFunc(Debounce, func() {
		b.notify(sessionID, cwd)
	})
}

func (b *Broadcaster) notify(sessionID, cwd string) {
	ev := protocol.Event{
		Type:          protocol.EventSyncUpdate,
		SyncSessionID: sessionID,
		SyncCwd:       cwd,
	}
	b.mu.Lock()
	delete(b.timers, sessionID)
	subs := make([]func(protocol.Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
