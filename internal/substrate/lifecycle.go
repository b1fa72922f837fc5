package substrate

import (
	"fmt"
	"log/slog"
	"sync"
)

// Closer is any subsystem whose shutdown must be idempotent.
type Closer interface {
	Close() error
}

// namedCloser pairs a Closer with the name used in log lines and error wraps.
type namedCloser struct {
	name   string
	closer Closer
	once   sync.Once
	err    error
}

// Lifecycle runs subsystem init in dependency order (Relay → Mesh → Pulse,
// all after the Agent Manager and the ID/log services per spec §4.13) and
// shuts down in reverse order, idempotently.
type Lifecycle struct {
	log     *slog.Logger
	mu      sync.Mutex
	entries []*namedCloser
}

// NewLifecycle builds an empty ordered lifecycle.
func NewLifecycle(log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{log: log}
}

// Register appends a subsystem to the shutdown order. Call in init order;
// Close walks this list in reverse.
func (l *Lifecycle) Register(name string, closer Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, &namedCloser{name: name, closer: closer})
}

// Close shuts every registered subsystem down in reverse registration order.
// Each subsystem's Close is invoked at most once even if Close is called
// multiple times. Errors are collected and joined; a failure in one
// subsystem does not prevent the others from closing.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	entries := make([]*namedCloser, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.once.Do(func() {
			if err := e.closer.Close(); err != nil {
				e.err = err
				l.log.Warn("substrate.lifecycle.close_failed", "subsystem", e.name, "error", err)
			} else {
				l.log.Info("substrate.lifecycle.closed", "subsystem", e.name)
			}
		})
		if e.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, e.err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "multiple subsystems failed to close:"
	for _, e := range errs {
		msg += " " + e.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}
