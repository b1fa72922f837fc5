package mesh

import (
	"context"
	"time"
)

// HealthSweepInterval is how often the background health recomputation runs
// (spec §4.10, "A background task recomputes and emits health_changed
// events when a manifest crosses a threshold").
const HealthSweepInterval = 30 * time.Second

// RunHealthSweep polls manifest health on a ticker and emits health_changed
// events on transition, until ctx is canceled. Grounded on
// agentmgr.Manager.CheckSessionHealth's ticker-driven sweep shape, applied to
// manifest liveness instead of session idleness.
func (r *Registry) RunHealthSweep(ctx context.Context) {
	ticker := time.NewTicker(HealthSweepInterval)
	defer ticker.Stop()

	last := map[string]Health{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(last)
		}
	}
}

func (r *Registry) sweepOnce(last map[string]Health) {
	manifests, err := r.List(ListOptions{})
	if err != nil {
		r.logger.Warn("mesh: health sweep list failed", "error", err)
		return
	}
	now := time.Now()
	for _, m := range manifests {
		h := DeriveHealth(m.LastSeenAt, now)
		if prev, ok := last[m.ID]; ok && prev != h {
			r.emit(Event{Kind: EventHealthChanged, ManifestID: m.ID, Timestamp: now, Detail: string(h)})
		}
		last[m.ID] = h
	}
}
