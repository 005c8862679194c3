package worker

import (
	"context"
	"time"

	"legalease/internal/logger"
)

const DefaultSweepInterval = time.Minute

// StartIdleSweeper retires actors that have been idle longer than idle.
func (m *Manager) StartIdleSweeper(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go m.sweepLoop(ctx, idle, interval)
}

func (m *Manager) sweepLoop(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweepIdle(idle); n > 0 {
				m.log.Info("idle sessions retired", logger.Int("count", n))
			}
		}
	}
}

// sweepIdle runs under the manager lock so no task can be queued on an actor
// while it is being retired.
func (m *Manager) sweepIdle(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	retired := 0
	for id, state := range m.sessions {
		if state.busy.Load() || len(state.taskCh) > 0 || state.idleSince().After(cutoff) {
			continue
		}
		state.close()
		delete(m.sessions, id)
		retired++
	}
	return retired
}
