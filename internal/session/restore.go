// ABOUTME: Startup restoration of previously paired sessions in bounded batches
// ABOUTME: Health sweep reconnecting sessions stuck in disconnected or error states

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RestoreAll reconnects every active agent's session in batches, pausing
// between batches so a fleet of sessions does not dial at once. Individual
// failures are logged and never abort the rest; agents without stored
// credentials are skipped rather than sent to pairing.
func (r *Registry) RestoreAll(ctx context.Context) {
	agents, err := r.store.ListActiveAgents(ctx)
	if err != nil {
		r.logger.Error("listing active agents failed", "error", err)
		return
	}
	if len(agents) == 0 {
		r.logger.Info("no active sessions to restore")
		return
	}

	concurrency := r.cfg.RestoreConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	r.logger.Info("restoring sessions", "count", len(agents), "concurrency", concurrency)

	for start := 0; start < len(agents); start += concurrency {
		end := min(start+concurrency, len(agents))

		var wg sync.WaitGroup
		for _, agent := range agents[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				r.restoreOne(ctx, id)
			}(agent.ID)
		}
		wg.Wait()

		if end < len(agents) {
			select {
			case <-ctx.Done():
				r.logger.Warn("session restore aborted", "restored", end, "total", len(agents))
				return
			case <-time.After(r.cfg.RestoreBatchDelay):
			}
		}
	}
	r.logger.Info("session restore complete", "count", len(agents))
}

func (r *Registry) restoreOne(ctx context.Context, id string) {
	if _, err := r.Connect(ctx, id, false); err != nil {
		if errors.Is(err, ErrNoRegisteredSession) {
			r.logger.Info("skipping agent without stored credentials", "session_id", id)
			return
		}
		r.logger.Error("session restore failed", "session_id", id, "error", err)
	}
}

// HealthSweep retries sessions sitting in disconnected or error states,
// never allowing a fresh pairing.
func (r *Registry) HealthSweep(ctx context.Context) {
	r.mu.Lock()
	var ids []string
	for id, sess := range r.sessions {
		if sess.status == StatusDisconnected || sess.status == StatusError {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.restoreOne(ctx, id)
	}
}
