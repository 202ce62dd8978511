// Package refresher forces a configuration refresh on a fixed interval so
// rotated credentials are picked up even when no queries are running.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/mediavault/internal/configcache"
	"github.com/systmms/mediavault/internal/logging"
)

// DefaultInterval is how often a refresh is forced.
const DefaultInterval = 5 * time.Minute

// Refresher forces configuration refreshes.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (configcache.Snapshot, error)
}

// BackgroundRefresher runs the refresh loop.
type BackgroundRefresher struct {
	cache    Refresher
	interval time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a refresher. A non-positive interval uses DefaultInterval.
func New(cache Refresher, interval time.Duration, logger *logging.Logger) *BackgroundRefresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BackgroundRefresher{cache: cache, interval: interval, logger: logger}
}

// Run ticks until ctx is done. Errors are logged and never stop the loop.
func (r *BackgroundRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick forces one refresh. Failures leave the previous configuration in place.
func (r *BackgroundRefresher) tick(ctx context.Context) {
	snap, err := r.cache.Refresh(ctx, true)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("Background refresh failed, keeping previous configuration: %v", err)
		return
	}
	if snap.ListenerErr != nil {
		r.logger.Warn("Background refresh could not rebuild: %v", snap.ListenerErr)
		return
	}
	if snap.Changes.Any() {
		r.logger.Info("Background refresh applied configuration changes")
	} else {
		r.logger.Debug("Background refresh: no changes")
	}
}

// Start runs the loop in a goroutine. Calling Start while running is a no-op.
func (r *BackgroundRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		r.Run(loopCtx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (r *BackgroundRefresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
