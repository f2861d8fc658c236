package sketch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor prunes an artifact store on a fixed interval.
type Janitor struct {
	store    ArtifactStore
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewJanitor creates a janitor. It does nothing until Start is called.
func NewJanitor(store ArtifactStore, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one prune immediately and then one per interval until Stop is
// called or ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		defer close(j.done)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.prune(ctx)
		for {
			select {
			case <-ticker.C:
				j.prune(ctx)
			case <-j.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit. Start must have been called.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	<-j.done
}

func (j *Janitor) prune(ctx context.Context) {
	n, err := j.store.Prune(ctx, time.Now())
	if err != nil {
		j.logger.Warn("sketch prune failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("pruned sketches", "removed", n)
	}
}
