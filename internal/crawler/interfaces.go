package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// SnapshotStore persists the last completed snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (catalog.Snapshot, bool)
	Save(ctx context.Context, products []catalog.Product) error
	Invalidate(ctx context.Context)
	Exists(ctx context.Context) bool
}

// pauseController abstracts how the orchestrator waits between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
