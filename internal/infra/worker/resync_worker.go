package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Loader is satisfied by the pipeline synchronizer.
type Loader interface {
	LoadAll(ctx context.Context) error
}

// ResyncWorker reloads the lead collection on a fixed interval so that
// notifications lost outside a reconnect are eventually picked up.
type ResyncWorker struct {
	loader       Loader
	tickInterval time.Duration
	loadTimeout  time.Duration
	logger       *zap.Logger
}

func NewResyncWorker(loader Loader, interval time.Duration, logger *zap.Logger) *ResyncWorker {
	return &ResyncWorker{
		loader:       loader,
		tickInterval: interval,
		loadTimeout:  30 * time.Second,
		logger:       logger.Named("resync-worker"),
	}
}

// Start blocks until ctx is done. The first reload happens one interval in;
// the synchronizer loads on its own at startup.
func (w *ResyncWorker) Start(ctx context.Context) {
	w.logger.Info("resync worker started", zap.Duration("interval", w.tickInterval))

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("resync worker stopped")
			return
		case <-ticker.C:
			w.reload(ctx)
		}
	}
}

func (w *ResyncWorker) reload(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.loadTimeout)
	defer cancel()

	start := time.Now()
	if err := w.loader.LoadAll(ctx); err != nil {
		w.logger.Warn("periodic reload failed", zap.Error(err))
		return
	}
	w.logger.Debug("periodic reload done", zap.Duration("took", time.Since(start)))
}
