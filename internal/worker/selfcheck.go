package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EnsureBucket recreates the current bucket and reseeds the core assets when
// the bucket is missing. It is a no-op when the bucket exists.
func (w *Worker) EnsureBucket(ctx context.Context) (bool, error) {
	_, ok, err := w.storage.Lookup(ctx, w.cacheName)
	if err != nil {
		return false, fmt.Errorf("lookup bucket %s: %w", w.cacheName, err)
	}
	if ok {
		return false, nil
	}

	b, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return false, fmt.Errorf("recreate bucket %s: %w", w.cacheName, err)
	}
	report := w.seed(ctx, b, w.core)
	w.log.Warn("bucket was missing, reseeded core assets",
		zap.String("cache", w.cacheName),
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)),
	)
	return true, nil
}

// SelfCheck runs one audit: bucket presence, then status and network
// broadcasts to controlled clients.
func (w *Worker) SelfCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.obs.SelfCheck(CheckError)
			w.log.Error("self-check panicked", zap.Any("panic", r))
		}
	}()

	reseeded, err := w.EnsureBucket(ctx)
	switch {
	case err != nil:
		w.obs.SelfCheck(CheckError)
		w.log.Warn("self-check failed", zap.Error(err))
	case reseeded:
		w.obs.SelfCheck(CheckReseeded)
	default:
		w.obs.SelfCheck(CheckOK)
	}

	if w.refreshed != nil {
		w.refreshed.DeleteExpired()
	}

	w.clients.Broadcast(ctx, w.status(time.Now()))
	if w.conn != nil {
		w.clients.Broadcast(ctx, w.networkStatus(ctx))
	}
}

// StartSelfCheck runs SelfCheck every interval until Close.
func (w *Worker) StartSelfCheck(every time.Duration) {
	if every <= 0 {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(w.ctx, every)
				w.SelfCheck(ctx)
				cancel()
			}
		}
	}()
}
