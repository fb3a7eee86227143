package offline0

import (
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"offline0/internal/cache"
)

// respStats tracks the sizes of responses served to pages.
type respStats struct {
	count atomic.Uint64
	total atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

func newRespStats() *respStats {
	s := &respStats{}
	s.min.Store(math.MaxUint64)
	return s
}

func (s *respStats) Observe(n int) {
	if n < 0 {
		n = 0
	}
	v := uint64(n)
	s.count.Add(1)
	s.total.Add(v)

	for cur := s.min.Load(); v < cur; cur = s.min.Load() {
		if s.min.CompareAndSwap(cur, v) {
			break
		}
	}
	for cur := s.max.Load(); v > cur; cur = s.max.Load() {
		if s.max.CompareAndSwap(cur, v) {
			break
		}
	}
}

type statsSnapshot struct {
	Responses uint64
	Min       uint64
	Avg       uint64
	Max       uint64
}

func (s *respStats) Snapshot() statsSnapshot {
	n := s.count.Load()
	if n == 0 {
		return statsSnapshot{}
	}
	return statsSnapshot{
		Responses: n,
		Min:       s.min.Load(),
		Avg:       s.total.Load() / n,
		Max:       s.max.Load(),
	}
}

// statsLoop logs one usage line per tick until stop is closed.
func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	ss := s.stats.Snapshot()
	fields := []zap.Field{
		zap.Int("clients", s.clients.Len()),
		zap.Uint64("responses", ss.Responses),
		zap.String("respMin", formatBytes(ss.Min)),
		zap.String("respAvg", formatBytes(ss.Avg)),
		zap.String("respMax", formatBytes(ss.Max)),
	}
	if u, ok := s.storage.(cache.Usage); ok {
		fields = append(fields,
			zap.Int("entries", u.EntryCount()),
			zap.String("storage", formatBytes(uint64(u.TotalSize()))),
		)
	}
	if rss, ok := processRSSBytes(); ok {
		fields = append(fields, zap.String("rss", formatBytes(rss)))
	}
	s.log.Info("stats", fields...)
}
