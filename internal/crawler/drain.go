package crawler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/logger"
	"github.com/mohammed-shakir/quadtile-crawler/internal/refreshevents"
)

// cargo splits codes into chunks of at most size, preserving order.
func cargo(codes []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	out := make([][]string, 0, (len(codes)+size-1)/size)
	for len(codes) > 0 {
		n := min(size, len(codes))
		out = append(out, codes[:n:n])
		codes = codes[n:]
	}
	return out
}

// drain hands the loaded queue to Workers goroutines, one chunk at a time.
// Every refresh also waits on the shared rate limiter, so in-flight calls are
// bounded by Workers and throughput by RatePerSec.
func (s *Scheduler) drain(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	ctx = logger.WithPassID(ctx, logger.NewID())
	chunks := cargo(queue, s.cfg.CargoSize)
	jobs := make(chan []string)
	var attempted atomic.Int64

	workerN := min(s.cfg.Workers, len(chunks))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				for _, code := range chunk {
					if ctx.Err() != nil {
						return
					}
					s.refreshOne(ctx, code, &attempted)
				}
			}
		}()
	}

feed:
	for _, c := range chunks {
		select {
		case jobs <- c:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	n := attempted.Load()
	s.log.InfoContext(ctx, "pass drained", "tiles", len(queue), "attempted", n)

	// every tile was deduped: the store keeps returning tiles this process
	// already handled, so back off instead of spinning
	if n == 0 && len(queue) > 0 {
		s.setState(IdleWait)
		return nil
	}
	s.setState(Loading)
	return nil
}

func (s *Scheduler) refreshOne(ctx context.Context, code string, attempted *atomic.Int64) {
	if s.recent != nil && s.recent.Contains(code) {
		s.skipped.Add(1)
		observability.ObserveCrawlTile(s.cfg.Region, "skipped")
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	attempted.Add(1)

	err := s.refresher.RefreshTile(ctx, code)
	if err != nil && ctx.Err() != nil {
		return
	}
	ok := err == nil
	if ok {
		s.refreshed.Add(1)
		observability.ObserveCrawlTile(s.cfg.Region, "success")
		if s.recent != nil {
			s.recent.Add(code, struct{}{})
		}
	} else {
		s.failed.Add(1)
		observability.ObserveCrawlTile(s.cfg.Region, "failure")
		s.log.WarnContext(ctx, "tile refresh failed", "tile", code, "err", err)
	}

	ts := s.now()
	if ok || s.cfg.AdvanceOnFailure {
		if serr := s.store.SetRefreshTimestamp(ctx, code, ts); serr != nil && ctx.Err() == nil {
			s.storeErrs.Add(1)
			s.log.ErrorContext(ctx, "updating refresh timestamp failed", "tile", code, "err", serr)
		}
	}

	if s.events != nil {
		s.events.Publish(refreshevents.Event{
			TileIndex: code,
			Region:    s.cfg.Region,
			OK:        ok,
			TS:        ts.UTC(),
		})
	}
}
