package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Pinger is the store health check used for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Group runs one scheduler per region, each in its own goroutine.
type Group struct {
	log        *slog.Logger
	store      Pinger
	schedulers []*Scheduler
}

type RegionStatus struct {
	Region string `json:"region"`
	State  string `json:"state"`
	Stats  Stats  `json:"stats"`
}

type GroupStatus struct {
	Store   string         `json:"store"`
	Regions []RegionStatus `json:"regions"`
}

func NewGroup(log *slog.Logger, store Pinger, schedulers ...*Scheduler) (*Group, error) {
	if log == nil {
		log = slog.Default()
	}
	seen := map[string]struct{}{}
	for _, s := range schedulers {
		if _, dup := seen[s.Region()]; dup {
			return nil, fmt.Errorf("crawler: region %q scheduled twice", s.Region())
		}
		seen[s.Region()] = struct{}{}
	}
	return &Group{log: log, store: store, schedulers: schedulers}, nil
}

// Run blocks until every scheduler has stopped, which only happens once ctx
// ends.
func (g *Group) Run(ctx context.Context) error {
	if len(g.schedulers) == 0 {
		g.log.Warn("no crawl regions configured")
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	wg.Add(len(g.schedulers))
	for _, s := range g.schedulers {
		go func() {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.log.Error("crawler exited", "region", s.Region(), "err", err)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Request hands codes to every region whose prefixes match them and returns
// how many were queued.
func (g *Group) Request(codes ...string) int {
	n := 0
	for _, s := range g.schedulers {
		n += s.Request(codes...)
	}
	return n
}

func (g *Group) Status(ctx context.Context) GroupStatus {
	out := GroupStatus{Store: "ok", Regions: make([]RegionStatus, 0, len(g.schedulers))}
	if g.store != nil {
		if err := g.store.Ping(ctx); err != nil {
			out.Store = err.Error()
		}
	}
	for _, s := range g.schedulers {
		out.Regions = append(out.Regions, RegionStatus{
			Region: s.Region(),
			State:  s.State().String(),
			Stats:  s.Stats(),
		})
	}
	return out
}

// Readiness is ready while the tile store answers pings.
func (g *Group) Readiness(ctx context.Context) (bool, any) {
	st := g.Status(ctx)
	return st.Store == "ok", st
}
