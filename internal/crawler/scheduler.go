// Package crawler runs the per-region crawl loop that keeps TileInfo
// timestamps fresh by asking an external place service to refresh stale
// tiles.
//
// One Scheduler owns one region. It seeds the region's tiles once, then
// alternates between loading the stalest tiles and draining them through a
// rate-limited worker pool, and sleeps when nothing is stale.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/logger"
	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/refreshevents"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
)

type State int

const (
	Seeding State = iota
	Loading
	Draining
	IdleWait
)

var stateNames = []string{"SEEDING", "LOADING", "DRAINING", "IDLE-WAIT"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Refresher performs the external per-tile refresh.
type Refresher interface {
	RefreshTile(ctx context.Context, code string) error
}

type RefresherFunc func(ctx context.Context, code string) error

func (f RefresherFunc) RefreshTile(ctx context.Context, code string) error { return f(ctx, code) }

// EventSink receives one event per refresh attempt. Publish must not block.
type EventSink interface {
	Publish(ev refreshevents.Event)
}

type Config struct {
	Region     string
	Bounds     quadtree.Bounds
	CrawlZoom  int
	RegionZoom int
	StaleAfter time.Duration
	IdleDelay  time.Duration
	LoadLimit  int
	Workers    int
	CargoSize  int
	RatePerSec float64
	RateBurst  int
	// AdvanceOnFailure stamps a tile even when its refresh failed, so a
	// permanently failing tile waits a full StaleAfter like any other.
	AdvanceOnFailure bool
	DedupeSize       int
	DedupeWindow     time.Duration
}

type Stats struct {
	Passes      int64 `json:"passes"`
	Seeded      int64 `json:"seeded"`
	Loaded      int64 `json:"loaded"`
	Refreshed   int64 `json:"refreshed"`
	Failed      int64 `json:"failed"`
	Skipped     int64 `json:"skipped"`
	StoreErrors int64 `json:"store_errors"`
	Requested   int64 `json:"requested"`
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep replaces the idle wait; it must return ctx.Err() when ctx ends.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func WithEvents(sink EventSink) Option {
	return func(s *Scheduler) { s.events = sink }
}

// WithLimiter replaces the per-scheduler limiter. Schedulers calling the same
// provider should share one so the cap holds across regions.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.limiter = l
		}
	}
}

// NewLimiter builds a limiter for perSec calls per second; perSec <= 0 means
// unlimited.
func NewLimiter(perSec float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

type Scheduler struct {
	cfg       Config
	store     tilestore.Store
	refresher Refresher
	log       *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	events    EventSink
	limiter   *rate.Limiter
	recent    *expirable.LRU[string, struct{}]
	prefixes  quadtree.PrefixSet

	mu      sync.Mutex
	state   State
	seeded  bool
	queue   []string
	pending []string
	wanted  map[string]struct{}

	wake chan struct{}

	passes, seededN, loaded, refreshed, failed, skipped, storeErrs, requested atomic.Int64
}

func New(cfg Config, store tilestore.Store, refresher Refresher, opts ...Option) (*Scheduler, error) {
	if cfg.Region == "" {
		return nil, errors.New("crawler: region name is required")
	}
	if !cfg.Bounds.IsSet() {
		return nil, fmt.Errorf("crawler: region %s: %w", cfg.Region, quadtree.ErrInvalidBounds)
	}
	if store == nil || refresher == nil {
		return nil, errors.New("crawler: store and refresher are required")
	}
	if cfg.RegionZoom > cfg.CrawlZoom {
		return nil, fmt.Errorf("crawler: region zoom %d finer than crawl zoom %d: %w",
			cfg.RegionZoom, cfg.CrawlZoom, quadtree.ErrInvalidZoom)
	}
	cfg = withDefaults(cfg)

	regionCodes, err := cfg.Bounds.TileIndexes(cfg.RegionZoom)
	if err != nil {
		return nil, fmt.Errorf("crawler: region %s: %w", cfg.Region, err)
	}
	if !mercator.ValidZoom(cfg.CrawlZoom) {
		return nil, fmt.Errorf("crawler: crawl zoom %d: %w", cfg.CrawlZoom, quadtree.ErrInvalidZoom)
	}
	prefixes, err := quadtree.SimplifyCodes(regionCodes)
	if err != nil {
		return nil, fmt.Errorf("crawler: region %s: %w", cfg.Region, err)
	}

	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		log:       slog.Default(),
		now:       time.Now,
		sleep:     sleepCtx,
		wanted:    map[string]struct{}{},
		limiter:   NewLimiter(cfg.RatePerSec, cfg.RateBurst),
		prefixes:  prefixes,
		state:     Seeding,
		wake:      make(chan struct{}, 1),
	}
	if cfg.DedupeSize > 0 && cfg.DedupeWindow > 0 {
		s.recent = expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeWindow)
	}
	for _, o := range opts {
		o(s)
	}
	observability.SetCrawlState(cfg.Region, Seeding.String(), stateNames)
	return s, nil
}

func withDefaults(c Config) Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 5 * time.Minute
	}
	if c.LoadLimit <= 0 {
		c.LoadLimit = 200
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CargoSize <= 0 {
		c.CargoSize = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

func (s *Scheduler) Region() string { return s.cfg.Region }

// Prefixes is the compressed matcher used to select this region's tiles.
func (s *Scheduler) Prefixes() quadtree.PrefixSet { return s.prefixes }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// maxPending bounds on-demand requests waiting for the next pass.
const maxPending = 10000

// Request queues codes for the next LOADING pass ahead of stale tiles and
// wakes an idle scheduler. Codes outside the region or already queued are
// ignored; it returns how many were accepted.
func (s *Scheduler) Request(codes ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range codes {
		if len(c) != s.cfg.CrawlZoom || !s.prefixes.Match(c) {
			continue
		}
		if _, dup := s.wanted[c]; dup || len(s.pending) >= maxPending {
			continue
		}
		if _, err := quadtree.TileFromCode(c); err != nil {
			continue
		}
		s.wanted[c] = struct{}{}
		s.pending = append(s.pending, c)
		if s.recent != nil {
			s.recent.Remove(c)
		}
		n++
	}
	if n > 0 {
		s.requested.Add(int64(n))
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return n
}

func (s *Scheduler) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	clear(s.wanted)
	// the codes are taken now; their token must not cut the next idle short
	select {
	case <-s.wake:
	default:
	}
	return p
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Passes:      s.passes.Load(),
		Seeded:      s.seededN.Load(),
		Loaded:      s.loaded.Load(),
		Refreshed:   s.refreshed.Load(),
		Failed:      s.failed.Load(),
		Skipped:     s.skipped.Load(),
		StoreErrors: s.storeErrs.Load(),
		Requested:   s.requested.Load(),
	}
}

// Run steps the state machine until ctx ends and returns ctx.Err().
// Store and refresh failures never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.WithComponent(logger.WithRegion(ctx, s.cfg.Region), "crawler")
	s.log.InfoContext(ctx, "crawler started",
		"crawl_zoom", s.cfg.CrawlZoom, "region_zoom", s.cfg.RegionZoom,
		"prefixes", len(s.prefixes), "workers", s.cfg.Workers, "rate", s.cfg.RatePerSec)
	for {
		if err := s.Step(ctx); err != nil {
			s.log.InfoContext(ctx, "crawler stopped", "state", s.State().String(), "reason", err)
			return err
		}
	}
}

// Step executes exactly one state transition. It only fails when ctx ends.
func (s *Scheduler) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = logger.WithRegion(ctx, s.cfg.Region)
	switch s.State() {
	case Seeding:
		return s.seed(ctx)
	case Loading:
		return s.load(ctx)
	case Draining:
		return s.drain(ctx)
	default:
		return s.idle(ctx)
	}
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	observability.SetCrawlState(s.cfg.Region, st.String(), stateNames)
}

func (s *Scheduler) seed(ctx context.Context) error {
	codes, err := s.cfg.Bounds.TileIndexes(s.cfg.CrawlZoom)
	if err != nil {
		// bounds and zoom were validated in New
		return fmt.Errorf("crawler: seed codes: %w", err)
	}
	n, err := s.store.BulkUpsert(ctx, codes, tilestore.NeverRefreshed)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.storeErrs.Add(1)
		s.log.ErrorContext(ctx, "seeding failed, retrying after idle delay", "tiles", len(codes), "err", err)
		s.setState(IdleWait)
		return nil
	}

	s.seededN.Add(int64(n))
	observability.AddSeededTiles(s.cfg.Region, n)
	s.log.InfoContext(ctx, "region seeded", "tiles", len(codes), "created", n)

	s.mu.Lock()
	s.seeded = true
	s.mu.Unlock()
	s.setState(Loading)
	return nil
}

func (s *Scheduler) load(ctx context.Context) error {
	olderThan := s.now().Add(-s.cfg.StaleAfter)
	codes, err := s.store.FindStaleTiles(ctx, s.prefixes, olderThan, s.cfg.LoadLimit)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	requested := s.takePending()
	if len(requested) > 0 {
		codes = mergeRequested(requested, codes)
	}
	s.passes.Add(1)
	observability.ObservePass(s.cfg.Region, len(codes), err)
	if err != nil && len(requested) == 0 {
		s.storeErrs.Add(1)
		s.log.ErrorContext(ctx, "loading stale tiles failed", "err", err)
		s.setState(IdleWait)
		return nil
	}
	if err != nil {
		s.storeErrs.Add(1)
		s.log.ErrorContext(ctx, "loading stale tiles failed, draining requested tiles only", "requested", len(requested), "err", err)
	}
	if len(codes) == 0 {
		s.log.DebugContext(ctx, "no stale tiles", "older_than", olderThan)
		s.setState(IdleWait)
		return nil
	}

	s.loaded.Add(int64(len(codes)))
	s.log.InfoContext(ctx, "stale tiles loaded", "tiles", len(codes), "requested", len(requested), "older_than", olderThan)

	s.mu.Lock()
	s.queue = codes
	s.mu.Unlock()
	s.setState(Draining)
	return nil
}

// mergeRequested puts requested codes first and drops their duplicates from
// the stale list.
func mergeRequested(requested, stale []string) []string {
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested)+len(stale))
	for _, c := range requested {
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range stale {
		if _, dup := seen[c]; !dup {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scheduler) idle(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.wake:
			cancel()
		case <-sctx.Done():
		}
	}()
	if err := s.sleep(sctx, s.cfg.IdleDelay); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	seeded := s.seeded
	s.mu.Unlock()
	if seeded {
		s.setState(Loading)
	} else {
		s.setState(Seeding)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
