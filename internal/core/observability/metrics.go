package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_build_info",
			Help: "Build information for the crawler components.",
		},
		[]string{"version"},
	)

	crawlTilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_tiles_total",
			Help: "Tiles handled by the crawl scheduler by outcome.",
		},
		[]string{"region", "outcome"},
	)

	crawlPassTiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawl_pass_tiles",
			Help: "Stale tiles loaded by the most recent pass.",
		},
		[]string{"region"},
	)

	crawlPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_passes_total",
			Help: "Completed LOADING passes by result.",
		},
		[]string{"region", "result"},
	)

	crawlSeededTiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_seeded_tiles_total",
			Help: "Tile records submitted for seeding.",
		},
		[]string{"region"},
	)

	crawlState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawl_state",
			Help: "Current scheduler state (1 for the active state).",
		},
		[]string{"region", "state"},
	)

	storeOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilestore_op_total",
			Help: "Tile store operations by result.",
		},
		[]string{"driver", "op", "result"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilestore_operation_duration_seconds",
			Help:    "Tile store operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"driver", "op"},
	)

	refreshEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_events_total",
			Help: "Refresh outcome events handed to the producer by result.",
		},
		[]string{"result"},
	)

	refreshRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_requests_total",
			Help: "On-demand refresh requests consumed by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds, buildInfo,
		crawlTilesTotal, crawlPassTiles, crawlPassesTotal, crawlSeededTiles, crawlState,
		storeOpTotal, storeOpDuration, refreshEventsTotal, refreshRequestsTotal,
	}
}

// Init exposes the collectors on reg as well as the default registry.
// With on=false every Observe/Inc call becomes a no-op.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

// ObserveCrawlTile counts one tile outcome: "success", "failure" or "skipped".
func ObserveCrawlTile(region, outcome string) {
	if !enabled.Load() {
		return
	}
	crawlTilesTotal.WithLabelValues(region, outcome).Inc()
}

func ObservePass(region string, tiles int, err error) {
	if !enabled.Load() {
		return
	}
	crawlPassesTotal.WithLabelValues(region, result(err)).Inc()
	if err == nil {
		crawlPassTiles.WithLabelValues(region).Set(float64(tiles))
	}
}

func AddSeededTiles(region string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	crawlSeededTiles.WithLabelValues(region).Add(float64(n))
}

// SetCrawlState flips the state gauge so exactly one of states reads 1.
func SetCrawlState(region, state string, states []string) {
	if !enabled.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		crawlState.WithLabelValues(region, s).Set(v)
	}
}

func ObserveStoreOp(driver, op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	storeOpTotal.WithLabelValues(driver, op, result(err)).Inc()
	storeOpDuration.WithLabelValues(driver, op).Observe(durationSeconds)
}

func IncRefreshEvent(res string) {
	if !enabled.Load() {
		return
	}
	refreshEventsTotal.WithLabelValues(res).Inc()
}

// IncRefreshRequest counts one consumed request: "accepted", "ignored",
// "duplicate" or "invalid".
func IncRefreshRequest(res string) {
	if !enabled.Load() {
		return
	}
	refreshRequestsTotal.WithLabelValues(res).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
