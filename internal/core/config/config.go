package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/quadtile-crawler/internal/mercator"
)

type StoreCfg struct {
	Driver      string
	RedisAddr   string
	Namespace   string
	PostgresDSN string
	OpTimeout   time.Duration
}

type CrawlCfg struct {
	Regions          []RegionSpec
	CrawlZoom        int
	RegionZoom       int
	StaleAfter       time.Duration
	IdleDelay        time.Duration
	LoadLimit        int
	Workers          int
	CargoSize        int
	RatePerSec       float64
	RateBurst        int
	AdvanceOnFailure bool
	DedupeSize       int
	DedupeWindow     time.Duration
}

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

type RequestsCfg struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	GroupID      string
	OffsetOldest bool
}

// RegionSpec is a named area in the "south,west|north,east" wire form.
type RegionSpec struct {
	Name   string
	Bounds string
}

type Config struct {
	Addr               string
	LogLevel           string
	LogConsole         bool
	LogSampleN         int
	MetricsEnabled     bool
	PlacesURL          string
	PlacesTimeout      time.Duration
	MaxQuerySpanMeters float64
	Store              StoreCfg
	Crawl              CrawlCfg
	Events             EventsCfg
	Requests           RequestsCfg
}

func FromEnv() Config {
	crawlZoom := clampZoom(getint("CRAWL_ZOOM", 16))
	regionZoom := clampZoom(getint("REGION_ZOOM", 12))
	if regionZoom > crawlZoom {
		regionZoom = crawlZoom
	}

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogConsole:         getbool("LOG_CONSOLE", false),
		LogSampleN:         getint("LOG_SAMPLE_N", 0),
		MetricsEnabled:     getbool("METRICS_ENABLED", true),
		PlacesURL:          getenv("PLACES_URL", "http://localhost:8081/places/refresh"),
		PlacesTimeout:      getduration("PLACES_TIMEOUT", 10*time.Second),
		MaxQuerySpanMeters: getfloat("MAX_QUERY_SPAN_METERS", 5000),
		Store: StoreCfg{
			Driver:      strings.ToLower(getenv("STORE_DRIVER", "redis")),
			RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
			Namespace:   getenv("TILEINFO_NAMESPACE", "tileinfo"),
			PostgresDSN: getenv("PG_DSN", "postgres://postgres@localhost:5432/tiles?sslmode=disable"),
			OpTimeout:   getduration("STORE_OP_TIMEOUT", 5*time.Second),
		},
		Crawl: CrawlCfg{
			Regions:          parseRegions(getenv("CRAWL_REGIONS", "")),
			CrawlZoom:        crawlZoom,
			RegionZoom:       regionZoom,
			StaleAfter:       getduration("CRAWL_STALE_AFTER", 24*time.Hour),
			IdleDelay:        getduration("CRAWL_IDLE_DELAY", 5*time.Minute),
			LoadLimit:        getint("CRAWL_LOAD_LIMIT", 200),
			Workers:          getint("CRAWL_WORKERS", 4),
			CargoSize:        getint("CRAWL_CARGO_SIZE", 10),
			RatePerSec:       getfloat("CRAWL_RATE_PER_SEC", 5),
			RateBurst:        getint("CRAWL_RATE_BURST", 1),
			AdvanceOnFailure: getbool("CRAWL_ADVANCE_ON_FAILURE", true),
			DedupeSize:       getint("CRAWL_DEDUPE_SIZE", 4096),
			DedupeWindow:     getduration("CRAWL_DEDUPE_WINDOW", 10*time.Minute),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: split(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "tile-refresh"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		Requests: RequestsCfg{
			Enabled:      getbool("REQUESTS_ENABLED", false),
			Brokers:      split(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:        getenv("KAFKA_REQUEST_TOPIC", "tile-refresh-requests"),
			GroupID:      getenv("KAFKA_GROUP_ID", "quadtile-crawler"),
			OffsetOldest: getbool("KAFKA_OFFSET_OLDEST", false),
		},
	}
}

func clampZoom(z int) int {
	if z < 0 {
		return 0
	}
	if z > mercator.MaxZoom {
		return mercator.MaxZoom
	}
	return z
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

// parse "sf=37.70,-122.52|37.82,-122.35;oak=..." into region specs.
// Bounds are validated later, where a bad region is reported by name.
func parseRegions(s string) []RegionSpec {
	var out []RegionSpec
	seen := map[string]struct{}{}
	for p := range strings.SplitSeq(strings.TrimSpace(s), ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, RegionSpec{Name: name, Bounds: strings.TrimSpace(kv[1])})
	}
	return out
}

func (c Config) String() string {
	return fmt.Sprintf("addr=%s store=%s regions=%d crawl_zoom=%d region_zoom=%d",
		c.Addr, c.Store.Driver, len(c.Crawl.Regions), c.Crawl.CrawlZoom, c.Crawl.RegionZoom)
}
