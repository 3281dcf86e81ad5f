package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.Store.Driver != "redis" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Crawl.CrawlZoom != 16 || cfg.Crawl.RegionZoom != 12 {
		t.Fatalf("zoom defaults=%d/%d", cfg.Crawl.CrawlZoom, cfg.Crawl.RegionZoom)
	}
	if !cfg.Crawl.AdvanceOnFailure {
		t.Fatalf("failed refreshes advance the timestamp by default")
	}
	if cfg.Requests.Enabled || cfg.Requests.Topic != "tile-refresh-requests" || cfg.Requests.GroupID != "quadtile-crawler" {
		t.Fatalf("requests defaults=%+v", cfg.Requests)
	}
	if len(cfg.Crawl.Regions) != 0 {
		t.Fatalf("no regions expected by default, got %v", cfg.Crawl.Regions)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CRAWL_ZOOM", "40")
	t.Setenv("REGION_ZOOM", "30")
	t.Setenv("CRAWL_STALE_AFTER", "90m")
	t.Setenv("CRAWL_ADVANCE_ON_FAILURE", "no")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("CRAWL_RATE_PER_SEC", "not-a-number")

	cfg := FromEnv()
	if cfg.Crawl.CrawlZoom != 23 || cfg.Crawl.RegionZoom != 23 {
		t.Fatalf("zooms must clamp to 23, got %d/%d", cfg.Crawl.CrawlZoom, cfg.Crawl.RegionZoom)
	}
	if cfg.Crawl.StaleAfter != 90*time.Minute {
		t.Fatalf("StaleAfter=%v", cfg.Crawl.StaleAfter)
	}
	if cfg.Crawl.AdvanceOnFailure {
		t.Fatalf("AdvanceOnFailure should be false")
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("driver=%q", cfg.Store.Driver)
	}
	if !reflect.DeepEqual(cfg.Events.Brokers, []string{"a:9092", "b:9092"}) {
		t.Fatalf("brokers=%v", cfg.Events.Brokers)
	}
	if cfg.Crawl.RatePerSec != 5 {
		t.Fatalf("bad float must fall back to default, got %v", cfg.Crawl.RatePerSec)
	}
}

func TestFromEnv_RegionZoomNeverFinerThanCrawlZoom(t *testing.T) {
	t.Setenv("CRAWL_ZOOM", "10")
	t.Setenv("REGION_ZOOM", "14")
	cfg := FromEnv()
	if cfg.Crawl.RegionZoom != 10 {
		t.Fatalf("RegionZoom=%d want 10", cfg.Crawl.RegionZoom)
	}
}

func TestParseRegions(t *testing.T) {
	got := parseRegions(" sf=37.70,-122.52|37.82,-122.35 ; bad ; =1,1|2,2; sf=0,0|1,1; oak = 37.7,-122.3|37.9,-122.1 ")
	want := []RegionSpec{
		{Name: "sf", Bounds: "37.70,-122.52|37.82,-122.35"},
		{Name: "oak", Bounds: "37.7,-122.3|37.9,-122.1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
}
