package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/router"
	mylog "github.com/mohammed-shakir/quadtile-crawler/internal/logger"
)

type readyStub bool

func (r readyStub) Readiness(context.Context) (bool, any) { return bool(r), nil }

func TestNewHandler_Routes(t *testing.T) {
	zl := mylog.Build(mylog.Config{Level: "error"}, nil)
	h := NewHandler(mylog.NewSlog(&zl), Deps{
		Ready:   readyStub(false),
		Metrics: promhttp.Handler(),
		Tiles:   router.NewTileAPI(nil, nil, 0),
	})

	cases := map[string]int{
		"/healthz":                          http.StatusOK,
		"/readyz":                           http.StatusServiceUnavailable,
		"/metrics":                          http.StatusOK,
		"/v1/tiles?bounds=1,1|1,1&zoom=3":   http.StatusOK,
		"/v1/tiles/0231":                    http.StatusOK,
		"/v1/tiles/9":                       http.StatusBadRequest,
		"/nope":                             http.StatusNotFound,
	}
	for url, want := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
		if rr.Code != want {
			t.Fatalf("%s: status=%d want %d", url, rr.Code, want)
		}
	}
}

func TestNewHandler_OptionalRoutes(t *testing.T) {
	h := NewHandler(mylog.NewSlog(nil), Deps{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("/readyz without reporter status=%d want 404", rr.Code)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, addr, mylog.NewSlog(nil), NewHandler(mylog.NewSlog(nil), Deps{})) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
}
