// Package placeclient calls the external place-data service that refreshes
// the places inside one tile.
package placeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
)

const upstream = "places"

var ErrRefreshFailed = errors.New("place refresh failed")

type Client struct {
	base *url.URL
	hc   *http.Client
}

func New(rawURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("places url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("places url %q: scheme must be http or https", rawURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc}, nil
}

// RefreshTile asks the place service to refresh everything within the
// circle enclosing the tile. Any 2xx answer is a success.
func (c *Client) RefreshTile(ctx context.Context, code string) error {
	t, err := quadtree.TileFromCode(code)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(t), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency(upstream, err, time.Since(start).Seconds())
		return fmt.Errorf("refresh tile %s: %w", code, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = fmt.Errorf("refresh tile %s: status %d: %w", code, resp.StatusCode, ErrRefreshFailed)
	}
	observability.ObserveUpstreamLatency(upstream, err, time.Since(start).Seconds())
	return err
}

func (c *Client) urlFor(t quadtree.Tile) string {
	lat, lon := t.Center()
	u := *c.base
	q := u.Query()
	q.Set("tile", t.ToIndex())
	q.Set("lat", strconv.FormatFloat(lat, 'f', 7, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 7, 64))
	q.Set("radius", strconv.FormatFloat(t.EnclosingRadius(), 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String()
}
