package stepca

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/port/cache"
	"github.com/Strob0t/iotbridge/internal/port/pki"
)

// RootFetcher returns the root certificate matching a pinned fingerprint,
// caching it for ttl.
type RootFetcher struct {
	client      *Client
	fingerprint string
	cache       cache.Cache
	ttl         time.Duration
}

var _ pki.RootFetcher = (*RootFetcher)(nil)

// NewRootFetcher creates a RootFetcher. A nil cache disables caching.
func (c *Client) NewRootFetcher(fingerprint string, cc cache.Cache, ttl time.Duration) *RootFetcher {
	return &RootFetcher{client: c, fingerprint: fingerprint, cache: cc, ttl: ttl}
}

// Root fetches GET /1.0/root/{fingerprint}. Without a fingerprint it returns "".
func (f *RootFetcher) Root(ctx context.Context) (string, error) {
	if f.fingerprint == "" {
		return "", nil
	}
	key := "stepca:root:" + f.fingerprint
	if f.cache != nil {
		if v, ok, err := f.cache.Get(ctx, key); err == nil && ok {
			return string(v), nil
		}
	}

	resp, err := f.client.rc.Do(ctx, restclient.Request{
		Op:      "fetch root",
		Method:  http.MethodGet,
		Path:    "/1.0/root/" + url.PathEscape(f.fingerprint),
		Timeout: f.client.readTimeout,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		CA string `json:"ca"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", err
	}

	if f.cache != nil && out.CA != "" {
		if err := f.cache.Set(ctx, key, []byte(out.CA), f.ttl); err != nil {
			slog.WarnContext(ctx, "cache root certificate", "error", err)
		}
	}
	return out.CA, nil
}
