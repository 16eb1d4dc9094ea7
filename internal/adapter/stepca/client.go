// Package stepca talks to a smallstep step-ca: it signs CSRs with one-time
// tokens minted from JWK provisioner keys, fetches the root certificate and
// manages provisioners through the admin API.
package stepca

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

const (
	serviceName  = "step-ca"
	adminTimeout = 15 * time.Second
	// pageLimit is the page size requested from the provisioner directory.
	pageLimit = 100
)

// Client is the shared connection to one step-ca instance.
type Client struct {
	rc          *restclient.Client
	readTimeout time.Duration
	signTimeout time.Duration
	now         func() time.Time
}

// New creates a Client. A nil breaker disables circuit breaking.
func New(cfg config.StepCA, breaker *resilience.Breaker) *Client {
	rc := restclient.New(serviceName, cfg.URL, restclient.NewHTTPClient(cfg.InsecureSkipVerify), cfg.ReadTimeout)
	if breaker != nil {
		rc.SetBreaker(breaker)
	}
	return &Client{
		rc:          rc,
		readTimeout: cfg.ReadTimeout,
		signTimeout: cfg.SignTimeout,
		now:         time.Now,
	}
}

// URL returns the CA base URL.
func (c *Client) URL() string { return c.rc.BaseURL() }

func (c *Client) signURL() string  { return c.rc.BaseURL() + "/1.0/sign" }
func (c *Client) adminURL() string { return c.rc.BaseURL() + "/admin" }

// provisionerEntry is one element of the public provisioner directory.
type provisionerEntry struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	EncryptedKey string `json:"encryptedKey"`
}

// listProvisioners walks every page of GET /1.0/provisioners.
func (c *Client) listProvisioners(ctx context.Context) ([]provisionerEntry, error) {
	var (
		all    []provisionerEntry
		cursor string
	)
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		resp, err := c.rc.Do(ctx, restclient.Request{
			Op:      "list provisioners",
			Method:  http.MethodGet,
			Path:    "/1.0/provisioners?" + q.Encode(),
			Timeout: c.readTimeout,
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			Provisioners []provisionerEntry `json:"provisioners"`
			NextCursor   string             `json:"nextCursor"`
		}
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		all = append(all, page.Provisioners...)
		if page.NextCursor == "" || page.NextCursor == cursor || len(page.Provisioners) == 0 {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
