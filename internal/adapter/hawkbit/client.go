// Package hawkbit registers devices as targets in Eclipse hawkBit through
// its Management REST API.
package hawkbit

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Strob0t/iotbridge/internal/adapter/restclient"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/port/devicemgmt"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

const (
	serviceName    = "hawkbit"
	requestTimeout = 10 * time.Second
)

// Client talks to the hawkBit Management API with basic auth.
type Client struct {
	rc *restclient.Client
}

var _ devicemgmt.Registry = (*Client)(nil)

// New creates a Client. password is read on every request.
func New(cfg config.HawkBit, password func() string, breaker *resilience.Breaker) *Client {
	rc := restclient.New(serviceName, cfg.URL+"/rest/v1", nil, requestTimeout)
	rc.SetAuth(func(r *http.Request) error {
		r.SetBasicAuth(cfg.User, password())
		return nil
	})
	if breaker != nil {
		rc.SetBreaker(breaker)
	}
	return &Client{rc: rc}
}

// GetTarget returns the target or nil when hawkBit does not know it.
func (c *Client) GetTarget(ctx context.Context, controllerID string) (*devicemgmt.Target, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Op:     "get target",
		Method: http.MethodGet,
		Path:   "/targets/" + url.PathEscape(controllerID),
		OK:     []int{http.StatusOK, http.StatusNotFound},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	var t devicemgmt.Target
	if err := resp.JSON(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTarget creates the target and then attaches attrs, if any.
func (c *Client) CreateTarget(ctx context.Context, controllerID, name string, attrs map[string]string) (*devicemgmt.Target, error) {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Op:     "create target",
		Method: http.MethodPost,
		Path:   "/targets",
		Body:   []devicemgmt.Target{{ControllerID: controllerID, Name: name}},
	})
	if err != nil {
		return nil, err
	}
	var created []devicemgmt.Target
	if err := resp.JSON(&created); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, errors.New("hawkbit create target: empty response")
	}

	if len(attrs) > 0 {
		if _, err := c.rc.Do(ctx, restclient.Request{
			Op:     "set target attributes",
			Method: http.MethodPut,
			Path:   "/targets/" + url.PathEscape(controllerID) + "/attributes",
			Body:   attrs,
		}); err != nil {
			return nil, err
		}
	}
	return &created[0], nil
}
