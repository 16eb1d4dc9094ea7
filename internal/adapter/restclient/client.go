// Package restclient is the shared JSON-over-HTTP transport of the upstream
// adapters (step-ca, RabbitMQ, Keycloak, hawkBit, InfluxDB). It classifies
// failures as domain.UpstreamError and guards each upstream with a breaker.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/resilience"
)

// maxResponseBody bounds how much of a response is read into memory.
const maxResponseBody = 4 << 20

// NewHTTPClient returns an instrumented http.Client. Per-call deadlines are
// applied through Request.Timeout, so the client itself has none.
func NewHTTPClient(insecureSkipVerify bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in for self-signed CAs
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// Client sends requests to one upstream service.
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *resilience.Breaker
	auth       func(*http.Request) error
}

// New creates a Client for service rooted at baseURL. A nil httpClient uses
// NewHTTPClient(false).
func New(service, baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(false)
	}
	return &Client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls. Only
// transport failures and 5xx answers count against it.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	b.SetTripFilter(Trips)
	c.breaker = b
}

// SetAuth installs a hook that decorates every request, e.g. with credentials.
func (c *Client) SetAuth(fn func(*http.Request) error) {
	c.auth = fn
}

// Service returns the upstream name used in errors.
func (c *Client) Service() string { return c.service }

// BaseURL returns the upstream root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one call.
type Request struct {
	// Op names the operation in errors, e.g. "sign".
	Op     string
	Method string
	// Path is appended to the base URL. Absolute URLs are used as is.
	Path string
	// Body is sent verbatim when it is []byte and as JSON otherwise.
	Body        any
	ContentType string
	Header      http.Header
	// OK lists the accepted status codes. Empty means any 2xx.
	OK []int
	// Timeout overrides the client default for this call.
	Timeout time.Duration
	// NoAuth skips the auth hook.
	NoAuth bool
}

// Response is a buffered HTTP answer with an accepted status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do executes r. Transport errors, timeouts and an open breaker yield an
// UpstreamError that unwraps to domain.ErrUnavailable; unaccepted statuses
// one that unwraps to domain.ErrUpstream.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	body, contentType, err := encodeBody(r.Body, r.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.service, r.Op, err)
	}

	var out *Response
	call := func() error {
		resp, err := c.roundTrip(ctx, r, body, contentType)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}

	if c.breaker == nil {
		err = call()
	} else {
		err = c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &domain.UpstreamError{Service: c.service, Op: r.Op, Err: err}
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, r Request, body []byte, contentType string) (*Response, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := r.Path
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + r.Path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: create request: %w", c.service, r.Op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.auth != nil && !r.NoAuth {
		if err := c.auth(req); err != nil {
			var ue *domain.UpstreamError
			if errors.As(err, &ue) {
				return nil, err
			}
			return nil, &domain.UpstreamError{Service: c.service, Op: r.Op, Err: err}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Service: c.service, Op: r.Op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &domain.UpstreamError{Service: c.service, Op: r.Op, Err: fmt.Errorf("read response: %w", err)}
	}

	if !accepted(resp.StatusCode, r.OK) {
		return nil, domain.NewUpstreamError(c.service, r.Op, resp.StatusCode, data)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func accepted(status int, ok []int) bool {
	if len(ok) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(ok, status)
}

func encodeBody(body any, contentType string) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, contentType, nil
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return b, contentType, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return data, contentType, nil
	}
}

// Trips reports whether err indicates an unhealthy upstream: no response
// at all or a 5xx answer.
func Trips(err error) bool {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == 0 || ue.Status >= 500
	}
	return true
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
