// Package client is the counting station's HTTP connection to the tapcount server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xelth-com/tapcount/internal/counting"
	"github.com/xelth-com/tapcount/internal/metrics"
	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/offline"
	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	Status       int    `json:"-"`
	Message      string `json:"error"`
	ActiveZoneID int64  `json:"active_zone_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap classifies client errors as permanent rejections
func (e *APIError) Unwrap() error {
	if e.Status >= 400 && e.Status < 500 {
		return offline.ErrRejected
	}
	return nil
}

// Client implements counting.Backend over HTTP. Calls run through a circuit breaker so a
// dead server fails fast instead of stalling every save for the full timeout.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
	metrics *metrics.Metrics
}

var _ counting.Backend = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default transport
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records breaker transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for the server at baseURL
func New(baseURL string, timeout time.Duration, log *zap.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tapcount-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.metrics.BreakerTransition(to.String())
		},
	})
	return c
}

// BreakerState exposes the breaker for diagnostics
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type response struct {
	status int
	body   []byte
}

// do sends one request. Transport failures, gateway errors and an open breaker come back
// wrapped in counting.ErrUnreachable; other non-2xx answers as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		r := &response{status: resp.StatusCode, body: data}
		if isGatewayStatus(resp.StatusCode) {
			return r, fmt.Errorf("gateway status %d", resp.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, gobreaker.ErrOpenState) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", counting.ErrUnreachable, method, path, err)
	}

	r := result.(*response)
	if r.status < 200 || r.status > 299 {
		apiErr := &APIError{Status: r.status}
		if json.Unmarshal(r.body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(r.status)
		}
		return apiErr
	}
	if out == nil || len(r.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func isGatewayStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Health probes the server
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) StartSession(ctx context.Context, zoneID int64) (*models.InventorySession, error) {
	var s models.InventorySession
	err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]int64{"zone_id": zoneID}, &s)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, &counting.SessionConflictError{ActiveZoneID: apiErr.ActiveZoneID, Message: apiErr.Message}
		}
		return nil, err
	}
	return &s, nil
}

func (c *Client) SaveCount(ctx context.Context, rec models.CountRecord) error {
	path := fmt.Sprintf("/api/sessions/%d/counts", rec.SessionID)
	return c.do(ctx, http.MethodPut, path, rec, nil)
}

func (c *Client) FinishSession(ctx context.Context, sessionID int64) (*models.InventorySession, error) {
	var s models.InventorySession
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/finish", sessionID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CancelSession(ctx context.Context, sessionID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/cancel", sessionID), nil, nil)
}

// FetchSession returns nil without error for an unknown session
func (c *Client) FetchSession(ctx context.Context, sessionID int64) (*models.InventorySession, error) {
	var s models.InventorySession
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d", sessionID), nil, &s); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (c *Client) FetchSessionCounts(ctx context.Context, sessionID int64) ([]models.InventoryCount, error) {
	var counts []models.InventoryCount
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d/counts", sessionID), nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *Client) FetchKegSummary(ctx context.Context, productID int64) (*models.KegSummary, error) {
	var s models.KegSummary
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d/kegs", productID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) FetchLiveKegLevels(ctx context.Context, taps []int) (map[int]float64, error) {
	parts := make([]string, 0, len(taps))
	for _, t := range taps {
		parts = append(parts, strconv.Itoa(t))
	}
	q := url.Values{"taps": {strings.Join(parts, ",")}}

	levels := make(map[int]float64)
	if err := c.do(ctx, http.MethodGet, "/api/taps/levels?"+q.Encode(), nil, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// LookupProductByCode returns nil without error for an unknown code
func (c *Client) LookupProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var p models.Product
	q := url.Values{"code": {code}}
	if err := c.do(ctx, http.MethodGet, "/api/products/lookup?"+q.Encode(), nil, &p); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (c *Client) FetchZones(ctx context.Context) ([]models.Zone, error) {
	var zones []models.Zone
	if err := c.do(ctx, http.MethodGet, "/api/zones", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func (c *Client) FetchProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}
