// Package geocode resolves free-text place names to coordinates through a
// Nominatim-compatible search endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"memorypin/internal/config"
	"memorypin/pkg/domain"
)

var (
	// ErrQueryTooShort is returned for queries below the minimum length.
	ErrQueryTooShort = errors.New("geocode: query too short")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("geocode: service temporarily unavailable")
)

// StatusError reports a non-2xx response from the search endpoint.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocode: search failed: %s", e.Status)
}

// Candidate is one place returned by a search.
type Candidate struct {
	DisplayName string             `json:"display_name"`
	Type        string             `json:"type"`
	Coordinates domain.Coordinates `json:"coordinates"`
}

// Recorder receives the outcome of every search.
type Recorder interface {
	ObserveGeocode(status string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveGeocode(string) {}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Client searches places. It is safe for concurrent use; identical
// in-flight queries share one upstream request.
type Client struct {
	base      *url.URL
	userAgent string
	limit     int
	minLen    int
	timeout   time.Duration

	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	flight   singleflight.Group
	logger   *zap.Logger
	recorder Recorder
}

// New builds a client from cfg.
func New(cfg config.Geocode, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("geocode: invalid base url %q", cfg.BaseURL)
	}
	c := &Client{
		base:      base,
		userAgent: cfg.UserAgent,
		limit:     cfg.Limit,
		minLen:    cfg.MinQueryLength,
		timeout:   cfg.Timeout,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    zap.NewNop(),
		recorder:  noopRecorder{},
	}
	if c.limit <= 0 {
		c.limit = 5
	}
	if c.minLen <= 0 {
		c.minLen = 3
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	c.limiter = rate.NewLimiter(limit, burst)
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "geocode",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		// 4xx means the request was wrong, not that the service is down.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
	})
	return c, nil
}

// Search returns up to the configured number of candidates for query.
// Cancelling ctx abandons the wait; the shared upstream request is bounded
// by the client timeout.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < c.minLen {
		c.recorder.ObserveGeocode("rejected")
		return nil, fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, c.minLen)
	}
	key := strings.ToLower(q)
	ch := c.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.lookup(fctx, q)
	})
	select {
	case <-ctx.Done():
		c.recorder.ObserveGeocode("canceled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.recorder.ObserveGeocode(statusOf(res.Err))
			return nil, res.Err
		}
		shared := res.Val.([]Candidate)
		out := make([]Candidate, len(shared))
		copy(out, shared)
		c.recorder.ObserveGeocode("ok")
		return out, nil
	}
}

func statusOf(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrUnavailable):
		return "open"
	case errors.As(err, &se):
		return "http_" + strconv.Itoa(se.Code)
	default:
		return "error"
	}
}

func (c *Client) lookup(ctx context.Context, q string) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode: rate limit wait: %w", err)
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("place search rejected by circuit breaker", zap.String("query", q))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		c.logger.Warn("place search failed", zap.String("query", q), zap.Error(err))
		return nil, err
	}
	return v.([]Candidate), nil
}

type place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
}

func (c *Client) fetch(ctx context.Context, q string) ([]Candidate, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/search"
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(c.limit))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	out := make([]Candidate, 0, len(places))
	for i, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lng, errLng := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLng != nil {
			c.logger.Debug("skipping place with unparsable coordinates", zap.Int("index", i), zap.String("name", p.DisplayName))
			continue
		}
		out = append(out, Candidate{
			DisplayName: p.DisplayName,
			Type:        p.Type,
			Coordinates: domain.Coordinates{Lat: lat, Lng: lng},
		})
	}
	c.logger.Debug("place search complete",
		zap.String("query", q), zap.Int("results", len(out)), zap.Duration("took", time.Since(start)))
	return out, nil
}
