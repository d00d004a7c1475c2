package strava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"vintagemap/internal/auth"
	"vintagemap/internal/logging"
	"vintagemap/internal/metrics"
)

const BaseURL = "https://www.strava.com/api/v3"

const (
	defaultPerPage = 30
	maxPerPage     = 200
)

// TokenProvider supplies access tokens for one session
type TokenProvider interface {
	Acquire(ctx context.Context) (string, error)
	// Invalidate reports that the API rejected token
	Invalidate(token string)
}

// ClientConfig configures the shared API client
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration // minimum gap between requests
	HTTPClient  *http.Client
}

// Client is the Strava API transport shared by all sessions
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *RateLimiter
	breaker     *gobreaker.CircuitBreaker[*response]
	log         zerolog.Logger
}

// NewClient creates a new Strava API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient:  hc,
		baseURL:     cfg.BaseURL,
		rateLimiter: NewRateLimiter(cfg.MinInterval),
		breaker:     newBreaker("strava-api"),
		log:         logging.With("strava"),
	}
}

// RateLimitStatus returns the current rate limit status
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

// ForSession binds the client to one session's tokens
func (c *Client) ForSession(tokens TokenProvider) *Gateway {
	return &Gateway{client: c, tokens: tokens}
}

// Gateway performs API calls on behalf of one session
type Gateway struct {
	client *Client
	tokens TokenProvider
}

// ListParams selects a page of the athlete's activities
type ListParams struct {
	Page    int
	PerPage int
	After   int64 // epoch seconds, omitted when zero
	Before  int64 // epoch seconds, omitted when zero
}

func (p ListParams) values() url.Values {
	page := p.Page
	if page < 1 {
		page = 1
	}
	perPage := p.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("per_page", strconv.Itoa(perPage))
	if p.After > 0 {
		v.Set("after", strconv.FormatInt(p.After, 10))
	}
	if p.Before > 0 {
		v.Set("before", strconv.FormatInt(p.Before, 10))
	}
	return v
}

// ListActivities returns one page of /athlete/activities exactly as Strava sent it
func (g *Gateway) ListActivities(ctx context.Context, p ListParams) ([]byte, error) {
	resp, err := g.get(ctx, "activities", "/athlete/activities", p.values())
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// ListActivitySummaries decodes one listing page for display
func (g *Gateway) ListActivitySummaries(ctx context.Context, p ListParams) ([]ActivitySummary, error) {
	body, err := g.ListActivities(ctx, p)
	if err != nil {
		return nil, err
	}
	var out []ActivitySummary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}
	return out, nil
}

// GetActivity fetches the detailed representation of an activity
func (g *Gateway) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	resp, err := g.get(ctx, "activity", fmt.Sprintf("/activities/%d", id), nil)
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrNotFound
	}

	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("%w: decoding detail: %v", ErrNotFound, err)
	}
	return &a, nil
}

// GetActivityStreams fetches the position, altitude, time and distance streams
func (g *Gateway) GetActivityStreams(ctx context.Context, id int64) (*Streams, error) {
	params := url.Values{}
	params.Set("keys", StreamKeys)
	params.Set("key_by_type", "true")

	resp, err := g.get(ctx, "streams", fmt.Sprintf("/activities/%d/streams", id), params)
	if err != nil {
		return nil, err
	}

	var streams Streams
	if err := json.Unmarshal(resp.body, &streams); err != nil {
		return nil, fmt.Errorf("decoding streams: %w", err)
	}
	return &streams, nil
}

// FetchTelemetry fetches an activity's detail and streams
func (g *Gateway) FetchTelemetry(ctx context.Context, id int64) (*Telemetry, error) {
	detail, err := g.GetActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching activity %d: %w", id, err)
	}
	streams, err := g.GetActivityStreams(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching streams for %d: %w", id, err)
	}
	return &Telemetry{Detail: *detail, Streams: *streams}, nil
}

// get issues an authorized GET. A 401 invalidates the token and is retried once
// with whatever the token provider hands out next.
func (g *Gateway) get(ctx context.Context, endpoint, path string, params url.Values) (*response, error) {
	for attempt := 0; ; attempt++ {
		token, err := g.tokens.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := g.client.do(ctx, endpoint, token, path, params)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.status == http.StatusUnauthorized && attempt == 0:
			g.tokens.Invalidate(token)
			continue
		case resp.status == http.StatusUnauthorized:
			g.tokens.Invalidate(token)
			return nil, auth.ErrSessionExpired
		case resp.status < 200 || resp.status > 299:
			return nil, &UpstreamError{Code: resp.status, Body: truncate(resp.body, 200)}
		}
		return resp, nil
	}
}

type response struct {
	status int
	body   []byte
}

var errServerStatus = errors.New("server error")

func (c *Client) do(ctx context.Context, endpoint, token, path string, params url.Values) (*response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		hr, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer hr.Body.Close()

		c.rateLimiter.UpdateFromHeaders(hr.Header)

		body, err := io.ReadAll(hr.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		r := &response{status: hr.StatusCode, body: body}
		if hr.StatusCode >= 500 {
			return r, errServerStatus
		}
		return r, nil
	})

	status := 0
	if resp != nil {
		status = resp.status
	}
	metrics.RecordUpstream(endpoint, status, time.Since(start))

	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.log.Warn().Str("endpoint", endpoint).Msg("circuit open, request rejected")
		return nil, &UpstreamError{Code: http.StatusServiceUnavailable, Body: err.Error()}
	case err != nil:
		return nil, fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
