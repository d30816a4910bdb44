package ontology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Lookup is a context-aware ontology backend. Unknown titles and codes are reported with
// domain.ErrNotFound.
type Lookup interface {
	Resolve(ctx context.Context, title string) (string, error)
	Ancestors(ctx context.Context, code string) ([]string, error)
}

// ClientConfig configures the HTTP ontology client.
type ClientConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// Client queries a remote ontology API:
//
//	GET {base}/codes?title=<title>          -> {"code": "..."}
//	GET {base}/codes/{code}/ancestors       -> {"ancestors": ["...", ...]}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

type codeResponse struct {
	Code string `json:"code"`
}

type ancestorsResponse struct {
	Ancestors []string `json:"ancestors"`
}

// NewClient creates an ontology API client.
func NewClient(config ClientConfig, logger *logrus.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("ontology base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:    logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Ontology",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return c, nil
}

// Resolve implements Lookup.
func (c *Client) Resolve(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title cannot be empty")
	}

	var resp codeResponse
	endpoint := c.baseURL + "/codes?" + url.Values{"title": {title}}.Encode()
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("resolving title %q: %w", title, err)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("%w: title %q", domain.ErrNotFound, title)
	}
	return resp.Code, nil
}

// Ancestors implements Lookup.
func (c *Client) Ancestors(ctx context.Context, code string) ([]string, error) {
	var resp ancestorsResponse
	endpoint := c.baseURL + "/codes/" + url.PathEscape(code) + "/ancestors"
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetching ancestors of %s: %w", code, err)
	}
	return resp.Ancestors, nil
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		if err := c.rateLimit.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, domain.ErrNotFound
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("ontology API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
