// Package market supplies prices: an Alpha Vantage client, a Redis quote
// cache, a store of daily closes and the service that combines them.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

const (
	DefaultBaseURL   = "https://www.alphavantage.co"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per minute, the free tier
)

// AlphaVantageResponse covers the GLOBAL_QUOTE and TIME_SERIES_DAILY
// payloads. Rate limiting and errors come back as 200 with a message.
type AlphaVantageResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (r *AlphaVantageResponse) message() string {
	switch {
	case r.ErrorMessage != "":
		return r.ErrorMessage
	case r.Note != "":
		return r.Note
	default:
		return r.Information
	}
}

// Client talks to the Alpha Vantage query endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *config.Logger
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithLogger(logger *config.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the request budget per minute. Zero or less disables
// throttling.
func WithRateLimit(perMinute int) ClientOption {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     config.NewSilentLogger(),
	}
	WithRateLimit(DefaultRateLimit)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from the market section.
func NewClientFromConfig(cfg config.MarketConfig, logger *config.Logger) *Client {
	opts := []ClientOption{
		WithRateLimit(cfg.RateLimit),
		WithTimeout(cfg.GetTimeout()),
		WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return NewClient(cfg.APIKey, opts...)
}

// APIError is a failed or refused upstream request.
type APIError struct {
	StatusCode int
	Message    string
	Function   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpha vantage error: %s (status: %d, function: %s)", e.Message, e.StatusCode, e.Function)
}

func (c *Client) query(ctx context.Context, params url.Values) (*AlphaVantageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	function := params.Get("function")
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("function", function).Str("symbol", params.Get("symbol")).Msg("alpha vantage request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Function: function}
	}

	var result AlphaVantageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if msg := result.message(); msg != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg, Function: function}
	}
	return &result, nil
}

// Quote returns the latest price for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	result, err := c.query(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	})
	if err != nil {
		return 0, err
	}
	if result.GlobalQuote.Price == "" {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	price, err := strconv.ParseFloat(result.GlobalQuote.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q for %s: %w", result.GlobalQuote.Price, symbol, err)
	}
	return price, nil
}

// DailyCloses returns the full daily close history for symbol, oldest
// first.
func (c *Client) DailyCloses(ctx context.Context, symbol string) ([]models.PricePoint, error) {
	result, err := c.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"full"},
	})
	if err != nil {
		return nil, err
	}
	if len(result.TimeSeriesDaily) == 0 {
		return nil, fmt.Errorf("no history for %s", symbol)
	}

	points := make([]models.PricePoint, 0, len(result.TimeSeriesDaily))
	for day, bar := range result.TimeSeriesDaily {
		d, err := time.Parse(time.DateOnly, day)
		if err != nil {
			c.logger.Warn().Str("symbol", symbol).Str("date", day).Msg("skipping bar with bad date")
			continue
		}
		closePrice, err := strconv.ParseFloat(bar.Close, 64)
		if err != nil {
			c.logger.Warn().Str("symbol", symbol).Str("date", day).Str("close", bar.Close).Msg("skipping bar with bad close")
			continue
		}
		points = append(points, models.PricePoint{Date: d, Close: closePrice})
	}
	sortPoints(points)
	return points, nil
}
