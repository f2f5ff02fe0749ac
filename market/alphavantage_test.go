package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL+"/"), WithRateLimit(0))
}

func TestQuote_ParsesGlobalQuote(t *testing.T) {
	var gotPath, gotFunction, gotSymbol, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFunction = r.URL.Query().Get("function")
		gotSymbol = r.URL.Query().Get("symbol")
		gotKey = r.URL.Query().Get("apikey")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Global Quote": {"01. symbol": "SPY", "05. price": "512.3400"}}`))
	})

	price, err := client.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.InDelta(t, 512.34, price, 1e-9)
	assert.Equal(t, "/query", gotPath)
	assert.Equal(t, "GLOBAL_QUOTE", gotFunction)
	assert.Equal(t, "SPY", gotSymbol)
	assert.Equal(t, "test-key", gotKey)
}

func TestQuote_EmptyQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {}}`))
	})

	_, err := client.Quote(context.Background(), "NOPE")
	assert.ErrorContains(t, err, "no quote for NOPE")
}

func TestQuote_ThrottleNoteIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := client.Quote(context.Background(), "SPY")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "GLOBAL_QUOTE", apiErr.Function)
	assert.Contains(t, apiErr.Message, "5 calls per minute")
}

func TestQuote_HTTPFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Quote(context.Background(), "SPY")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "upstream down")
}

func TestDailyCloses_SortsAndSkipsBadBars(t *testing.T) {
	var gotOutputSize string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotOutputSize = r.URL.Query().Get("outputsize")
		w.Write([]byte(`{
			"Time Series (Daily)": {
				"2024-01-04": {"4. close": "102.5"},
				"2024-01-02": {"4. close": "100.0"},
				"2024-01-03": {"4. close": "n/a"},
				"not-a-date": {"4. close": "1.0"},
				"2024-01-05": {"4. close": "103.25"}
			}
		}`))
	})

	points, err := client.DailyCloses(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "full", gotOutputSize)
	require.Len(t, points, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), points[0].Date)
	assert.InDelta(t, 100.0, points[0].Close, 1e-9)
	assert.InDelta(t, 102.5, points[1].Close, 1e-9)
	assert.InDelta(t, 103.25, points[2].Close, 1e-9)
}

func TestDailyCloses_ErrorMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	_, err := client.DailyCloses(context.Background(), "BAD")
	assert.ErrorContains(t, err, "Invalid API call.")
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"Global Quote": {"05. price": "1"}}`))
	}))
	defer srv.Close()
	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1))

	_, err := client.Quote(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Quote(ctx, "A")
	assert.ErrorContains(t, err, "rate limit wait")
	assert.Equal(t, 1, calls)
}
