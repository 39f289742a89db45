package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestAPIError_IsAuth(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{401, true},
		{403, true},
		{404, false},
		{500, false},
	}
	for _, tt := range tests {
		if got := (&APIError{Status: tt.status}).IsAuth(); got != tt.want {
			t.Errorf("IsAuth(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNewSchwabAPI_Defaults(t *testing.T) {
	api := NewSchwabAPI(StaticToken("k"), "", 0)
	assert.Equal(t, DefaultBaseURL, api.baseURL)
	assert.NotNil(t, api.limiter)

	api = NewSchwabAPI(StaticToken("k"), "https://example.test/v1/", 60)
	assert.Equal(t, "https://example.test/v1", api.baseURL)
}

func newTestAPI(t *testing.T, h http.HandlerFunc) *SchwabAPI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSchwabAPI(StaticToken("tok"), srv.URL, 0).WithLimiter(nil).WithHTTPClient(srv.Client())
}

func TestGetQuote(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quotes", r.URL.Path)
		assert.Equal(t, "SPY", r.URL.Query().Get("symbols"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"SPY":{"symbol":"SPY","quote":{"mark":562.37,"bidPrice":562.36,"askPrice":562.38}}}`))
	})

	q, err := api.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, q.Mark)
	assert.InDelta(t, 562.37, *q.Mark, 1e-9)
}

func TestGetQuote_MissingSymbolAndMark(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"QQQ":{"quote":{"bidPrice":1}}}`))
	})

	_, err := api.GetQuote(context.Background(), "SPY")
	require.Error(t, err)

	q, err := api.GetQuote(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.Nil(t, q.Mark)
}

func TestGetQuote_Unauthorized(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":["expired"]}`))
	})

	_, err := api.GetQuote(context.Background(), "SPY")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Status)
	assert.True(t, IsAuthError(err))
	assert.NotContains(t, apiErr.Body, "symbols=SPY")
}

func TestGetQuote_NoToken(t *testing.T) {
	called := false
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	api.tokens = StaticToken("")

	_, err := api.GetQuote(context.Background(), "SPY")
	require.ErrorIs(t, err, ErrNoToken)
	assert.False(t, called, "request must not be sent without a token")
}

func TestGetOptionChain(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/chains", r.URL.Path)
		assert.Equal(t, "SPY", q.Get("symbol"))
		assert.Equal(t, "CALL", q.Get("contractType"))
		assert.Equal(t, "false", q.Get("includeQuotes"))
		assert.Equal(t, "2025-06-20", q.Get("toDate"))
		strikes := strings.Split(q.Get("strikes"), ",")
		assert.Len(t, strikes, models.WindowSize)
		assert.Equal(t, "552", strikes[0])
		assert.Equal(t, "572", strikes[len(strikes)-1])
		_, _ = w.Write([]byte(`{
			"symbol":"SPY","status":"SUCCESS",
			"callExpDateMap":{"2025-06-20:4":{
				"560.0":[{"putCall":"CALL","openInterest":100}],
				"565.0":[{"putCall":"CALL","openInterest":"n/a"}],
				"566.0":[{"putCall":"CALL"}]
			}}
		}`))
	})

	slice, err := api.GetOptionChain(context.Background(), ChainRequest{
		Symbol:       "SPY",
		ContractType: models.ContractTypeCall,
		Window:       models.NewStrikeWindow(562),
		ToDate:       "2025-06-20",
	})
	require.NoError(t, err)
	require.NotNil(t, slice.PutExpDateMap, "absent map decodes as empty")
	strikes := slice.CallExpDateMap["2025-06-20:4"]
	assert.Equal(t, int64(100), strikes.FirstOI("560.0"))
	assert.Equal(t, int64(0), strikes.FirstOI("565.0"))
	assert.Equal(t, int64(0), strikes.FirstOI("566.0"))
	assert.Equal(t, int64(0), strikes.FirstOI("999.0"))
}

func TestGetOptionChain_ServerErrorWithRetryAfter(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})

	_, err := api.GetOptionChain(context.Background(), ChainRequest{Symbol: "SPY", Window: models.NewStrikeWindow(100)})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Status)
	d, ok := RetryAfter(apiErr)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
}

func TestRetryAfter_Absent(t *testing.T) {
	_, ok := RetryAfter(&APIError{Status: 503, Body: "GET /chains -> down"})
	assert.False(t, ok)
}

func TestMakeRequest_ContextCanceled(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := api.GetQuote(ctx, "SPY")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMakeRequest_LogsThroughInjectedLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}).WithLogger(logger)

	_, err := api.GetQuote(context.Background(), "SPY")
	require.Error(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "/quotes", strings.TrimPrefix(entry.Data["endpoint"].(string), api.baseURL))
	assert.Equal(t, http.StatusBadGateway, entry.Data["status"])
}
