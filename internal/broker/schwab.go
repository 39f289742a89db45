// Package broker provides the brokerage market-data client used to pull
// quotes and option chains for the open-interest pipeline.
package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is the Schwab market-data root.
const DefaultBaseURL = "https://api.schwabapi.com/marketdata/v1"

// DefaultRequestsPerMinute is used when no market-data rate limit is configured.
const DefaultRequestsPerMinute = 120

const defaultTimeout = 10 * time.Second

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsAuth reports whether the error is a credential failure (401/403).
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// SchwabAPI is a minimal Schwab market-data client: quotes and option chains.
type SchwabAPI struct {
	client  *http.Client
	tokens  TokenProvider
	baseURL string
	limiter *rate.Limiter
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewSchwabAPI creates a client. An empty baseURL selects DefaultBaseURL and a
// non-positive requestsPerMinute selects DefaultRequestsPerMinute.
func NewSchwabAPI(tokens TokenProvider, baseURL string, requestsPerMinute int) *SchwabAPI {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &SchwabAPI{
		logger:  discard,
		client:  &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		timeout: defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *SchwabAPI) WithHTTPClient(c *http.Client) *SchwabAPI {
	if c != nil {
		s.client = c
	}
	return s
}

// WithTimeout sets the HTTP client timeout duration.
func (s *SchwabAPI) WithTimeout(timeout time.Duration) *SchwabAPI {
	if timeout <= 0 {
		return s
	}
	s.timeout = timeout
	if s.client != nil {
		s.client.Timeout = timeout
	}
	return s
}

// WithLogger sets the logger used for request-level diagnostics.
func (s *SchwabAPI) WithLogger(l logrus.FieldLogger) *SchwabAPI {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithLimiter replaces the request limiter; nil disables limiting.
func (s *SchwabAPI) WithLimiter(l *rate.Limiter) *SchwabAPI {
	s.limiter = l
	return s
}

// ============ API Response Structures ============

// QuoteResponse is keyed by symbol.
type QuoteResponse map[string]QuoteEnvelope

// QuoteEnvelope wraps the quote object for one symbol.
type QuoteEnvelope struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetMainType"`
	Quote     *Quote `json:"quote"`
}

// Quote carries the fields of the nested quote object this client uses.
type Quote struct {
	Mark      *float64 `json:"mark"`
	BidPrice  float64  `json:"bidPrice"`
	AskPrice  float64  `json:"askPrice"`
	LastPrice float64  `json:"lastPrice"`
	QuoteTime int64    `json:"quoteTime"`
}

// ChainRequest parameterizes one chain fetch.
type ChainRequest struct {
	Symbol       string
	ContractType models.ContractType
	Window       models.StrikeWindow
	ToDate       string
}

func (r ChainRequest) values() url.Values {
	params := url.Values{}
	params.Set("symbol", r.Symbol)
	params.Set("contractType", string(r.ContractType))
	params.Set("includeQuotes", "false")
	params.Set("strikes", r.Window.Param())
	params.Set("toDate", r.ToDate)
	return params
}

// ============ API Methods ============

// GetQuote retrieves the current quote for a symbol.
func (s *SchwabAPI) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	endpoint := s.baseURL + "/quotes?" + params.Encode()

	var response QuoteResponse
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}

	env, ok := response[symbol]
	if !ok || env.Quote == nil {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	return env.Quote, nil
}

// GetOptionChain retrieves one side of the option chain for the request's strike window.
func (s *SchwabAPI) GetOptionChain(ctx context.Context, req ChainRequest) (*models.ChainSlice, error) {
	endpoint := s.baseURL + "/chains?" + req.values().Encode()

	var response models.ChainSlice
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	if response.CallExpDateMap == nil {
		response.CallExpDateMap = models.ExpDateMap{}
	}
	if response.PutExpDateMap == nil {
		response.PutExpDateMap = models.ExpDateMap{}
	}
	return &response, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (s *SchwabAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "oi-tracker/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close response body")
		}
	}()

	s.logger.WithFields(logrus.Fields{"endpoint": redact(endpoint), "status": resp.StatusCode}).Debug("market data response")

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, redact(endpoint))}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, redact(endpoint), string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, redact(endpoint), string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s response: %w", redact(endpoint), err)
	}
	return nil
}

// redact trims the query string, which carries the full strike list.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// RetryAfter extracts a Retry-After hint in seconds from an APIError body, if present.
func RetryAfter(err *APIError) (time.Duration, bool) {
	const marker = "(retry-after: "
	i := strings.LastIndex(err.Body, marker)
	if i < 0 {
		return 0, false
	}
	rest := strings.TrimSuffix(err.Body[i+len(marker):], ")")
	secs, convErr := strconv.Atoi(strings.TrimSpace(rest))
	if convErr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
