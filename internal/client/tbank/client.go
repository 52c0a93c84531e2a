package tbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"investsync/internal/config"
)

// ErrUnauthorized signals a credential-level rejection (HTTP 401/403).
// Callers treat it as fatal for the whole batch, not just one instrument.
var ErrUnauthorized = errors.New("broker rejected credentials")

// APIError is a non-OK HTTP outcome from the broker.
type APIError struct {
	Status int
	Method string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker %s: API error (%d): %s", e.Method, e.Status, e.Body)
}

// Client wraps the broker's InstrumentsService REST surface. Every call is a
// POST with a JSON body against baseURL + "/" + method.
type Client struct {
	http        *resty.Client
	baseURL     string
	token       string
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

func New(cfg config.BrokerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New()
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	} else {
		httpClient.SetTimeout(30 * time.Second)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// HasCredentials reports whether a broker token is configured. Without one
// every call would come back 401, so callers skip broker stages entirely.
func (c *Client) HasCredentials() bool {
	return c != nil && strings.TrimSpace(c.token) != ""
}

// post performs one broker call with the retry policy: transport errors and
// 5xx responses are retried with exponential backoff plus jitter, 4xx
// responses are returned immediately, and 401/403 map to ErrUnauthorized.
func (c *Client) post(ctx context.Context, method string, payload any) ([]byte, error) {
	url := c.baseURL + "/" + method
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << (attempt - 1)
			if jitter := int64(c.backoffBase) / 2; jitter > 0 {
				backoff += time.Duration(rand.Int63n(jitter))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+c.token).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(url)
		if err != nil {
			lastErr = fmt.Errorf("broker %s: %w", method, err)
			c.logger.Warn("broker request failed, will retry",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		status := resp.StatusCode()
		switch {
		case status == http.StatusOK:
			return resp.Body(), nil
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s returned %d", ErrUnauthorized, method, status)
		case status >= 400 && status < 500:
			return nil, &APIError{Status: status, Method: method, Body: truncateBody(resp.Body())}
		default:
			lastErr = &APIError{Status: status, Method: method, Body: truncateBody(resp.Body())}
			c.logger.Warn("broker server error, will retry",
				zap.String("method", method),
				zap.Int("status", status),
				zap.Int("attempt", attempt+1))
		}
	}
	return nil, lastErr
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// FindInstrument searches instruments by ticker, name, ISIN or FIGI.
func (c *Client) FindInstrument(ctx context.Context, query string) ([]InstrumentShort, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("find instrument: empty query")
	}
	body, err := c.post(ctx, "FindInstrument", findInstrumentRequest{Query: query})
	if err != nil {
		return nil, err
	}
	var parsed findInstrumentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("find instrument: decode response: %w", err)
	}
	return parsed.Instruments, nil
}

// GetInstrumentBy fetches the full instrument card by uid, figi or
// ticker+classCode. idType follows the broker's INSTRUMENT_ID_TYPE_* enum.
func (c *Client) GetInstrumentBy(ctx context.Context, idType, classCode, id string) (*InstrumentDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("get instrument: empty id")
	}
	body, err := c.post(ctx, "GetInstrumentBy", getInstrumentByRequest{
		IDType:    idType,
		ClassCode: classCode,
		ID:        id,
	})
	if err != nil {
		return nil, err
	}
	var parsed getInstrumentByResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("get instrument: decode response: %w", err)
	}
	return parsed.Instrument, nil
}

// GetForecastBy fetches analyst targets and the aggregated consensus for one
// instrument. A 404 means the broker has no forecast coverage for the uid and
// is reported as (nil, raw, nil) rather than an error. The raw body is
// returned alongside the parsed form for audit retention.
func (c *Client) GetForecastBy(ctx context.Context, uid string) (*ForecastResponse, []byte, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, nil, fmt.Errorf("get forecast: empty uid")
	}
	body, err := c.post(ctx, "GetForecastBy", getForecastRequest{InstrumentID: uid})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var parsed ForecastResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, body, fmt.Errorf("get forecast: decode response: %w", err)
	}
	return &parsed, body, nil
}
