// Package external talks to the portfolio-valuation provider.
package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

var (
	// ErrUnavailable indicates a transport failure, timeout or non-2xx response.
	ErrUnavailable = errors.New("valuation provider unavailable")
	// ErrUnrecognizedShape indicates a response without any known networth field.
	ErrUnrecognizedShape = errors.New("unrecognized valuation response")
	// ErrInvalidValue indicates networth fields without a positive numeric value.
	ErrInvalidValue = errors.New("invalid networth value")
)

// FetchRequest selects which valuation to fetch.
type FetchRequest struct {
	// Date selects the historical valuation. Ignored when PreferCurrent is set.
	Date time.Time
	// PreferCurrent skips the historical endpoint.
	PreferCurrent bool
}

// OctavClient fetches wallet networth from the Octav API.
type OctavClient struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewOctavClient creates a new Octav API client.
func NewOctavClient(baseURL string, timeout time.Duration, maxRetries int, retryBaseDelay time.Duration) *OctavClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OctavClient{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// FetchNetworth returns the networth of the source's wallet. A historical request that
// fails for any reason is retried once against the current-portfolio endpoint.
func (c *OctavClient) FetchNetworth(ctx context.Context, src domain.ValuationSource, req FetchRequest) (decimal.Decimal, error) {
	if !src.Configured() {
		return decimal.Zero, fmt.Errorf("%w: valuation source for fund %d is not configured", ErrUnavailable, src.FundID)
	}

	if !req.PreferCurrent {
		v, err := c.fetchAndExtract(ctx, src, c.historicalURL(src.WalletAddress, req.Date))
		if err == nil {
			return v, nil
		}
		slog.Warn("historical valuation failed, falling back to current portfolio",
			"fund", src.FundID, "date", req.Date.Format(domain.DateLayout), "error", err)
	}

	return c.fetchAndExtract(ctx, src, c.currentURL(src.WalletAddress))
}

func (c *OctavClient) fetchAndExtract(ctx context.Context, src domain.ValuationSource, endpoint string) (decimal.Decimal, error) {
	body, err := c.fetchWithRetry(ctx, endpoint, src.APIToken)
	if err != nil {
		return decimal.Zero, err
	}
	doc, err := DecodeDocument(body)
	if err != nil {
		return decimal.Zero, err
	}
	return ExtractNetworth(doc)
}

func (c *OctavClient) historicalURL(wallet string, date time.Time) string {
	q := url.Values{}
	q.Set("addresses", wallet)
	q.Set("date", date.Format(domain.DateLayout))
	return c.baseURL + "/v1/historical?" + q.Encode()
}

func (c *OctavClient) currentURL(wallet string) string {
	q := url.Values{}
	q.Set("addresses", wallet)
	return c.baseURL + "/v1/portfolio?" + q.Encode()
}

func (c *OctavClient) fetchWithRetry(ctx context.Context, endpoint, token string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if attempt > 0 {
			baseDelay := c.retryBaseDelay
			if baseDelay == 0 {
				baseDelay = 2 * time.Second
			}
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Octav request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: Octav request failed: %w", ErrUnavailable, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading Octav response: %w", ErrUnavailable, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: Octav rate limited (attempt %d/%d)", ErrUnavailable, attempt+1, c.maxRetries+1)
			continue
		}

		return nil, fmt.Errorf("%w: Octav HTTP %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(body), 200))
	}

	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
