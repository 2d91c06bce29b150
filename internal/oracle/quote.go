package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"crowdcast/internal/database"
	"crowdcast/internal/model"
)

// SnapshotStore is the slice of the repository the quote client needs to
// answer historical lookups from persisted feed observations.
type SnapshotStore interface {
	PriceSnapshotNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (model.PriceSnapshot, error)
}

// QuoteClient implements PriceSource against an HTTP quote API, with
// request rate limiting and exponential retry. Historical lookups are
// served from persisted price snapshots.
type QuoteClient struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetry   time.Duration
	snapshots  SnapshotStore
}

// QuoteClientOptions holds options for creating a new QuoteClient.
type QuoteClientOptions struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetryElapsed time.Duration
}

// NewQuoteClient creates a new quote API client. snapshots may be nil, in
// which case historical lookups always report ErrNotFound.
func NewQuoteClient(logger *slog.Logger, opts QuoteClientOptions, snapshots SnapshotStore) *QuoteClient {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryElapsed == 0 {
		opts.MaxRetryElapsed = 30 * time.Second
	}

	return &QuoteClient{
		logger:     logger,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		maxRetry:   opts.MaxRetryElapsed,
		snapshots:  snapshots,
	}
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// CurrentPrice fetches the latest quote for a ticker, waiting on the rate
// limiter and retrying transient failures with exponential backoff.
func (c *QuoteClient) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	reqURL := fmt.Sprintf("%s/quote?symbol=%s&token=%s", c.baseURL, url.QueryEscape(ticker), c.apiKey)

	var quote quoteResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("quote API status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
			return backoff.Permanent(fmt.Errorf("decode quote: %w", err))
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 100 * time.Millisecond
	strategy.MaxElapsedTime = c.maxRetry

	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		c.logger.Warn("quote fetch failed", "ticker", ticker, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if quote.Price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price for %s", ErrNotFound, ticker)
	}
	return quote.Price, nil
}

// BatchPrices fetches current prices one ticker at a time through the rate
// limiter. Tickers whose fetch failed are absent from the result.
func (c *QuoteClient) BatchPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return prices, err
		}
		price, err := c.CurrentPrice(ctx, t)
		if err != nil {
			c.logger.Warn("batch price fetch failed, skipping ticker", "ticker", t, "error", err)
			continue
		}
		prices[t] = price
	}
	return prices, nil
}

// HistoricalPriceNear answers from persisted price snapshots.
func (c *QuoteClient) HistoricalPriceNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (float64, error) {
	if c.snapshots == nil {
		return 0, ErrNotFound
	}
	snap, err := c.snapshots.PriceSnapshotNear(ctx, ticker, at, window)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return snap.Price, nil
}
