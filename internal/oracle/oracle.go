package oracle

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means no price exists for the requested ticker or window.
var ErrNotFound = errors.New("oracle: price not found")

// ErrUnavailable means the upstream price source could not be reached.
// Callers retry on the next scheduled pass rather than inline.
var ErrUnavailable = errors.New("oracle: unavailable")

// PriceSource defines the standard interface for market price retrieval.
type PriceSource interface {
	// CurrentPrice returns the best available current price for a ticker.
	CurrentPrice(ctx context.Context, ticker string) (float64, error)
	// BatchPrices returns current prices for the given tickers. Partial
	// results are tolerated: tickers whose fetch failed are absent.
	BatchPrices(ctx context.Context, tickers []string) (map[string]float64, error)
	// HistoricalPriceNear returns the recorded price closest to at within
	// ±window, or ErrNotFound when no observation exists.
	HistoricalPriceNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (float64, error)
}
