package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"crowdcast/internal/consensus"
	"crowdcast/internal/database"
	"crowdcast/internal/model"
	"crowdcast/internal/oracle"
	"crowdcast/internal/scoring"
)

// Job resolves predictions whose horizon has elapsed, then refreshes the
// accuracy profiles and consensus snapshots they affect. A pass is
// best-effort per candidate: one candidate's failure never aborts the batch,
// and failed candidates stay active to be retried on the next pass.
type Job struct {
	logger     *slog.Logger
	repo       database.Repository
	prices     oracle.PriceSource
	scorer     *scoring.Scorer
	aggregator *consensus.Aggregator

	universe       []string
	workers        int
	snapshotWindow time.Duration
	now            func() time.Time
}

// Options holds the batch pass settings.
type Options struct {
	Universe       []string
	Workers        int
	SnapshotWindow time.Duration
}

// NewJob creates a resolution job.
func NewJob(logger *slog.Logger, repo database.Repository, prices oracle.PriceSource, scorer *scoring.Scorer, aggregator *consensus.Aggregator, opts Options) *Job {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.SnapshotWindow == 0 {
		opts.SnapshotWindow = 30 * time.Minute
	}
	return &Job{
		logger:         logger,
		repo:           repo,
		prices:         prices,
		scorer:         scorer,
		aggregator:     aggregator,
		universe:       opts.Universe,
		workers:        opts.Workers,
		snapshotWindow: opts.SnapshotWindow,
		now:            time.Now,
	}
}

type candidateResult struct {
	prediction model.Prediction
	err        error
}

// Run executes one resolution pass. It returns an error only for
// infrastructure failures before any candidate work starts; per-candidate
// failures are counted in the result instead.
func (j *Job) Run(ctx context.Context) (model.PassResult, error) {
	now := j.now().UTC()
	var result model.PassResult

	// Predictions for tickers that left the universe can never resolve
	// against a price; retire them instead of retrying forever.
	if len(j.universe) > 0 {
		expired, err := j.repo.ExpirePredictionsOutside(ctx, j.universe)
		if err != nil {
			j.logger.Error("expiry sweep failed", "error", err)
		} else {
			result.Expired = int(expired)
			if expired > 0 {
				j.logger.Info("expired out-of-universe predictions", "count", expired)
			}
		}
	}

	due, err := j.repo.DuePredictions(ctx, now)
	if err != nil {
		return result, fmt.Errorf("select due predictions: %w", err)
	}
	if len(due) == 0 {
		return result, nil
	}
	j.logger.Info("resolution pass started", "candidates", len(due))

	results := j.resolveAll(ctx, due, now)

	failedTickers := make(map[string]struct{})
	var resolved []model.Prediction
	for _, r := range results {
		if r.err != nil {
			j.logger.Warn("candidate resolution failed, will retry next pass",
				"predictionID", r.prediction.ID, "ticker", r.prediction.Ticker, "error", r.err)
			result.Failed++
			failedTickers[r.prediction.Ticker] = struct{}{}
			continue
		}
		resolved = append(resolved, r.prediction)
	}
	result.Resolved = len(resolved)

	// Accuracy first: consensus weighting for the affected tickers must
	// see the freshly resolved history.
	for _, agentID := range distinctAgentIDs(resolved) {
		if err := j.scorer.Recompute(ctx, agentID); err != nil {
			j.logger.Error("accuracy recompute failed", "agentID", agentID, "error", err)
		}
	}

	for _, ticker := range distinctTickers(resolved) {
		if err := j.publishConsensus(ctx, ticker); err != nil {
			j.logger.Error("consensus recompute failed", "ticker", ticker, "error", err)
			failedTickers[ticker] = struct{}{}
		}
	}

	for t := range failedTickers {
		result.FailedTickers = append(result.FailedTickers, t)
	}

	j.logger.Info("resolution pass finished",
		"resolved", result.Resolved, "expired", result.Expired, "failed", result.Failed)
	return result, nil
}

// resolveAll fans the candidates out over a bounded worker pool. Oracle
// pacing is handled by the price client's rate limiter.
func (j *Job) resolveAll(ctx context.Context, due []model.Prediction, now time.Time) []candidateResult {
	candidates := make(chan model.Prediction)
	out := make(chan candidateResult, len(due))

	var wg sync.WaitGroup
	for i := 0; i < j.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range candidates {
				out <- candidateResult{prediction: p, err: j.resolveOne(ctx, p, now)}
			}
		}()
	}

dispatch:
	for _, p := range due {
		select {
		case <-ctx.Done():
			// Safe abort point: candidates already dispatched finish,
			// the rest stay active for the next pass.
			break dispatch
		case candidates <- p:
		}
	}
	close(candidates)
	wg.Wait()
	close(out)

	results := make([]candidateResult, 0, len(due))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// resolveOne resolves a single candidate against the best available price
// at its due date and persists all resolution fields in one guarded write.
func (j *Job) resolveOne(ctx context.Context, p model.Prediction, now time.Time) error {
	actual, err := j.actualPrice(ctx, p)
	if err != nil {
		return fmt.Errorf("fetch resolution price: %w", err)
	}

	errorPct := abs(p.TargetPrice-actual) / actual * 100
	directionCorrect := signOf(p.TargetPrice-p.MarketPriceAtSubmission) == signOf(actual-p.MarketPriceAtSubmission)

	updated, err := j.repo.MarkResolved(ctx, p.ID, now, actual, errorPct, directionCorrect)
	if err != nil {
		return fmt.Errorf("persist resolution: %w", err)
	}
	if !updated {
		// Already resolved by a prior pass; nothing to redo.
		j.logger.Warn("prediction no longer active, skipping", "predictionID", p.ID)
		return nil
	}

	j.logger.Debug("prediction resolved",
		"predictionID", p.ID, "ticker", p.Ticker,
		"target", p.TargetPrice, "actual", actual,
		"errorPct", errorPct, "directionCorrect", directionCorrect)
	return nil
}

// actualPrice prefers a persisted price snapshot near the prediction's due
// date; when none exists it falls back to the oracle's current price, an
// accepted approximation of the historical close.
func (j *Job) actualPrice(ctx context.Context, p model.Prediction) (float64, error) {
	price, err := j.prices.HistoricalPriceNear(ctx, p.Ticker, p.DueAt(), j.snapshotWindow)
	if err == nil {
		return price, nil
	}
	return j.prices.CurrentPrice(ctx, p.Ticker)
}

func (j *Job) publishConsensus(ctx context.Context, ticker string) error {
	snapshot, err := j.aggregator.Compute(ctx, ticker)
	if err != nil {
		if errors.Is(err, consensus.ErrNoActivePredictions) {
			return nil
		}
		return err
	}
	return j.repo.InsertConsensusSnapshot(ctx, snapshot)
}

func distinctAgentIDs(predictions []model.Prediction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(predictions))
	var ids []uuid.UUID
	for _, p := range predictions {
		if _, ok := seen[p.AgentID]; !ok {
			seen[p.AgentID] = struct{}{}
			ids = append(ids, p.AgentID)
		}
	}
	return ids
}

func distinctTickers(predictions []model.Prediction) []string {
	seen := make(map[string]struct{}, len(predictions))
	var tickers []string
	for _, p := range predictions {
		if _, ok := seen[p.Ticker]; !ok {
			seen[p.Ticker] = struct{}{}
			tickers = append(tickers, p.Ticker)
		}
	}
	return tickers
}

func signOf(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
