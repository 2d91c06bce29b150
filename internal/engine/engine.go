package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"crowdcast/internal/consensus"
	"crowdcast/internal/database"
	"crowdcast/internal/metrics"
	"crowdcast/internal/model"
	"crowdcast/internal/oracle"
	"crowdcast/internal/resolution"
)

// Engine is the trigger surface the surrounding API layer and the
// scheduler call into: prediction submission and the scheduled
// resolution tick.
type Engine struct {
	logger     *slog.Logger
	repo       database.Repository
	prices     oracle.PriceSource
	aggregator *consensus.Aggregator
	job        *resolution.Job
	recorder   *metrics.Recorder
	universe   []string
	now        func() time.Time
}

// New creates an Engine. recorder may be nil when metrics are disabled.
func New(logger *slog.Logger, repo database.Repository, prices oracle.PriceSource, aggregator *consensus.Aggregator, job *resolution.Job, recorder *metrics.Recorder, universe []string) *Engine {
	return &Engine{
		logger:     logger,
		repo:       repo,
		prices:     prices,
		aggregator: aggregator,
		job:        job,
		recorder:   recorder,
		universe:   universe,
		now:        time.Now,
	}
}

// SubmitPrediction validates and stores a new active prediction, recording
// the market price the agent saw, then refreshes the ticker's consensus.
// A consensus failure is logged but does not fail the submission.
func (e *Engine) SubmitPrediction(ctx context.Context, agentID uuid.UUID, ticker string, targetPrice float64, horizonDays int) (model.Prediction, error) {
	if targetPrice <= 0 {
		return model.Prediction{}, fmt.Errorf("target price must be positive, got %v", targetPrice)
	}
	if horizonDays != model.HorizonShortDays && horizonDays != model.HorizonLongDays {
		return model.Prediction{}, fmt.Errorf("horizon must be %d or %d days, got %d", model.HorizonShortDays, model.HorizonLongDays, horizonDays)
	}
	if !slices.Contains(e.universe, ticker) {
		return model.Prediction{}, fmt.Errorf("ticker %s is not in the universe", ticker)
	}

	marketPrice, err := e.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("fetch market price: %w", err)
	}

	p := model.Prediction{
		ID:                      uuid.New(),
		AgentID:                 agentID,
		Ticker:                  ticker,
		TargetPrice:             targetPrice,
		MarketPriceAtSubmission: marketPrice,
		HorizonDays:             horizonDays,
		SubmittedAt:             e.now().UTC(),
		Status:                  model.StatusActive,
	}
	if err := e.repo.InsertPrediction(ctx, p); err != nil {
		return model.Prediction{}, fmt.Errorf("insert prediction: %w", err)
	}

	if err := e.OnPredictionSubmitted(ctx, ticker); err != nil {
		e.logger.Error("consensus refresh after submission failed", "ticker", ticker, "error", err)
	}
	return p, nil
}

// OnPredictionSubmitted synchronously recomputes and appends the ticker's
// consensus snapshot.
func (e *Engine) OnPredictionSubmitted(ctx context.Context, ticker string) error {
	snapshot, err := e.aggregator.Compute(ctx, ticker)
	if err != nil {
		if errors.Is(err, consensus.ErrNoActivePredictions) {
			return nil
		}
		if e.recorder != nil {
			e.recorder.RecordError("consensus")
		}
		return err
	}
	if err := e.repo.InsertConsensusSnapshot(ctx, snapshot); err != nil {
		if e.recorder != nil {
			e.recorder.RecordError("persistence")
		}
		return fmt.Errorf("append consensus snapshot: %w", err)
	}
	if e.recorder != nil {
		e.recorder.RecordSnapshot("submission")
	}
	e.logger.Info("consensus snapshot written",
		"ticker", ticker,
		"consensusPrice", snapshot.ConsensusPrice,
		"divergencePct", snapshot.DivergencePct,
		"weighting", snapshot.Weighting,
	)
	return nil
}

// OnScheduledTick runs one resolution pass.
func (e *Engine) OnScheduledTick(ctx context.Context) (model.PassResult, error) {
	start := e.now()
	result, err := e.job.Run(ctx)
	if e.recorder != nil {
		e.recorder.RecordPass(result.Resolved, result.Expired, result.Failed, time.Since(start).Seconds())
		if err != nil {
			e.recorder.RecordError("pass")
		}
	}
	if err != nil {
		return result, fmt.Errorf("resolution pass: %w", err)
	}
	return result, nil
}

// LatestConsensus returns the most recent consensus snapshot for a ticker.
func (e *Engine) LatestConsensus(ctx context.Context, ticker string) (model.ConsensusSnapshot, error) {
	return e.repo.LatestConsensusSnapshot(ctx, ticker)
}
