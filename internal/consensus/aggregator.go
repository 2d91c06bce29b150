package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"crowdcast/internal/database"
	"crowdcast/internal/model"
	"crowdcast/internal/oracle"
	"crowdcast/internal/scoring"
)

// ErrNoActivePredictions means the ticker has nothing to aggregate.
// Callers skip the snapshot write; this is not a failure.
var ErrNoActivePredictions = errors.New("consensus: no active predictions")

// Equal-weighting methods.
const (
	EqualMean    = "mean"
	EqualTrimmed = "trimmed"
)

// Fallback weights for agents without a qualifying accuracy profile.
const (
	FallbackNeutral    = "neutral"
	FallbackHalfMedian = "half_median"
)

// Market price sourcing strategies for the divergence calculation.
const (
	SourceSnapshot = "snapshot"
	SourceLive     = "live"
)

// trimSigmas is the distance from the median, in population standard
// deviations, beyond which a target price is treated as an outlier.
const trimSigmas = 2.0

// neutralWeight is the weight assigned to unscored agents under the
// neutral fallback policy.
const neutralWeight = 1.0

// Policy holds the configurable weighting decisions.
type Policy struct {
	// MinResolved is the resolved-prediction count at which an agent's
	// accuracy profile qualifies it for accuracy weighting.
	MinResolved int
	// EqualMethod is EqualMean or EqualTrimmed.
	EqualMethod string
	// FallbackWeight is FallbackNeutral or FallbackHalfMedian.
	FallbackWeight string
	// MarketPriceSource is SourceSnapshot or SourceLive.
	MarketPriceSource string
}

// DefaultPolicy returns the policy the engine ships with: majority-qualified
// switching, plain mean, neutral fallback, submission-time market price.
func DefaultPolicy() Policy {
	return Policy{
		MinResolved:       20,
		EqualMethod:       EqualMean,
		FallbackWeight:    FallbackNeutral,
		MarketPriceSource: SourceSnapshot,
	}
}

// Aggregator computes consensus snapshots for tickers from their active
// predictions, weighting by agent accuracy when enough agents have a
// track record.
type Aggregator struct {
	logger *slog.Logger
	repo   database.Repository
	prices oracle.PriceSource
	policy Policy
	now    func() time.Time
}

// NewAggregator creates a new Aggregator. prices is only consulted when the
// policy sources market prices live.
func NewAggregator(logger *slog.Logger, repo database.Repository, prices oracle.PriceSource, policy Policy) *Aggregator {
	return &Aggregator{
		logger: logger,
		repo:   repo,
		prices: prices,
		policy: policy,
		now:    time.Now,
	}
}

// Compute builds one consensus snapshot for ticker from its active
// predictions. The snapshot is returned, not persisted; callers append it.
func (a *Aggregator) Compute(ctx context.Context, ticker string) (model.ConsensusSnapshot, error) {
	active, err := a.repo.ActivePredictionsByTicker(ctx, ticker)
	if err != nil {
		return model.ConsensusSnapshot{}, fmt.Errorf("load active predictions: %w", err)
	}
	if len(active) == 0 {
		return model.ConsensusSnapshot{}, ErrNoActivePredictions
	}

	agentIDs := distinctAgents(active)
	accuracies, err := a.repo.AgentAccuracies(ctx, agentIDs)
	if err != nil {
		return model.ConsensusSnapshot{}, fmt.Errorf("load agent accuracies: %w", err)
	}

	method := a.selectMethod(active, accuracies)

	var consensusPrice float64
	if method == model.WeightingAccuracy {
		weights := PredictionWeights(active, accuracies, a.policy.MinResolved, a.policy.FallbackWeight)
		consensusPrice, err = weightedConsensus(active, weights)
		if err != nil {
			// A zero weight sum cannot happen with positive fallback
			// weights; log loudly and degrade to equal weighting.
			a.logger.Error("invariant violated in accuracy weighting, using equal weighting", "ticker", ticker, "error", err)
			method = model.WeightingEqual
		}
	}
	if method == model.WeightingEqual {
		consensusPrice = equalConsensus(targetPrices(active), a.policy.EqualMethod)
	}

	marketPrice := a.marketPrice(ctx, ticker, active)

	return model.ConsensusSnapshot{
		Ticker:         ticker,
		ConsensusPrice: consensusPrice,
		MarketPrice:    marketPrice,
		DivergencePct:  (consensusPrice - marketPrice) / marketPrice * 100,
		NumPredictions: len(active),
		NumAgents:      len(agentIDs),
		Weighting:      method,
		CalculatedAt:   a.now().UTC(),
	}, nil
}

// selectMethod applies the majority-qualified switch: accuracy weighting is
// used once predictions from agents with a qualifying track record make up
// at least half of the active set.
func (a *Aggregator) selectMethod(active []model.Prediction, accuracies map[uuid.UUID]model.AgentAccuracy) model.WeightingMethod {
	qualified := 0
	for _, p := range active {
		if acc, ok := accuracies[p.AgentID]; ok && acc.TotalResolved >= a.policy.MinResolved {
			qualified++
		}
	}
	if 2*qualified >= len(active) && qualified > 0 {
		return model.WeightingAccuracy
	}
	return model.WeightingEqual
}

// marketPrice picks the market price the divergence is measured against.
// The snapshot source uses the price recorded on the most recent active
// prediction, keeping the snapshot consistent with what agents saw; the
// live source asks the oracle and falls back to the snapshot price when
// the oracle is unavailable.
func (a *Aggregator) marketPrice(ctx context.Context, ticker string, active []model.Prediction) float64 {
	latest := active[0]
	for _, p := range active[1:] {
		if p.SubmittedAt.After(latest.SubmittedAt) {
			latest = p
		}
	}

	if a.policy.MarketPriceSource == SourceLive && a.prices != nil {
		price, err := a.prices.CurrentPrice(ctx, ticker)
		if err == nil {
			return price
		}
		a.logger.Warn("live market price unavailable, using submission price", "ticker", ticker, "error", err)
	}
	return latest.MarketPriceAtSubmission
}

// equalConsensus averages target prices, optionally trimming outliers
// further than trimSigmas standard deviations from the median.
func equalConsensus(targets []float64, method string) float64 {
	if method == EqualTrimmed {
		return scoring.TrimmedMean(targets, trimSigmas)
	}
	return scoring.Mean(targets)
}

// PredictionWeights assigns one weight per active prediction. Qualified
// agents get base_weight x direction_multiplier from their accuracy profile;
// unscored agents get the fallback weight. Pure: the full weight list is
// derived from the inputs alone.
func PredictionWeights(active []model.Prediction, accuracies map[uuid.UUID]model.AgentAccuracy, minResolved int, fallback string) []float64 {
	weights := make([]float64, len(active))
	var qualifiedWeights []float64

	for i, p := range active {
		acc, ok := accuracies[p.AgentID]
		if !ok || acc.TotalResolved < minResolved {
			weights[i] = -1 // placeholder, filled below
			continue
		}
		base := 100 / (acc.WeightedAvgErrorPct + 1)
		directionMult := 0.5 + acc.DirectionAccuracyPct/100
		weights[i] = base * directionMult
		qualifiedWeights = append(qualifiedWeights, weights[i])
	}

	fb := neutralWeight
	if fallback == FallbackHalfMedian && len(qualifiedWeights) > 0 {
		fb = scoring.Median(qualifiedWeights) / 2
	}
	for i, w := range weights {
		if w < 0 {
			weights[i] = fb
		}
	}
	return weights
}

// weightedConsensus normalizes the weights by their own sum, so uniformly
// rescaling all weights leaves the consensus unchanged.
func weightedConsensus(active []model.Prediction, weights []float64) (float64, error) {
	var weightedSum, weightSum float64
	for i, p := range active {
		weightedSum += p.TargetPrice * weights[i]
		weightSum += weights[i]
	}
	if weightSum <= 0 {
		return 0, fmt.Errorf("weight sum is %v", weightSum)
	}
	return weightedSum / weightSum, nil
}

func targetPrices(active []model.Prediction) []float64 {
	targets := make([]float64, len(active))
	for i, p := range active {
		targets[i] = p.TargetPrice
	}
	return targets
}

func distinctAgents(active []model.Prediction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(active))
	var ids []uuid.UUID
	for _, p := range active {
		if _, ok := seen[p.AgentID]; !ok {
			seen[p.AgentID] = struct{}{}
			ids = append(ids, p.AgentID)
		}
	}
	return ids
}
