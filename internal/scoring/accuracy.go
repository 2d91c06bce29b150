package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"crowdcast/internal/database"
	"crowdcast/internal/model"
)

// DefaultDecayFactor is the per-day exponential decay applied to resolved
// predictions when averaging an agent's error history.
const DefaultDecayFactor = 0.95

// ErrNotEnoughData means the agent has no resolved predictions to score.
var ErrNotEnoughData = errors.New("scoring: not enough data")

// ComputeAccuracy folds an agent's resolved predictions into a single decayed
// accuracy profile. Recent resolutions weigh more: each prediction contributes
// with weight decayFactor^age_days, age measured from resolved_at to now.
func ComputeAccuracy(resolved []model.Prediction, decayFactor float64, now time.Time) (model.AgentAccuracy, error) {
	if len(resolved) == 0 {
		return model.AgentAccuracy{}, ErrNotEnoughData
	}

	var weightedErrorSum, decaySum, correctDecaySum float64
	for _, p := range resolved {
		if p.Status != model.StatusResolved || p.ResolvedAt == nil || p.PredictionErrorPct == nil || p.DirectionCorrect == nil {
			return model.AgentAccuracy{}, fmt.Errorf("scoring: prediction %s has unset resolution fields", p.ID)
		}
		ageDays := now.Sub(*p.ResolvedAt).Hours() / 24
		decay := math.Pow(decayFactor, ageDays)
		weightedErrorSum += *p.PredictionErrorPct * decay
		decaySum += decay
		if *p.DirectionCorrect {
			correctDecaySum += decay
		}
	}

	return model.AgentAccuracy{
		AgentID:              resolved[0].AgentID,
		WeightedAvgErrorPct:  weightedErrorSum / decaySum,
		DirectionAccuracyPct: 100 * correctDecaySum / decaySum,
		TotalResolved:        len(resolved),
		LastCalculatedAt:     now,
	}, nil
}

// Scorer recomputes and persists agent accuracy profiles.
type Scorer struct {
	logger      *slog.Logger
	repo        database.Repository
	decayFactor float64
	maxLookback time.Duration
	now         func() time.Time
}

// NewScorer creates a Scorer. A maxLookbackDays of 0 disables the lookback
// cutoff and scores the full resolved history.
func NewScorer(logger *slog.Logger, repo database.Repository, decayFactor float64, maxLookbackDays int) *Scorer {
	if decayFactor <= 0 || decayFactor > 1 {
		decayFactor = DefaultDecayFactor
	}
	return &Scorer{
		logger:      logger,
		repo:        repo,
		decayFactor: decayFactor,
		maxLookback: time.Duration(maxLookbackDays) * 24 * time.Hour,
		now:         time.Now,
	}
}

// Recompute rebuilds one agent's accuracy row from its resolved predictions
// and upserts it. An agent with no resolved predictions is left untouched.
func (s *Scorer) Recompute(ctx context.Context, agentID uuid.UUID) error {
	now := s.now().UTC()

	var since time.Time
	if s.maxLookback > 0 {
		since = now.Add(-s.maxLookback)
	}

	resolved, err := s.repo.ResolvedPredictionsByAgent(ctx, agentID, since)
	if err != nil {
		return fmt.Errorf("load resolved predictions: %w", err)
	}

	acc, err := ComputeAccuracy(resolved, s.decayFactor, now)
	if errors.Is(err, ErrNotEnoughData) {
		s.logger.Debug("no resolved predictions to score", "agentID", agentID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.UpsertAgentAccuracy(ctx, acc); err != nil {
		return fmt.Errorf("upsert agent accuracy: %w", err)
	}

	s.logger.Debug("agent accuracy recomputed",
		"agentID", agentID,
		"avgErrorPct", acc.WeightedAvgErrorPct,
		"directionPct", acc.DirectionAccuracyPct,
		"totalResolved", acc.TotalResolved,
	)
	return nil
}
