package scoring

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"crowdcast/internal/database/mocks"
	"crowdcast/internal/model"
)

func resolvedPrediction(agentID uuid.UUID, errorPct float64, directionCorrect bool, resolvedAt time.Time) model.Prediction {
	return model.Prediction{
		ID:                      uuid.New(),
		AgentID:                 agentID,
		Ticker:                  "NVDA",
		TargetPrice:             150,
		MarketPriceAtSubmission: 140,
		HorizonDays:             model.HorizonShortDays,
		SubmittedAt:             resolvedAt.Add(-7 * 24 * time.Hour),
		Status:                  model.StatusResolved,
		ResolvedAt:              &resolvedAt,
		ActualPriceAtResolution: ptr(145.0),
		PredictionErrorPct:      &errorPct,
		DirectionCorrect:        &directionCorrect,
	}
}

func ptr[T any](v T) *T { return &v }

func TestComputeAccuracy_EmptyInput(t *testing.T) {
	_, err := ComputeAccuracy(nil, DefaultDecayFactor, time.Now())
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestComputeAccuracy_UndecayedAverage(t *testing.T) {
	now := time.Now().UTC()
	agent := uuid.New()
	resolved := []model.Prediction{
		resolvedPrediction(agent, 10, true, now),
		resolvedPrediction(agent, 20, false, now),
	}

	acc, err := ComputeAccuracy(resolved, DefaultDecayFactor, now)
	require.NoError(t, err)

	assert.Equal(t, agent, acc.AgentID)
	assert.InDelta(t, 15.0, acc.WeightedAvgErrorPct, 1e-9)
	assert.InDelta(t, 50.0, acc.DirectionAccuracyPct, 1e-9)
	assert.Equal(t, 2, acc.TotalResolved)
}

func TestComputeAccuracy_RecentResolutionsWeighMore(t *testing.T) {
	now := time.Now().UTC()
	agent := uuid.New()

	// Same two errors; only recency differs. The decayed average must lean
	// toward whichever error resolved more recently.
	recentGood := []model.Prediction{
		resolvedPrediction(agent, 0, true, now),
		resolvedPrediction(agent, 10, true, now.Add(-30*24*time.Hour)),
	}
	recentBad := []model.Prediction{
		resolvedPrediction(agent, 10, true, now),
		resolvedPrediction(agent, 0, true, now.Add(-30*24*time.Hour)),
	}

	accGood, err := ComputeAccuracy(recentGood, DefaultDecayFactor, now)
	require.NoError(t, err)
	accBad, err := ComputeAccuracy(recentBad, DefaultDecayFactor, now)
	require.NoError(t, err)

	assert.Less(t, accGood.WeightedAvgErrorPct, 5.0)
	assert.Greater(t, accBad.WeightedAvgErrorPct, 5.0)
}

func TestComputeAccuracy_Bounds(t *testing.T) {
	now := time.Now().UTC()
	agent := uuid.New()
	var resolved []model.Prediction
	for i := 0; i < 10; i++ {
		resolved = append(resolved, resolvedPrediction(agent, float64(i*3), i%3 == 0, now.Add(-time.Duration(i)*24*time.Hour)))
	}

	acc, err := ComputeAccuracy(resolved, DefaultDecayFactor, now)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, acc.WeightedAvgErrorPct, 0.0)
	assert.GreaterOrEqual(t, acc.DirectionAccuracyPct, 0.0)
	assert.LessOrEqual(t, acc.DirectionAccuracyPct, 100.0)
	assert.Equal(t, 10, acc.TotalResolved)
}

func TestScorer_Recompute(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	agent := uuid.New()
	now := time.Now().UTC()

	t.Run("upserts recomputed profile", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		scorer := NewScorer(logger, mockRepo, DefaultDecayFactor, 365)

		mockRepo.On("ResolvedPredictionsByAgent", mock.Anything, agent, mock.Anything).
			Return([]model.Prediction{resolvedPrediction(agent, 5, true, now)}, nil)
		mockRepo.On("UpsertAgentAccuracy", mock.Anything, mock.MatchedBy(func(a model.AgentAccuracy) bool {
			return a.AgentID == agent && a.TotalResolved == 1
		})).Return(nil).Once()

		require.NoError(t, scorer.Recompute(context.Background(), agent))
		mockRepo.AssertExpectations(t)
	})

	t.Run("leaves row untouched when nothing resolved", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		scorer := NewScorer(logger, mockRepo, DefaultDecayFactor, 365)

		mockRepo.On("ResolvedPredictionsByAgent", mock.Anything, agent, mock.Anything).
			Return([]model.Prediction{}, nil)

		require.NoError(t, scorer.Recompute(context.Background(), agent))
		mockRepo.AssertNotCalled(t, "UpsertAgentAccuracy")
	})

	t.Run("applies the lookback window", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		scorer := NewScorer(logger, mockRepo, DefaultDecayFactor, 30)
		scorer.now = func() time.Time { return now }

		mockRepo.On("ResolvedPredictionsByAgent", mock.Anything, agent, now.Add(-30*24*time.Hour)).
			Return([]model.Prediction{}, nil)

		require.NoError(t, scorer.Recompute(context.Background(), agent))
		mockRepo.AssertExpectations(t)
	})
}
