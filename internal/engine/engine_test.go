package engine

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
	"crowdcast/internal/consensus"
	"crowdcast/internal/database/mocks"
	"crowdcast/internal/model"
)

type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockPriceSource) BatchPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	args := m.Called(ctx, tickers)
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *MockPriceSource) HistoricalPriceNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (float64, error) {
	args := m.Called(ctx, ticker, at, window)
	return args.Get(0).(float64), args.Error(1)
}

func newTestEngine(repo *mocks.Repository, prices *MockPriceSource, universe []string) *Engine {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	aggregator := consensus.NewAggregator(logger, repo, prices, consensus.DefaultPolicy())
	return New(logger, repo, prices, aggregator, nil, nil, universe)
}

func TestSubmitPrediction(t *testing.T) {
	agent := uuid.New()

	t.Run("stores the prediction and refreshes consensus", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		mockPrices := new(MockPriceSource)

		mockPrices.On("CurrentPrice", mock.Anything, "AAPL").Return(195.0, nil)
		mockRepo.On("InsertPrediction", mock.Anything, mock.MatchedBy(func(p model.Prediction) bool {
			return p.Ticker == "AAPL" && p.TargetPrice == 200 &&
				p.MarketPriceAtSubmission == 195 && p.Status == model.StatusActive
		})).Return(nil).Once()
		mockRepo.On("ActivePredictionsByTicker", mock.Anything, "AAPL").Return([]model.Prediction{
			{ID: uuid.New(), AgentID: agent, Ticker: "AAPL", TargetPrice: 200, MarketPriceAtSubmission: 195, SubmittedAt: time.Now(), Status: model.StatusActive},
		}, nil)
		mockRepo.On("AgentAccuracies", mock.Anything, mock.Anything).Return(map[uuid.UUID]model.AgentAccuracy{}, nil)
		mockRepo.On("InsertConsensusSnapshot", mock.Anything, mock.MatchedBy(func(s model.ConsensusSnapshot) bool {
			return s.Ticker == "AAPL" && s.ConsensusPrice == 200
		})).Return(nil).Once()

		eng := newTestEngine(mockRepo, mockPrices, []string{"AAPL"})
		p, err := eng.SubmitPrediction(context.Background(), agent, "AAPL", 200, model.HorizonShortDays)
		require.NoError(t, err)

		assert.Equal(t, agent, p.AgentID)
		assert.Equal(t, 195.0, p.MarketPriceAtSubmission)
		mockRepo.AssertExpectations(t)
	})

	t.Run("consensus failure does not fail the submission", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		mockPrices := new(MockPriceSource)

		mockPrices.On("CurrentPrice", mock.Anything, "AAPL").Return(195.0, nil)
		mockRepo.On("InsertPrediction", mock.Anything, mock.Anything).Return(nil)
		mockRepo.On("ActivePredictionsByTicker", mock.Anything, "AAPL").Return(nil, assert.AnError)

		eng := newTestEngine(mockRepo, mockPrices, []string{"AAPL"})
		_, err := eng.SubmitPrediction(context.Background(), agent, "AAPL", 200, model.HorizonShortDays)
		assert.NoError(t, err)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		eng := newTestEngine(new(mocks.Repository), new(MockPriceSource), []string{"AAPL"})

		_, err := eng.SubmitPrediction(context.Background(), agent, "AAPL", -5, model.HorizonShortDays)
		assert.Error(t, err)

		_, err = eng.SubmitPrediction(context.Background(), agent, "AAPL", 200, 3)
		assert.Error(t, err)

		_, err = eng.SubmitPrediction(context.Background(), agent, "TSLA", 200, model.HorizonShortDays)
		assert.Error(t, err)
	})

	t.Run("fails when the oracle is unavailable", func(t *testing.T) {
		mockRepo := new(mocks.Repository)
		mockPrices := new(MockPriceSource)
		mockPrices.On("CurrentPrice", mock.Anything, "AAPL").Return(0.0, assert.AnError)

		eng := newTestEngine(mockRepo, mockPrices, []string{"AAPL"})
		_, err := eng.SubmitPrediction(context.Background(), agent, "AAPL", 200, model.HorizonShortDays)
		assert.Error(t, err)
		mockRepo.AssertNotCalled(t, "InsertPrediction")
	})
}

func TestOnPredictionSubmitted_NoActivePredictions(t *testing.T) {
	mockRepo := new(mocks.Repository)
	mockRepo.On("ActivePredictionsByTicker", mock.Anything, "AAPL").Return([]model.Prediction{}, nil)

	eng := newTestEngine(mockRepo, new(MockPriceSource), []string{"AAPL"})
	err := eng.OnPredictionSubmitted(context.Background(), "AAPL")

	assert.NoError(t, err)
	mockRepo.AssertNotCalled(t, "InsertConsensusSnapshot")
}
