// Package mocks provides a testify mock of database.Repository for unit tests.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"crowdcast/internal/model"
)

// Repository is a mock implementation of database.Repository.
type Repository struct {
	mock.Mock
}

func (m *Repository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Repository) InsertPrediction(ctx context.Context, p model.Prediction) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *Repository) ActivePredictionsByTicker(ctx context.Context, ticker string) ([]model.Prediction, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Prediction), args.Error(1)
}

func (m *Repository) DuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Prediction), args.Error(1)
}

func (m *Repository) ExpirePredictionsOutside(ctx context.Context, universe []string) (int64, error) {
	args := m.Called(ctx, universe)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Repository) MarkResolved(ctx context.Context, id uuid.UUID, resolvedAt time.Time, actualPrice, errorPct float64, directionCorrect bool) (bool, error) {
	args := m.Called(ctx, id, resolvedAt, actualPrice, errorPct, directionCorrect)
	return args.Bool(0), args.Error(1)
}

func (m *Repository) ResolvedPredictionsByAgent(ctx context.Context, agentID uuid.UUID, since time.Time) ([]model.Prediction, error) {
	args := m.Called(ctx, agentID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Prediction), args.Error(1)
}

func (m *Repository) UpsertAgentAccuracy(ctx context.Context, a model.AgentAccuracy) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *Repository) AgentAccuracies(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]model.AgentAccuracy, error) {
	args := m.Called(ctx, agentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]model.AgentAccuracy), args.Error(1)
}

func (m *Repository) InsertConsensusSnapshot(ctx context.Context, s model.ConsensusSnapshot) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *Repository) LatestConsensusSnapshot(ctx context.Context, ticker string) (model.ConsensusSnapshot, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(model.ConsensusSnapshot), args.Error(1)
}

func (m *Repository) InsertPriceSnapshot(ctx context.Context, s model.PriceSnapshot) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *Repository) PriceSnapshotNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (model.PriceSnapshot, error) {
	args := m.Called(ctx, ticker, at, window)
	return args.Get(0).(model.PriceSnapshot), args.Error(1)
}
