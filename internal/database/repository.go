package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"crowdcast/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("database: not found")

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error

	InsertPrediction(ctx context.Context, p model.Prediction) error
	ActivePredictionsByTicker(ctx context.Context, ticker string) ([]model.Prediction, error)
	DuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error)
	ExpirePredictionsOutside(ctx context.Context, universe []string) (int64, error)
	MarkResolved(ctx context.Context, id uuid.UUID, resolvedAt time.Time, actualPrice, errorPct float64, directionCorrect bool) (bool, error)
	ResolvedPredictionsByAgent(ctx context.Context, agentID uuid.UUID, since time.Time) ([]model.Prediction, error)

	UpsertAgentAccuracy(ctx context.Context, a model.AgentAccuracy) error
	AgentAccuracies(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]model.AgentAccuracy, error)

	InsertConsensusSnapshot(ctx context.Context, s model.ConsensusSnapshot) error
	LatestConsensusSnapshot(ctx context.Context, ticker string) (model.ConsensusSnapshot, error)

	InsertPriceSnapshot(ctx context.Context, s model.PriceSnapshot) error
	PriceSnapshotNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (model.PriceSnapshot, error)
}
