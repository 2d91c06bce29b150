package model

import (
	"time"

	"github.com/google/uuid"
)

// PredictionStatus is the lifecycle state of a prediction.
type PredictionStatus string

const (
	StatusActive   PredictionStatus = "active"
	StatusResolved PredictionStatus = "resolved"
	StatusExpired  PredictionStatus = "expired"
)

// WeightingMethod identifies how a consensus price was weighted.
type WeightingMethod string

const (
	WeightingEqual    WeightingMethod = "equal"
	WeightingAccuracy WeightingMethod = "accuracy"
)

// Supported prediction horizons in days.
const (
	HorizonShortDays = 7
	HorizonLongDays  = 14
)

// PriceTick represents a single market price update from the feed.
type PriceTick struct {
	Ticker string
	Price  float64
	At     time.Time
}

// Prediction is one forecaster's price-target call on one ticker.
// The resolution fields are nil until the resolution job resolves it,
// after which all of them are set in a single write.
type Prediction struct {
	ID                      uuid.UUID        `db:"id"`
	AgentID                 uuid.UUID        `db:"agent_id"`
	Ticker                  string           `db:"ticker"`
	TargetPrice             float64          `db:"target_price"`
	MarketPriceAtSubmission float64          `db:"market_price_at_submission"`
	HorizonDays             int              `db:"horizon_days"`
	SubmittedAt             time.Time        `db:"submitted_at"`
	Status                  PredictionStatus `db:"status"`
	ResolvedAt              *time.Time       `db:"resolved_at"`
	ActualPriceAtResolution *float64         `db:"actual_price_at_resolution"`
	PredictionErrorPct      *float64         `db:"prediction_error_pct"`
	DirectionCorrect        *bool            `db:"direction_correct"`
}

// DueAt returns the time at which the prediction's horizon elapses.
func (p Prediction) DueAt() time.Time {
	return p.SubmittedAt.Add(time.Duration(p.HorizonDays) * 24 * time.Hour)
}

// AgentAccuracy is one forecaster's rolling performance summary,
// one row per agent, fully replaced on every recalculation.
type AgentAccuracy struct {
	AgentID              uuid.UUID `db:"agent_id"`
	WeightedAvgErrorPct  float64   `db:"weighted_avg_error_pct"`
	DirectionAccuracyPct float64   `db:"direction_accuracy_pct"`
	TotalResolved        int       `db:"total_resolved"`
	LastCalculatedAt     time.Time `db:"last_calculated_at"`
}

// ConsensusSnapshot is one point-in-time consensus reading for one ticker.
// Rows are append-only; consumers read the most recent row per ticker.
type ConsensusSnapshot struct {
	ID             int64           `db:"id"`
	Ticker         string          `db:"ticker"`
	ConsensusPrice float64         `db:"consensus_price"`
	MarketPrice    float64         `db:"market_price"`
	DivergencePct  float64         `db:"divergence_pct"`
	NumPredictions int             `db:"num_predictions"`
	NumAgents      int             `db:"num_agents"`
	Weighting      WeightingMethod `db:"weighting_method"`
	CalculatedAt   time.Time       `db:"calculated_at"`
}

// PriceSnapshot is a persisted market price observation for a ticker,
// used as the historical close source when resolving predictions.
type PriceSnapshot struct {
	ID         int64     `db:"id"`
	Ticker     string    `db:"ticker"`
	Price      float64   `db:"price"`
	RecordedAt time.Time `db:"recorded_at"`
}

// PassResult summarizes one resolution pass.
type PassResult struct {
	Resolved      int
	Expired       int
	Failed        int
	FailedTickers []string
}
