package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"crowdcast/internal/model"
)

// PostgresRepository implements Repository on top of a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS predictions (
		id UUID PRIMARY KEY,
		agent_id UUID NOT NULL,
		ticker VARCHAR(12) NOT NULL,
		target_price NUMERIC(20, 8) NOT NULL CHECK (target_price > 0),
		market_price_at_submission NUMERIC(20, 8) NOT NULL CHECK (market_price_at_submission > 0),
		horizon_days INT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		resolved_at TIMESTAMPTZ,
		actual_price_at_resolution NUMERIC(20, 8),
		prediction_error_pct NUMERIC(12, 6),
		direction_correct BOOLEAN
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_active_ticker ON predictions (ticker) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_predictions_agent_resolved ON predictions (agent_id) WHERE status = 'resolved';

	CREATE TABLE IF NOT EXISTS agent_accuracy (
		agent_id UUID PRIMARY KEY,
		weighted_avg_error_pct NUMERIC(12, 6) NOT NULL,
		direction_accuracy_pct NUMERIC(6, 3) NOT NULL,
		total_resolved INT NOT NULL,
		last_calculated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS consensus_snapshots (
		id BIGSERIAL PRIMARY KEY,
		ticker VARCHAR(12) NOT NULL,
		consensus_price NUMERIC(20, 8) NOT NULL,
		market_price NUMERIC(20, 8) NOT NULL,
		divergence_pct NUMERIC(12, 6) NOT NULL,
		num_predictions INT NOT NULL,
		num_agents INT NOT NULL,
		weighting_method VARCHAR(10) NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consensus_ticker_time ON consensus_snapshots (ticker, calculated_at DESC);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		id BIGSERIAL PRIMARY KEY,
		ticker VARCHAR(12) NOT NULL,
		price NUMERIC(20, 8) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_snapshots_ticker_time ON price_snapshots (ticker, recorded_at);`

	_, err := r.Pool.Exec(ctx, schema)
	return err
}

const predictionColumns = `id, agent_id, ticker, target_price, market_price_at_submission,
	horizon_days, submitted_at, status, resolved_at, actual_price_at_resolution,
	prediction_error_pct, direction_correct`

func scanPredictions(rows pgx.Rows) ([]model.Prediction, error) {
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		var p model.Prediction
		if err := rows.Scan(
			&p.ID, &p.AgentID, &p.Ticker, &p.TargetPrice, &p.MarketPriceAtSubmission,
			&p.HorizonDays, &p.SubmittedAt, &p.Status, &p.ResolvedAt,
			&p.ActualPriceAtResolution, &p.PredictionErrorPct, &p.DirectionCorrect,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertPrediction(ctx context.Context, p model.Prediction) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO predictions (id, agent_id, ticker, target_price, market_price_at_submission, horizon_days, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.AgentID, p.Ticker, p.TargetPrice, p.MarketPriceAtSubmission, p.HorizonDays, p.SubmittedAt, p.Status)
	return err
}

func (r *PostgresRepository) ActivePredictionsByTicker(ctx context.Context, ticker string) ([]model.Prediction, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE status = 'active' AND ticker = $1
		ORDER BY submitted_at`, ticker)
	if err != nil {
		return nil, err
	}
	return scanPredictions(rows)
}

func (r *PostgresRepository) DuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE status = 'active'
		  AND submitted_at + horizon_days * INTERVAL '1 day' <= $1
		ORDER BY submitted_at`, now)
	if err != nil {
		return nil, err
	}
	return scanPredictions(rows)
}

// ExpirePredictionsOutside marks active predictions whose ticker is no longer
// part of the universe as expired. Returns the number of rows expired.
func (r *PostgresRepository) ExpirePredictionsOutside(ctx context.Context, universe []string) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE predictions SET status = 'expired'
		WHERE status = 'active' AND ticker != ALL($1)`, universe)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkResolved writes all resolution fields in one statement, guarded by the
// active status so a prediction can be resolved at most once. The returned
// bool reports whether this call performed the transition.
func (r *PostgresRepository) MarkResolved(ctx context.Context, id uuid.UUID, resolvedAt time.Time, actualPrice, errorPct float64, directionCorrect bool) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE predictions
		SET status = 'resolved', resolved_at = $2, actual_price_at_resolution = $3,
		    prediction_error_pct = $4, direction_correct = $5
		WHERE id = $1 AND status = 'active'`,
		id, resolvedAt, actualPrice, errorPct, directionCorrect)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolvedPredictionsByAgent returns an agent's resolved predictions, oldest
// first. A zero since returns the full history.
func (r *PostgresRepository) ResolvedPredictionsByAgent(ctx context.Context, agentID uuid.UUID, since time.Time) ([]model.Prediction, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE status = 'resolved' AND agent_id = $1 AND ($2::timestamptz IS NULL OR resolved_at >= $2)
		ORDER BY resolved_at`, agentID, nullableTime(since))
	if err != nil {
		return nil, err
	}
	return scanPredictions(rows)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *PostgresRepository) UpsertAgentAccuracy(ctx context.Context, a model.AgentAccuracy) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO agent_accuracy (agent_id, weighted_avg_error_pct, direction_accuracy_pct, total_resolved, last_calculated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			weighted_avg_error_pct = EXCLUDED.weighted_avg_error_pct,
			direction_accuracy_pct = EXCLUDED.direction_accuracy_pct,
			total_resolved = EXCLUDED.total_resolved,
			last_calculated_at = EXCLUDED.last_calculated_at`,
		a.AgentID, a.WeightedAvgErrorPct, a.DirectionAccuracyPct, a.TotalResolved, a.LastCalculatedAt)
	return err
}

func (r *PostgresRepository) AgentAccuracies(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]model.AgentAccuracy, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT agent_id, weighted_avg_error_pct, direction_accuracy_pct, total_resolved, last_calculated_at
		FROM agent_accuracy
		WHERE agent_id = ANY($1)`, agentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.AgentAccuracy, len(agentIDs))
	for rows.Next() {
		var a model.AgentAccuracy
		if err := rows.Scan(&a.AgentID, &a.WeightedAvgErrorPct, &a.DirectionAccuracyPct, &a.TotalResolved, &a.LastCalculatedAt); err != nil {
			return nil, err
		}
		out[a.AgentID] = a
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertConsensusSnapshot(ctx context.Context, s model.ConsensusSnapshot) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO consensus_snapshots (ticker, consensus_price, market_price, divergence_pct, num_predictions, num_agents, weighting_method, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.Ticker, s.ConsensusPrice, s.MarketPrice, s.DivergencePct, s.NumPredictions, s.NumAgents, s.Weighting, s.CalculatedAt)
	return err
}

func (r *PostgresRepository) LatestConsensusSnapshot(ctx context.Context, ticker string) (model.ConsensusSnapshot, error) {
	var s model.ConsensusSnapshot
	err := r.Pool.QueryRow(ctx, `
		SELECT id, ticker, consensus_price, market_price, divergence_pct, num_predictions, num_agents, weighting_method, calculated_at
		FROM consensus_snapshots
		WHERE ticker = $1
		ORDER BY calculated_at DESC
		LIMIT 1`, ticker).Scan(
		&s.ID, &s.Ticker, &s.ConsensusPrice, &s.MarketPrice, &s.DivergencePct,
		&s.NumPredictions, &s.NumAgents, &s.Weighting, &s.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ConsensusSnapshot{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) InsertPriceSnapshot(ctx context.Context, s model.PriceSnapshot) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO price_snapshots (ticker, price, recorded_at)
		VALUES ($1, $2, $3)`,
		s.Ticker, s.Price, s.RecordedAt)
	return err
}

// PriceSnapshotNear returns the snapshot closest to at within ±window.
func (r *PostgresRepository) PriceSnapshotNear(ctx context.Context, ticker string, at time.Time, window time.Duration) (model.PriceSnapshot, error) {
	var s model.PriceSnapshot
	err := r.Pool.QueryRow(ctx, `
		SELECT id, ticker, price, recorded_at
		FROM price_snapshots
		WHERE ticker = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY ABS(EXTRACT(EPOCH FROM recorded_at - $4::timestamptz))
		LIMIT 1`, ticker, at.Add(-window), at.Add(window), at).Scan(
		&s.ID, &s.Ticker, &s.Price, &s.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PriceSnapshot{}, ErrNotFound
	}
	return s, err
}
