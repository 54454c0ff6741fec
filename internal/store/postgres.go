package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/Cover/internal/comments"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS cover_cycles (
	cycle_id       UUID PRIMARY KEY,
	date           DATE NOT NULL,
	fingerprint    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	plans          INT NOT NULL DEFAULT 0,
	unassigned     INT NOT NULL DEFAULT 0,
	eligible_pairs INT NOT NULL DEFAULT 0,
	error          TEXT,
	payload        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cover_cycles_created_idx ON cover_cycles (created_at DESC);

CREATE TABLE IF NOT EXISTS cover_recommendations (
	recommendation_id UUID PRIMARY KEY,
	cycle_id          UUID NOT NULL REFERENCES cover_cycles (cycle_id) ON DELETE CASCADE,
	rank              INT NOT NULL,
	objective         BIGINT NOT NULL,
	assigned          JSONB NOT NULL,
	unassigned        TEXT[] NOT NULL DEFAULT '{}',
	avg_travel_time   DOUBLE PRECISION,
	avg_priority      DOUBLE PRECISION,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cover_recommendations_cycle_idx ON cover_recommendations (cycle_id, rank);

CREATE TABLE IF NOT EXISTS cover_comments (
	id           BIGSERIAL PRIMARY KEY,
	cycle_id     UUID NOT NULL REFERENCES cover_cycles (cycle_id) ON DELETE CASCADE,
	subject_kind TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	message      TEXT NOT NULL,
	at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cover_comments_cycle_idx ON cover_comments (cycle_id, id);

CREATE TABLE IF NOT EXISTS cover_assignment_history (
	employee_id TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	date        DATE NOT NULL,
	features    JSONB NOT NULL,
	PRIMARY KEY (employee_id, client_id, date)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const cycleColumns = `cycle_id, date, fingerprint, status, plans, unassigned, eligible_pairs, error, payload, created_at`

func (s *PostgresStore) SaveCycle(ctx context.Context, c *Cycle) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var payload []byte
	if len(c.Payload) > 0 {
		payload = c.Payload
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO cover_cycles (cycle_id, date, fingerprint, status, plans, unassigned, eligible_pairs, error, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (cycle_id) DO UPDATE SET
			status = EXCLUDED.status, plans = EXCLUDED.plans, unassigned = EXCLUDED.unassigned,
			eligible_pairs = EXCLUDED.eligible_pairs, error = EXCLUDED.error, payload = EXCLUDED.payload
		RETURNING created_at`,
		c.ID, c.Date, c.Fingerprint, c.Status, c.Plans, c.Unassigned, c.EligiblePairs, c.Error, payload,
	).Scan(&c.CreatedAt)
}

func (s *PostgresStore) GetCycle(ctx context.Context, id uuid.UUID) (*Cycle, error) {
	return s.scanCycle(s.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cover_cycles WHERE cycle_id = $1`, id))
}

func (s *PostgresStore) LatestCycle(ctx context.Context) (*Cycle, error) {
	return s.scanCycle(s.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cover_cycles ORDER BY created_at DESC LIMIT 1`))
}

func (s *PostgresStore) scanCycle(row pgx.Row) (*Cycle, error) {
	c := &Cycle{}
	var cycleErr sql.NullString
	var payload []byte
	err := row.Scan(&c.ID, &c.Date, &c.Fingerprint, &c.Status, &c.Plans, &c.Unassigned, &c.EligiblePairs, &cycleErr, &payload, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cycleErr.Valid {
		c.Error = cycleErr.String
	}
	if payload != nil {
		c.Payload = json.RawMessage(payload)
	}
	return c, nil
}

func (s *PostgresStore) SaveRecommendations(ctx context.Context, recs []Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		assigned, err := json.Marshal(r.Assigned)
		if err != nil {
			return fmt.Errorf("encode recommendation %s: %w", r.ID, err)
		}
		unassigned := r.Unassigned
		if unassigned == nil {
			unassigned = []string{}
		}
		batch.Queue(`
			INSERT INTO cover_recommendations (recommendation_id, cycle_id, rank, objective, assigned, unassigned, avg_travel_time, avg_priority)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.CycleID, r.Rank, r.Objective, assigned, unassigned, r.AvgTravelTime, r.AvgPriority,
		)
	}
	return s.execBatch(ctx, batch)
}

const recommendationColumns = `recommendation_id, cycle_id, rank, objective, assigned, unassigned, avg_travel_time, avg_priority, created_at`

func (s *PostgresStore) GetRecommendation(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recommendationColumns+` FROM cover_recommendations WHERE recommendation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanRecommendations(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, cycleID uuid.UUID) ([]Recommendation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recommendationColumns+` FROM cover_recommendations WHERE cycle_id = $1 ORDER BY rank ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

func scanRecommendations(rows pgx.Rows) ([]Recommendation, error) {
	var recs []Recommendation
	for rows.Next() {
		var r Recommendation
		var assigned []byte
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Rank, &r.Objective, &assigned, &r.Unassigned, &r.AvgTravelTime, &r.AvgPriority, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(assigned, &r.Assigned); err != nil {
			return nil, fmt.Errorf("decode recommendation %s: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) SaveComments(ctx context.Context, cycleID uuid.UUID, events []comments.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO cover_comments (cycle_id, subject_kind, subject_id, message, at)
			VALUES ($1, $2, $3, $4, $5)`,
			cycleID, string(e.Subject.Kind), e.Subject.ID, e.Message, e.At,
		)
	}
	return s.execBatch(ctx, batch)
}

func (s *PostgresStore) ListComments(ctx context.Context, cycleID uuid.UUID) ([]comments.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject_kind, subject_id, message, at
		FROM cover_comments WHERE cycle_id = $1
		ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []comments.Event
	for rows.Next() {
		var e comments.Event
		var kind string
		if err := rows.Scan(&kind, &e.Subject.ID, &e.Message, &e.At); err != nil {
			return nil, err
		}
		e.Subject.Kind = comments.Kind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) RecordAssignments(ctx context.Context, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		f, err := json.Marshal(r.Features)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		batch.Queue(`
			INSERT INTO cover_assignment_history (employee_id, client_id, date, features)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (employee_id, client_id, date) DO UPDATE SET features = EXCLUDED.features`,
			r.EmployeeID, r.ClientID, r.Date, f,
		)
	}
	return s.execBatch(ctx, batch)
}

func (s *PostgresStore) ListAssignmentHistory(ctx context.Context, since time.Time) ([]HistoryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT employee_id, client_id, date, features
		FROM cover_assignment_history WHERE date >= $1
		ORDER BY date ASC, employee_id ASC, client_id ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var f []byte
		if err := rows.Scan(&r.EmployeeID, &r.ClientID, &r.Date, &f); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(f, &r.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) execBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
