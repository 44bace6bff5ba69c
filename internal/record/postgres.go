package record

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink writes each batch to PostgreSQL with a single pgx batch.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to databaseURL and creates the events table.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sim_events (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			person_id INTEGER NOT NULL,
			time DOUBLE PRECISION NOT NULL,
			region TEXT,
			location TEXT,
			group_id INTEGER,
			infector_id INTEGER,
			hospital_id INTEGER,
			tag TEXT
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO sim_events (
			id, kind, person_id, time, region, location, group_id, infector_id, hospital_id, tag
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	for _, e := range events {
		batch.Queue(query, e.ID.String(), string(e.Kind), e.PersonID, e.Time, e.Region, e.Location,
			e.GroupID, e.InfectorID, e.HospitalID, e.Tag)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
