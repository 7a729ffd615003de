// Package store persists the rider roster and position history to
// Postgres so dashboards can chart speed, mileage and elevation over time.
// The tracker treats it as optional: with no database configured the live
// features still run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Position is one historical row for a rider at a refresh tick.
// Route-relative fields are null when no course model was loaded.
type Position struct {
	Bib         string
	Name        string
	Highlighted bool
	Rank        int
	Lat         float64
	Lon         float64
	SpeedMPH    float64
	RouteMiles  float64

	GradientPct sql.NullFloat64
	ClimbedM    sql.NullInt64
	RemainingM  sql.NullInt64
	ElevationM  sql.NullFloat64
}

// Standing is the most recent stored position of one rider.
type Standing struct {
	Position
	Timestamp time.Time
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// EnsureSchema creates the racers and positions tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS racers (
			bib TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			highlighted BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			bib TEXT NOT NULL REFERENCES racers(bib),
			ts TIMESTAMPTZ NOT NULL,
			rank INT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			speed_mph DOUBLE PRECISION NOT NULL,
			route_miles DOUBLE PRECISION NOT NULL,
			gradient_pct DOUBLE PRECISION,
			climbed_m BIGINT,
			remaining_m BIGINT,
			elevation_m DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS positions_bib_ts_idx ON positions (bib, ts DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveBatch upserts the roster and appends one position row per rider,
// all at the same timestamp, in a single transaction.
func (s *Store) SaveBatch(ctx context.Context, ts time.Time, rows []Position) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	const upsertRacer = `INSERT INTO racers (bib, name, highlighted) VALUES ($1, $2, $3)
		ON CONFLICT (bib) DO UPDATE SET name = EXCLUDED.name, highlighted = EXCLUDED.highlighted`
	const insertPos = `INSERT INTO positions
		(bib, ts, rank, lat, lon, speed_mph, route_miles, gradient_pct, climbed_m, remaining_m, elevation_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, upsertRacer, r.Bib, r.Name, r.Highlighted); err != nil {
			return fmt.Errorf("store: upsert racer %s: %w", r.Bib, err)
		}
		if _, err := tx.ExecContext(ctx, insertPos,
			r.Bib, ts, r.Rank, r.Lat, r.Lon, r.SpeedMPH, r.RouteMiles,
			r.GradientPct, r.ClimbedM, r.RemainingM, r.ElevationM,
		); err != nil {
			return fmt.Errorf("store: insert position %s: %w", r.Bib, err)
		}
	}
	return tx.Commit()
}

// LatestStandings returns the newest stored position per rider in rank order.
func (s *Store) LatestStandings(ctx context.Context) ([]Standing, error) {
	const q = `
SELECT DISTINCT ON (p.bib)
       p.bib, r.name, r.highlighted, p.ts, p.rank, p.lat, p.lon,
       p.speed_mph, p.route_miles, p.gradient_pct, p.climbed_m, p.remaining_m, p.elevation_m
FROM positions p
JOIN racers r ON r.bib = p.bib
ORDER BY p.bib, p.ts DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: query standings: %w", err)
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(
			&st.Bib, &st.Name, &st.Highlighted, &st.Timestamp, &st.Rank,
			&st.Lat, &st.Lon, &st.SpeedMPH, &st.RouteMiles,
			&st.GradientPct, &st.ClimbedM, &st.RemainingM, &st.ElevationM,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}
