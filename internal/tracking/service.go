package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/db"
	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrWalkNotFound = errors.New("walk not found")

type DB interface {
	db.Querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Service struct {
	db DB
}

func NewService(db DB) *Service {
	return &Service{db: db}
}

// Record stores one sample and folds it into its walk's totals. A sample
// already stored under the same (stream, seq) is ignored.
func (s *Service) Record(ctx context.Context, sample walk.Sample) (bool, error) {
	at := sample.Time
	if at.IsZero() {
		at = time.Now()
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO walk_samples (stream, seq, lat, lon, distance_km, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (stream, seq) DO NOTHING
	`, sample.Stream, sample.Seq, sample.Coords.Latitude, sample.Coords.Longitude, sample.Distance, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO walks (stream, started_at, last_seq, distance_km, sample_count, updated_at)
		VALUES ($1,$2,$3,$4,1,$2)
		ON CONFLICT (stream) DO UPDATE
		SET last_seq = GREATEST(walks.last_seq, EXCLUDED.last_seq),
		    distance_km = walks.distance_km + EXCLUDED.distance_km,
		    sample_count = walks.sample_count + 1,
		    updated_at = EXCLUDED.updated_at
	`, sample.Stream, at, sample.Seq, sample.Distance)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Walks(ctx context.Context, limit int) ([]Walk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT stream, started_at, last_seq, distance_km, sample_count, updated_at
		FROM walks
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	walks := []Walk{}
	for rows.Next() {
		var w Walk
		if err := rows.Scan(&w.Stream, &w.StartedAt, &w.LastSeq, &w.DistanceKm, &w.SampleCount, &w.UpdatedAt); err != nil {
			return nil, err
		}
		walks = append(walks, w)
	}
	return walks, rows.Err()
}

func (s *Service) Walk(ctx context.Context, stream string) (Walk, error) {
	w := Walk{Stream: stream}
	err := s.db.QueryRow(ctx, `
		SELECT started_at, last_seq, distance_km, sample_count, updated_at
		FROM walks WHERE stream=$1
	`, stream).Scan(&w.StartedAt, &w.LastSeq, &w.DistanceKm, &w.SampleCount, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Walk{}, ErrWalkNotFound
	}
	if err != nil {
		return Walk{}, err
	}
	return w, nil
}

func (s *Service) Summary(ctx context.Context, stream string) (Summary, error) {
	w, err := s.Walk(ctx, stream)
	if err != nil {
		return Summary{}, err
	}

	duration := w.UpdatedAt.Sub(w.StartedAt)
	avg := 0.0
	if duration > 0 {
		avg = w.DistanceKm / duration.Hours()
	}
	return Summary{
		Stream:          w.Stream,
		SampleCount:     w.SampleCount,
		DistanceKm:      w.DistanceKm,
		DurationSec:     int64(duration.Seconds()),
		AverageSpeedKmh: avg,
	}, nil
}

func (s *Service) Samples(ctx context.Context, stream string) ([]walk.Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, lat, lon, distance_km, recorded_at
		FROM walk_samples WHERE stream=$1
		ORDER BY seq
	`, stream)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []walk.Sample{}
	for rows.Next() {
		sample := walk.Sample{Stream: stream}
		var lat, lon float64
		if err := rows.Scan(&sample.Seq, &lat, &lon, &sample.Distance, &sample.Time); err != nil {
			return nil, err
		}
		sample.Coords = geo.Coordinate{Latitude: lat, Longitude: lon}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
