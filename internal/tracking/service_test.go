package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRecordFoldsIntoWalk(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sample := walk.Sample{
		Coords:   geo.Coordinate{Latitude: 51.17, Longitude: 71.45},
		Distance: 0.04,
		Seq:      3,
		Stream:   "walk-1",
		Time:     at,
	}

	mock.ExpectExec(`INSERT INTO walk_samples`).
		WithArgs("walk-1", uint64(3), 51.17, 71.45, 0.04, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO walks`).
		WithArgs("walk-1", at, uint64(3), 0.04).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	stored, err := svc.Record(context.Background(), sample)
	if err != nil || !stored {
		t.Fatalf("record: stored=%v err=%v", stored, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordSkipsDuplicate(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectExec(`INSERT INTO walk_samples`).
		WithArgs("walk-1", uint64(3), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	stored, err := svc.Record(context.Background(), walk.Sample{Seq: 3, Stream: "walk-1"})
	if err != nil || stored {
		t.Fatalf("expected duplicate to be skipped: stored=%v err=%v", stored, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordError(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectExec(`INSERT INTO walk_samples`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("db down"))

	if _, err := svc.Record(context.Background(), walk.Sample{Seq: 1, Stream: "walk-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWalksAndSummary(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	mock.ExpectQuery(`SELECT stream, started_at, last_seq, distance_km, sample_count, updated_at`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"stream", "started_at", "last_seq", "distance_km", "sample_count", "updated_at"}).
			AddRow("walk-1", start, uint64(180), 2.5, 180, end))

	walks, err := svc.Walks(context.Background(), 0)
	if err != nil || len(walks) != 1 || walks[0].Stream != "walk-1" {
		t.Fatalf("walks: %v %+v", err, walks)
	}

	mock.ExpectQuery(`SELECT started_at, last_seq, distance_km, sample_count, updated_at`).
		WithArgs("walk-1").
		WillReturnRows(pgxmock.NewRows([]string{"started_at", "last_seq", "distance_km", "sample_count", "updated_at"}).
			AddRow(start, uint64(180), 2.5, 180, end))

	summary, err := svc.Summary(context.Background(), "walk-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.SampleCount != 180 || summary.DurationSec != 1800 || summary.AverageSpeedKmh != 5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSummaryNotFound(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT started_at, last_seq`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := svc.Summary(context.Background(), "missing"); !errors.Is(err, ErrWalkNotFound) {
		t.Fatalf("expected ErrWalkNotFound, got %v", err)
	}
}

func TestSamplesInOrder(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	at := time.Now()
	mock.ExpectQuery(`SELECT seq, lat, lon, distance_km, recorded_at`).
		WithArgs("walk-1").
		WillReturnRows(pgxmock.NewRows([]string{"seq", "lat", "lon", "distance_km", "recorded_at"}).
			AddRow(uint64(1), 51.0, 71.0, 0.0, at).
			AddRow(uint64(2), 51.001, 71.0, 0.11, at.Add(time.Second)))

	samples, err := svc.Samples(context.Background(), "walk-1")
	if err != nil || len(samples) != 2 {
		t.Fatalf("samples: %v %d", err, len(samples))
	}
	if samples[1].Seq != 2 || samples[1].Stream != "walk-1" || samples[1].Coords.Latitude != 51.001 {
		t.Fatalf("unexpected sample %+v", samples[1])
	}
}
