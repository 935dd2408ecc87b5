package tracking

import "time"

type Walk struct {
	Stream      string    `json:"stream"`
	StartedAt   time.Time `json:"started_at"`
	LastSeq     uint64    `json:"last_seq"`
	DistanceKm  float64   `json:"distance_km"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Summary struct {
	Stream          string  `json:"stream"`
	SampleCount     int     `json:"sample_count"`
	DistanceKm      float64 `json:"distance_km"`
	DurationSec     int64   `json:"duration_sec"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
}
