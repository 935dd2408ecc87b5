// Package walk simulates a pedestrian as a random walk and accumulates the
// distance it covers.
//
// A Walker is not safe for concurrent use. The stream publisher owns the only
// instance and is the only code that advances it.
package walk

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
)

// KmPerDegree is the length of one degree of latitude used by the flat-earth
// step conversion.
const KmPerDegree = 111.32

var ErrInvalidStep = errors.New("max step must be positive")

// State is the position of the walker and the distance it has covered.
type State struct {
	Current              geo.Coordinate `json:"current"`
	Previous             geo.Coordinate `json:"previous"`
	CumulativeDistanceKm float64        `json:"cumulative_distance_km"`
}

// Sample is one tick of the geo stream. Seq, Stream and Time are stamped by
// the publisher; Stream changes whenever a new walk starts.
type Sample struct {
	Coords   geo.Coordinate `json:"coords"`
	Distance float64        `json:"distance"`
	Seq      uint64         `json:"seq,omitempty"`
	Stream   string         `json:"stream,omitempty"`
	Time     time.Time      `json:"time,omitempty"`
}

type Walker struct {
	state State
	rnd   *rand.Rand
}

type Option func(*Walker)

// WithRand fixes the random source, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(w *Walker) { w.rnd = r }
}

func New(origin geo.Coordinate, opts ...Option) *Walker {
	w := &Walker{
		state: State{Current: origin, Previous: origin},
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Advance moves the walker by a random bearing and a step drawn from
// (0, maxStepKm].
func (w *Walker) Advance(maxStepKm float64) (geo.Coordinate, error) {
	if !(maxStepKm > 0) || math.IsInf(maxStepKm, 1) {
		return w.state.Current, ErrInvalidStep
	}

	bearing := w.rnd.Float64() * 2 * math.Pi
	step := maxStepKm * (1 - w.rnd.Float64())

	cur := w.state.Current
	cosLat := math.Cos(cur.Latitude * math.Pi / 180)
	if cosLat < 1e-9 {
		cosLat = 1e-9
	}

	dLat := step * math.Cos(bearing) / KmPerDegree
	dLon := step * math.Sin(bearing) / (KmPerDegree * cosLat)
	next := offset(cur, dLat, dLon)

	// Close to a pole the flat offset overshoots the great-circle distance.
	for i := 0; i < 8; i++ {
		d := geo.DistanceBetween(cur, next)
		if d <= step {
			break
		}
		dLat, dLon = dLat*step/d, dLon*step/d
		next = offset(cur, dLat, dLon)
	}
	if geo.DistanceBetween(cur, next) > step {
		next = offset(cur, step*math.Cos(bearing)/KmPerDegree, 0)
	}

	w.state.Previous = cur
	w.state.Current = next
	return w.state.Current, nil
}

func offset(c geo.Coordinate, dLat, dLon float64) geo.Coordinate {
	return normalize(geo.Coordinate{Latitude: c.Latitude + dLat, Longitude: c.Longitude + dLon})
}

// Accumulate adds the sample's incremental distance to the running total.
// Negative or non-finite increments are ignored so the total never decreases.
func (w *Walker) Accumulate(s Sample) State {
	if s.Distance > 0 && !math.IsInf(s.Distance, 1) {
		w.state.CumulativeDistanceKm += s.Distance
	}
	return w.state
}

// Step advances, measures the move and accumulates it, returning the sample
// to publish.
func (w *Walker) Step(maxStepKm float64) (Sample, error) {
	if _, err := w.Advance(maxStepKm); err != nil {
		return Sample{}, err
	}
	s := Sample{
		Coords:   w.state.Current,
		Distance: geo.DistanceBetween(w.state.Previous, w.state.Current),
	}
	w.Accumulate(s)
	return s, nil
}

func (w *Walker) State() State {
	return w.state
}

func normalize(c geo.Coordinate) geo.Coordinate {
	if c.Latitude > 90 {
		c.Latitude = 180 - c.Latitude
		c.Longitude += 180
	} else if c.Latitude < -90 {
		c.Latitude = -180 - c.Latitude
		c.Longitude += 180
	}
	if c.Longitude > 180 || c.Longitude < -180 {
		c.Longitude = math.Mod(c.Longitude+180, 360)
		if c.Longitude < 0 {
			c.Longitude += 360
		}
		c.Longitude -= 180
	}
	return c
}
