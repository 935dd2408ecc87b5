// Package geofeed consumes the geo sample stream published by the api.
//
// A Consumer keeps one long-lived text/event-stream connection open, applies
// every sample once and reconnects with exponential backoff when the
// connection drops.
package geofeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/metrics"
	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

var (
	ErrTransport        = errors.New("geo stream transport failure")
	ErrMalformedPayload = errors.New("malformed geo sample")
)

// StreamPath is the api route serving the geo stream.
const StreamPath = "/stream-distance"

const maxEventSize = 64 * 1024

// GeoInfo is the latest position reported by the stream.
type GeoInfo struct {
	Coords     geo.Coordinate `json:"coords"`
	DistanceKm float64        `json:"distance"`
	Seq        uint64         `json:"seq"`
	Stream     string         `json:"stream"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Sink receives every applied sample in stream order.
type Sink func(walk.Sample)

type Consumer struct {
	url        string
	client     *http.Client
	log        zerolog.Logger
	sink       Sink
	newBackOff func() backoff.BackOff

	mu          sync.RWMutex
	info        GeoInfo
	accumulated float64
	stream      string
	lastSeq     uint64
	applied     uint64
}

type Option func(*Consumer)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Consumer) { c.client = client }
}

// WithBackOff replaces the reconnect policy. The factory is called once per
// Run.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Consumer) { c.newBackOff = factory }
}

// WithMaxInterval caps the delay between reconnect attempts.
func WithMaxInterval(d time.Duration) Option {
	return func(c *Consumer) {
		c.newBackOff = func() backoff.BackOff { return defaultBackOff(d) }
	}
}

func defaultBackOff(maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0
	return b
}

// New builds a consumer for the stream at baseURL. sink may be nil.
func New(baseURL string, sink Sink, log zerolog.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		url:        strings.TrimRight(baseURL, "/") + StreamPath,
		client:     &http.Client{},
		log:        log.With().Str("component", "geofeed").Logger(),
		sink:       sink,
		newBackOff: func() backoff.BackOff { return defaultBackOff(30 * time.Second) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads the stream until ctx is cancelled. Transport failures are
// retried; Run only returns an error when the backoff policy gives up.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.WithContext(c.newBackOff(), ctx)
	for {
		before := c.Applied()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if c.Applied() > before {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w: giving up: %v", ErrTransport, err)
		}
		metrics.FeedReconnects.Inc()
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("geo stream disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}
	c.log.Info().Str("url", c.url).Msg("geo stream connected")

	if err := c.read(resp.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: stream closed by server", ErrTransport)
}

// read parses server-sent events until the body ends.
func (c *Consumer) read(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				c.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (c *Consumer) dispatch(payload string) {
	sample, err := decodeSample(payload)
	if err != nil {
		metrics.FeedSamplesDropped.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Msg("dropping geo sample")
		return
	}
	if !c.apply(sample) {
		metrics.FeedSamplesDropped.WithLabelValues("duplicate").Inc()
		c.log.Debug().Uint64("seq", sample.Seq).Str("stream", sample.Stream).Msg("duplicate geo sample")
		return
	}
	if c.sink != nil {
		c.sink(sample)
	}
}

func decodeSample(payload string) (walk.Sample, error) {
	var s walk.Sample
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return walk.Sample{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !s.Coords.Valid() {
		return walk.Sample{}, fmt.Errorf("%w: coordinate %s out of range", ErrMalformedPayload, s.Coords)
	}
	if s.Distance < 0 || math.IsNaN(s.Distance) || math.IsInf(s.Distance, 0) {
		return walk.Sample{}, fmt.Errorf("%w: distance %v", ErrMalformedPayload, s.Distance)
	}
	return s, nil
}

// apply records the sample unless it was already seen on the current stream.
// Samples without a sequence number cannot be deduplicated and are always
// applied.
func (c *Consumer) apply(s walk.Sample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Seq != 0 {
		if s.Stream == c.stream && s.Seq <= c.lastSeq {
			return false
		}
		c.stream = s.Stream
		c.lastSeq = s.Seq
	}

	c.info = GeoInfo{
		Coords:     s.Coords,
		DistanceKm: s.Distance,
		Seq:        s.Seq,
		Stream:     s.Stream,
		ReceivedAt: time.Now(),
	}
	c.accumulated += s.Distance
	c.applied++
	return true
}

func (c *Consumer) Info() GeoInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// AccumulatedKm is the total distance applied since the consumer was created.
func (c *Consumer) AccumulatedKm() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accumulated
}

// Applied is the number of samples applied so far.
func (c *Consumer) Applied() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.applied
}
