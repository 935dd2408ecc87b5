package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/metrics"
	"github.com/Az1mzhan/bt-ass-3/internal/shared/geo"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrInvalidOrigin  = errors.New("origin out of range")
)

type Broadcaster interface {
	Broadcast(sample walk.Sample)
}

type PublisherConfig struct {
	Interval    time.Duration
	MaxStepKm   float64
	Origin      geo.Coordinate
	HistorySize int
}

type Publisher struct {
	out Broadcaster
	cfg PublisherConfig
	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	walker  *walk.Walker
	stream  string
	seq     uint64
	history []walk.Sample
	next    int
	full    bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublisher(out Broadcaster, cfg PublisherConfig, log zerolog.Logger, opts ...walk.Option) *Publisher {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	return &Publisher{
		out:     out,
		cfg:     cfg,
		log:     log.With().Str("component", "publisher").Logger(),
		now:     time.Now,
		walker:  walk.New(cfg.Origin, opts...),
		stream:  uuid.NewString(),
		history: make([]walk.Sample, cfg.HistorySize),
	}
}

// Start ticks regardless of how many subscribers are connected.
func (p *Publisher) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
	p.log.Info().Dur("interval", p.cfg.Interval).Float64("max_step_km", p.cfg.MaxStepKm).Msg("publisher started")
	return nil
}

func (p *Publisher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(); err != nil {
				p.log.Error().Err(err).Msg("walk step failed")
			}
		}
	}
}

func (p *Publisher) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.log.Info().Msg("publisher stopped")
}

func (p *Publisher) Tick() (walk.Sample, error) {
	p.mu.Lock()
	sample, err := p.walker.Step(p.cfg.MaxStepKm)
	if err != nil {
		p.mu.Unlock()
		return walk.Sample{}, err
	}
	p.seq++
	sample.Seq = p.seq
	sample.Stream = p.stream
	sample.Time = p.now().UTC()
	p.remember(sample)
	total := p.walker.State().CumulativeDistanceKm
	p.mu.Unlock()

	metrics.SamplesPublished.Inc()
	metrics.WalkDistanceKm.Set(total)
	p.out.Broadcast(sample)
	return sample, nil
}

func (p *Publisher) remember(s walk.Sample) {
	p.history[p.next] = s
	p.next = (p.next + 1) % len(p.history)
	if p.next == 0 {
		p.full = true
	}
}

func (p *Publisher) History() []walk.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.full {
		return append([]walk.Sample(nil), p.history[:p.next]...)
	}
	out := make([]walk.Sample, 0, len(p.history))
	out = append(out, p.history[p.next:]...)
	return append(out, p.history[:p.next]...)
}

func (p *Publisher) State() walk.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.walker.State()
}

// Reset starts a new walk at origin. Sequence numbers continue; the stream id
// changes so consumers can tell the walks apart.
func (p *Publisher) Reset(origin geo.Coordinate, opts ...walk.Option) (string, error) {
	if !origin.Valid() {
		return "", ErrInvalidOrigin
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.walker = walk.New(origin, opts...)
	p.stream = uuid.NewString()
	p.history = make([]walk.Sample, len(p.history))
	p.next, p.full = 0, false
	metrics.WalkDistanceKm.Set(0)

	p.log.Info().Str("stream", p.stream).Stringer("origin", origin).Msg("walk reset")
	return p.stream, nil
}
