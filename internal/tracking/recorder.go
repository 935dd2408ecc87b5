package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/metrics"
	"github.com/Az1mzhan/bt-ass-3/internal/stream"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/rs/zerolog"
)

const recordTimeout = 5 * time.Second

type Archive interface {
	Record(ctx context.Context, sample walk.Sample) (bool, error)
}

// Recorder never makes Broadcast wait on the database. Overflow is dropped.
type Recorder struct {
	next    stream.Broadcaster
	archive Archive
	log     zerolog.Logger
	queue   chan walk.Sample
	done    chan struct{}
	once    sync.Once
}

func NewRecorder(next stream.Broadcaster, archive Archive, log zerolog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		next:    next,
		archive: archive,
		log:     log.With().Str("component", "recorder").Logger(),
		queue:   make(chan walk.Sample, queueSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Broadcast(sample walk.Sample) {
	r.next.Broadcast(sample)

	select {
	case r.queue <- sample:
	default:
		metrics.SamplesArchived.WithLabelValues("dropped").Inc()
		r.log.Warn().Str("stream", sample.Stream).Uint64("seq", sample.Seq).Msg("archive queue full, sample not recorded")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for sample := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		stored, err := r.archive.Record(ctx, sample)
		cancel()

		switch {
		case err != nil:
			metrics.SamplesArchived.WithLabelValues("error").Inc()
			r.log.Error().Err(err).Str("stream", sample.Stream).Uint64("seq", sample.Seq).Msg("archive sample")
		case !stored:
			metrics.SamplesArchived.WithLabelValues("duplicate").Inc()
		default:
			metrics.SamplesArchived.WithLabelValues("ok").Inc()
		}
	}
}

func (r *Recorder) Close() {
	r.once.Do(func() { close(r.queue) })
	<-r.done
}
