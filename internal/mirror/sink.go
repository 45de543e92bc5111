// Package mirror fans persisted rows and tick events out to a secondary
// bus. Delivery is best effort: a full queue drops the event and a failed
// write is logged, and neither ever reaches the caller. The mirror is
// eventually consistent and never authoritative; Postgres is.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

const (
	// DefaultStream is the durable stream every mirrored row is appended to.
	DefaultStream = "arena:mirror"
	// DefaultBuffer is the number of events queued before new ones drop.
	DefaultBuffer = 1024
	// ChannelPrefix prefixes the live pub/sub channel of each event kind.
	ChannelPrefix = "arena:"
)

// Event kinds.
const (
	KindOrder  = "order"
	KindFill   = "fill"
	KindEquity = "equity"
	KindMarket = "market"
	KindTick   = "tick"
)

// Envelope is the JSON shape written to the stream and pub/sub channels.
type Envelope struct {
	Kind string          `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type event struct {
	channel string
	stream  bool
	payload []byte
}

// Config tunes a Sink.
type Config struct {
	Stream string
	Buffer int
	// WriteTimeout bounds each bus write. Defaults to 2s.
	WriteTimeout time.Duration
}

// Sink queues events and writes them to a SignalBus from a single worker.
type Sink struct {
	bus     domain.SignalBus
	cfg     Config
	queue   chan event
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSink creates a Sink. Call Run to start delivering.
func NewSink(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Sink {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Sink{
		bus:    bus,
		cfg:    cfg,
		queue:  make(chan event, cfg.Buffer),
		logger: logger.With(slog.String("component", "mirror")),
		now:    time.Now,
	}
}

// Run delivers queued events until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		}
	}
}

func (s *Sink) deliver(ctx context.Context, ev event) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	var err error
	if ev.stream {
		err = s.bus.StreamAppend(wctx, s.cfg.Stream, ev.payload)
	}
	if err == nil && ev.channel != "" {
		err = s.bus.Publish(wctx, ev.channel, ev.payload)
	}
	if err != nil {
		s.failed.Add(1)
		s.logger.DebugContext(ctx, "mirror: write failed",
			slog.String("channel", ev.channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Sink) enqueue(ev event) {
	select {
	case s.queue <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("mirror: queue full, dropping events", slog.Int64("dropped", n))
		}
	}
}

// Emit mirrors v under kind to the stream and to the "arena:<kind>" channel.
func (s *Sink) Emit(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("mirror: encode failed", slog.String("kind", kind), slog.String("error", err.Error()))
		return
	}
	payload, err := json.Marshal(Envelope{Kind: kind, At: s.now().UTC(), Data: data})
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.enqueue(event{channel: ChannelPrefix + kind, stream: true, payload: payload})
}

// Publish queues a live-only message. It never blocks and never fails, which
// lets the orchestrator use the sink as its event publisher.
func (s *Sink) Publish(_ context.Context, channel string, payload []byte) error {
	s.enqueue(event{channel: channel, payload: payload})
	return nil
}

// Dropped is the number of events discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed is the number of events the bus rejected.
func (s *Sink) Failed() int64 { return s.failed.Load() }
