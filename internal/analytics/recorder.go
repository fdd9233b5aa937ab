package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Event string

const (
	EventSessionCreated   Event = "study_session_created"
	EventSessionStarted   Event = "study_session_started"
	EventItemCompleted    Event = "study_item_completed"
	EventSessionCompleted Event = "study_session_completed"
	EventSessionAbandoned Event = "study_session_abandoned"
)

// Sink delivers one analytics event somewhere.
type Sink interface {
	Log(ctx context.Context, event Event, payload map[string]any) error
}

const (
	DefaultQueueSize = 1024
	emitTimeout      = 2 * time.Second
)

type queuedEvent struct {
	ctx     context.Context
	event   Event
	payload map[string]any
}

// Recorder fans events out to its sinks. Record never fails: a sink error is
// downgraded to a warning. Until Start is called events are delivered on the
// caller's goroutine. After Start they go through a bounded queue drained in
// the background, and a full queue drops the event.
type Recorder struct {
	sinks []Sink

	mu      sync.RWMutex
	queue   chan queuedEvent
	stopped bool
	drained chan struct{}
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks}
}

// Start begins background delivery with room for queueSize pending events.
func (r *Recorder) Start(queueSize int) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r.mu.Lock()
	r.queue = make(chan queuedEvent, queueSize)
	r.drained = make(chan struct{})
	r.mu.Unlock()

	go r.run(r.queue, r.drained)
	log.Info().Int("queueSize", queueSize).Msg("analytics recorder started")
}

// Stop closes the queue and waits until the events already queued are
// delivered or ctx is done. Events recorded afterwards are dropped.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.queue == nil || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	drained := r.drained
	r.mu.Unlock()

	select {
	case <-drained:
		log.Info().Msg("analytics recorder stopped")
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("analytics recorder stopped before draining")
	}
}

func (r *Recorder) Record(ctx context.Context, event Event, payload map[string]any) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.queue == nil {
		r.deliver(ctx, event, payload)
		return
	}
	if r.stopped {
		log.Warn().Str("event", string(event)).Msg("analytics recorder stopped, event dropped")
		return
	}

	select {
	case r.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event, payload: payload}:
	default:
		log.Warn().Str("event", string(event)).Msg("analytics queue full, event dropped")
	}
}

func (r *Recorder) run(queue <-chan queuedEvent, drained chan<- struct{}) {
	defer close(drained)
	for q := range queue {
		ctx, cancel := context.WithTimeout(q.ctx, emitTimeout)
		r.deliver(ctx, q.event, q.payload)
		cancel()
	}
}

func (r *Recorder) deliver(ctx context.Context, event Event, payload map[string]any) {
	for _, sink := range r.sinks {
		r.emit(ctx, sink, event, payload)
	}
}

func (r *Recorder) emit(ctx context.Context, sink Sink, event Event, payload map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Str("event", string(event)).Msg("analytics emit panicked")
		}
	}()

	if err := sink.Log(ctx, event, payload); err != nil {
		log.Warn().
			Err(err).
			Str("event", string(event)).
			Interface("payload", payload).
			Msg("analytics emit failed")
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "analytics").Logger()}
}

func (s *LogSink) Log(ctx context.Context, event Event, payload map[string]any) error {
	e := s.logger.Info().Str("event", string(event))
	for k, v := range payload {
		e = addField(e, k, v)
	}
	e.Msg("analytics event")
	return nil
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
