package recognizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStale is returned by Submit when a newer submission was applied first.
var ErrStale = errors.New("result superseded by a newer submission")

// Result is one applied recognition.
type Result struct {
	ID         uuid.UUID           `json:"id"`
	Generation uint64              `json:"generation"`
	Input      string              `json:"input"`
	Spans      []decode.EntitySpan `json:"spans"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Sink receives every applied result.
type Sink interface {
	Publish(ctx context.Context, res Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res Result) error

func (f SinkFunc) Publish(ctx context.Context, res Result) error { return f(ctx, res) }

// Session owns the single "latest result" slot. Every submission takes a ticket
// from a monotonic counter; a completion is applied only if its ticket is newer
// than the one already applied, so a slow, superseded call can never overwrite
// a newer result.
type Session struct {
	rec     *Recognizer
	log     zerolog.Logger
	tickets atomic.Uint64

	mu      sync.RWMutex
	pubMu   sync.Mutex // keeps sink delivery in apply order
	applied uint64
	latest  *Result
	sinks   []Sink
	now     func() time.Time
}

// NewSession wraps a recognizer. Sinks are notified in order after a result is applied.
func NewSession(rec *Recognizer, sinks ...Sink) *Session {
	return &Session{
		rec:   rec,
		log:   rec.log.With().Str("component", "session").Logger(),
		sinks: sinks,
		now:   time.Now,
	}
}

// AddSink registers another sink.
func (s *Session) AddSink(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Submit recognizes text and applies the result unless a newer submission has
// already been applied, in which case it returns ErrStale together with the
// discarded result.
func (s *Session) Submit(ctx context.Context, text string) (Result, error) {
	ticket := s.tickets.Add(1)
	spans, err := s.rec.Recognize(ctx, text)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		ID:         uuid.New(),
		Generation: ticket,
		Input:      text,
		Spans:      spans,
		CreatedAt:  s.now().UTC(),
	}
	return res, s.apply(ctx, res)
}

// SubmitTranscripts joins transcripts and submits them.
func (s *Session) SubmitTranscripts(ctx context.Context, transcripts []string) (Result, error) {
	return s.Submit(ctx, JoinTranscripts(transcripts))
}

// apply takes pubMu before mu so readers of Latest never wait on a slow sink.
func (s *Session) apply(ctx context.Context, res Result) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if res.Generation <= s.applied {
		applied := s.applied
		s.mu.Unlock()
		s.log.Debug().
			Uint64("generation", res.Generation).
			Uint64("applied", applied).
			Msg("dropping stale result")
		return ErrStale
	}
	s.applied = res.Generation
	latest := res
	s.latest = &latest
	sinks := make([]Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Publish(ctx, res); err != nil {
			s.log.Warn().Err(err).Str("result", res.ID.String()).Msg("sink publish failed")
		}
	}
	return nil
}

// Latest returns the most recently applied result.
func (s *Session) Latest() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Result{}, false
	}
	return *s.latest, true
}

// Generation returns the generation of the applied result (0 when none).
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// LogSink writes each applied result through zerolog.
type LogSink struct {
	Logger zerolog.Logger
}

func (l LogSink) Publish(_ context.Context, res Result) error {
	ev := l.Logger.Info().
		Str("result", res.ID.String()).
		Uint64("generation", res.Generation).
		Int("spans", len(res.Spans))
	arr := zerolog.Arr()
	for _, sp := range res.Spans {
		arr.Dict(zerolog.Dict().Str("text", sp.Text).Str("type", sp.Type).Float64("confidence", sp.Confidence))
	}
	ev.Array("entities", arr).Msg("entities recognized")
	return nil
}
