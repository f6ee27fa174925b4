package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"chatdesk/gateway/internal/domain"
)

var ErrStreamingUnsupported = errors.New("streaming_unsupported")

// Sink receives events in emission order.
type Sink interface {
	Send(evt domain.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt domain.StreamEvent) error

func (f SinkFunc) Send(evt domain.StreamEvent) error {
	return f(evt)
}

// SSEWriter frames each event as "data: <json>\n\n" and flushes it immediately.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers. No status is written until the first Send.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Send(evt domain.StreamEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Tee forwards every event to each sink in turn and stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(evt domain.StreamEvent) error {
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Send(evt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (r *Recorder) Send(evt domain.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamEvent(nil), r.events...)
}

// Types lists event types in order, keeping only the given types when any are named.
func (r *Recorder) Types(only ...string) []string {
	keep := map[string]bool{}
	for _, t := range only {
		keep[t] = true
	}
	out := []string{}
	for _, evt := range r.Events() {
		if len(keep) > 0 && !keep[evt.Type] {
			continue
		}
		out = append(out, evt.Type)
	}
	return out
}
