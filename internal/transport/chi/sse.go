package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ritivel/regsearch/internal/domain"
)

var errStreamTerminated = errors.New("event stream already terminated")

// sseSink writes pipeline events to the response as `data: <json>\n\n`
// messages. Writes are serialized: retrieval work is concurrent but the
// outbound stream is one ordered sequence. After a terminal event the
// sink refuses further writes.
type sseSink struct {
	mu         sync.Mutex
	ctx        context.Context
	w          http.ResponseWriter
	flusher    http.Flusher
	terminated bool
}

func newSSESink(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{ctx: ctx, w: w, flusher: flusher}
}

// Emit implements pipeline.EventSink.
func (s *sseSink) Emit(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return errStreamTerminated
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("caller disconnected: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()

	if event.IsTerminal() {
		s.terminated = true
	}
	return nil
}
