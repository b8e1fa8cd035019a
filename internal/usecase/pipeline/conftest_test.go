package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockEmbedder struct {
	err error
	// failFor returns an error for specific sub-query texts.
	failFor map[string]bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if m.failFor[text] {
		return domain.EmbeddingResult{}, errors.New("embedding failed")
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type mockRetriever struct {
	// hitsFor maps sub-query text to results.
	hitsFor map[string][]domain.SourceHit
}

func (m *mockRetriever) Search(_ context.Context, queryText string, _ []float32, _ int) []domain.SourceHit {
	return m.hitsFor[queryText]
}

type mockDecomposer struct {
	subQueries []domain.SubQuery
}

func (m *mockDecomposer) Decompose(_ context.Context, query string) []domain.SubQuery {
	if m.subQueries != nil {
		return m.subQueries
	}
	return []domain.SubQuery{{ID: "sq-1", Query: query, Intent: "main query", Status: domain.SubQueryPending}}
}

type mockStreamer struct {
	chunks []string
	err    error
}

func (m *mockStreamer) StreamAnswer(_ context.Context, _ []domain.ChatMessage, onChunk func(string) error) (string, error) {
	var full string
	for _, c := range m.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return full, err
			}
		}
		full += c
	}
	return full, m.err
}

// recordingSink collects the emitted event sequence. failAfter > 0 makes
// Emit fail once that many events were accepted, simulating a caller that
// went away.
type recordingSink struct {
	mu        sync.Mutex
	events    []domain.Event
	failAfter int
}

func (s *recordingSink) Emit(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errors.New("sink closed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func (s *recordingSink) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range s.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type serviceOpts struct {
	embedder   Embedder
	retriever  Retriever
	decomposer Decomposer
	streamer   AnswerStreamer
}

func newTestService(t *testing.T, opts serviceOpts) *Service {
	t.Helper()
	if opts.embedder == nil {
		opts.embedder = &mockEmbedder{}
	}
	if opts.retriever == nil {
		opts.retriever = &mockRetriever{}
	}
	if opts.decomposer == nil {
		opts.decomposer = &mockDecomposer{}
	}
	if opts.streamer == nil {
		opts.streamer = &mockStreamer{chunks: []string{"answer"}}
	}
	return New(opts.embedder, opts.retriever, opts.decomposer, opts.streamer, Config{
		SizeHint:       10,
		MaxSources:     8,
		ContextSources: 5,
	}, zap.NewNop())
}

func hit(id string, score float64) domain.SourceHit {
	return domain.SourceHit{ID: id, Title: "doc " + id, Snippet: "snippet", RelevanceScore: score}
}

// assertSingleTerminal checks the run invariant: the sequence is
// non-empty, ends in exactly one of error/done, and nothing follows it.
func assertSingleTerminal(t *testing.T, events []domain.Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected a non-empty event sequence")
	}
	terminals := 0
	for i, e := range events {
		if e.IsTerminal() {
			terminals++
			if i != len(events)-1 {
				t.Fatalf("terminal event at position %d of %d", i, len(events))
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly 1 terminal event, got %d", terminals)
	}
}
