package pipeline

import (
	"context"

	"github.com/ritivel/regsearch/internal/domain"
)

// Embedder vectorizes sub-query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Retriever runs one hybrid search. Failures degrade to an empty result
// inside the retriever, never an error.
type Retriever interface {
	Search(ctx context.Context, queryText string, vector []float32, sizeHint int) []domain.SourceHit
}

// Decomposer splits a question into sub-queries, falling back to a
// single-entry list on failure.
type Decomposer interface {
	Decompose(ctx context.Context, query string) []domain.SubQuery
}

// AnswerStreamer drives the model and forwards incremental text chunks.
type AnswerStreamer interface {
	StreamAnswer(ctx context.Context, messages []domain.ChatMessage, onChunk func(text string) error) (string, error)
}

// EventSink receives the ordered event sequence of one run. Emit must be
// safe for concurrent use; an error means the caller is gone and the run
// should stop.
type EventSink interface {
	Emit(event domain.Event) error
}
