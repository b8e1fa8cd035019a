// Package pipeline implements the search-and-synthesis orchestrator: a
// fixed state machine that decomposes a question, retrieves sources for
// each sub-query concurrently, merges and ranks the hits, and streams a
// cited answer as an ordered event sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/metrics"
)

// searchConcurrency bounds parallel sub-query retrieval to avoid
// overwhelming the embedding and index backends.
const searchConcurrency = 4

const (
	emptyQueryMessage  = "Query is required"
	noDocumentsMessage = "No relevant documents were found for your question. Try rephrasing it or broadening the scope."
	synthesisFailedMsg = "Failed to generate an answer from the retrieved sources"
)

const answerSystemPrompt = `You are a regulatory research assistant. Answer the user's question using only the numbered sources provided. Cite sources inline with their numbers, like [1] or [2][3]. If the sources do not contain the answer, say so plainly instead of guessing.`

// errSinkClosed aborts in-flight work once the caller stops consuming.
var errSinkClosed = errors.New("event sink closed")

// Config holds the orchestrator tuning knobs.
type Config struct {
	// SizeHint is passed to the retriever per sub-query.
	SizeHint int
	// MaxSources caps the merged, ranked source list.
	MaxSources int
	// ContextSources is how many top sources feed the citation context.
	ContextSources int
}

// Service runs one pipeline per request. It holds no mutable state across
// runs.
type Service struct {
	embedder   Embedder
	retriever  Retriever
	decomposer Decomposer
	streamer   AnswerStreamer
	cfg        Config
	logger     *zap.Logger
}

// New creates the orchestrator.
func New(
	embedder Embedder,
	retriever Retriever,
	decomposer Decomposer,
	streamer AnswerStreamer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		embedder:   embedder,
		retriever:  retriever,
		decomposer: decomposer,
		streamer:   streamer,
		cfg:        cfg,
		logger:     logger,
	}
}

// run carries the per-request state: the sink and the eventual outcome.
type run struct {
	svc     *Service
	sink    EventSink
	outcome string
}

// Run executes the state machine for one request, writing the ordered
// event sequence to sink. Exactly one terminal event (error or done) is
// emitted unless the caller disconnects, in which case the run stops
// silently. Run never returns an error to the transport: every failure is
// reported through the stream.
func (s *Service) Run(ctx context.Context, req domain.SearchRequest, sink EventSink) {
	r := &run{svc: s, sink: sink, outcome: "cancelled"}
	defer func() {
		metrics.PipelineRunsTotal.WithLabelValues(r.outcome).Inc()
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		r.terminate(domain.ErrorEvent(emptyQueryMessage))
		return
	}

	if !r.analyze(ctx) {
		return
	}

	subQueries, ok := r.decompose(ctx, query, req.SourcesOnly)
	if !ok {
		return
	}

	sources, ok := r.search(ctx, subQueries, req.SourcesOnly)
	if !ok {
		return
	}

	if req.SourcesOnly {
		r.terminate(domain.DoneEvent())
		return
	}

	r.synthesize(ctx, query, sources)
}

// analyze brackets the run start so the caller gets immediate feedback.
func (r *run) analyze(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return r.emit(domain.StepEvent(domain.StepAnalyze, domain.StepActive)) &&
		r.emit(domain.StepEvent(domain.StepAnalyze, domain.StepComplete))
}

// decompose produces the sub-query list. sourcesOnly skips the model call
// and the subQueries event, substituting one synthetic sub-query.
func (r *run) decompose(ctx context.Context, query string, sourcesOnly bool) ([]domain.SubQuery, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	if !r.emit(domain.StepEvent(domain.StepDecompose, domain.StepActive)) {
		return nil, false
	}

	var subQueries []domain.SubQuery
	if sourcesOnly {
		subQueries = []domain.SubQuery{{
			ID:     uuid.NewString(),
			Query:  query,
			Intent: "main query",
			Status: domain.SubQueryPending,
		}}
	} else {
		start := time.Now()
		subQueries = r.svc.decomposer.Decompose(ctx, query)
		metrics.PipelineStageDuration.WithLabelValues(domain.StepDecompose).Observe(time.Since(start).Seconds())

		if !r.emit(domain.SubQueriesEvent(subQueries)) {
			return nil, false
		}
	}

	if !r.emit(domain.StepEvent(domain.StepDecompose, domain.StepComplete)) {
		return nil, false
	}
	return subQueries, true
}

// search retrieves hits for every sub-query with bounded concurrency,
// merges them by ID keeping the higher score, and emits the ranked top of
// the merged set as one sources event.
func (r *run) search(ctx context.Context, subQueries []domain.SubQuery, sourcesOnly bool) ([]domain.SourceHit, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	if !r.emit(domain.StepEvent(domain.StepSearch, domain.StepActive)) {
		return nil, false
	}

	start := time.Now()

	hitLists := make([][]domain.SourceHit, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, sq := range subQueries {
		g.Go(func() error {
			if !sourcesOnly {
				if !r.emit(domain.SubQueryStatusEvent(sq.ID, domain.SubQuerySearching, nil)) {
					return errSinkClosed
				}
			}

			hits := r.searchOne(gctx, sq)
			hitLists[i] = hits

			if !sourcesOnly {
				count := len(hits)
				if !r.emit(domain.SubQueryStatusEvent(sq.ID, domain.SubQueryComplete, &count)) {
					return errSinkClosed
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		return nil, false
	}

	metrics.PipelineStageDuration.WithLabelValues(domain.StepSearch).Observe(time.Since(start).Seconds())

	merged := mergeHits(hitLists, r.svc.cfg.MaxSources)
	metrics.PipelineSourcesReturned.Observe(float64(len(merged)))

	if !r.emit(domain.SourcesEvent(merged)) {
		return nil, false
	}

	// A sources-only run terminates right after the sources event, so the
	// closing step bracket is skipped.
	if !sourcesOnly {
		if !r.emit(domain.StepEvent(domain.StepSearch, domain.StepComplete)) {
			return nil, false
		}
	}
	return merged, true
}

// searchOne embeds one sub-query and retrieves its hits. Embedding and
// retrieval failures degrade to zero results for this sub-query only.
func (r *run) searchOne(ctx context.Context, sq domain.SubQuery) []domain.SourceHit {
	result, err := r.svc.embedder.Embed(ctx, sq.Query)
	if err != nil {
		r.svc.logger.Warn("Sub-query embedding failed",
			zap.String("sub_query_id", sq.ID),
			zap.Error(err))
		return nil
	}
	return r.svc.retriever.Search(ctx, sq.Query, result.Embedding, r.svc.cfg.SizeHint)
}

// synthesize streams the cited answer, or a fixed notice when retrieval
// found nothing.
func (r *run) synthesize(ctx context.Context, query string, sources []domain.SourceHit) {
	if ctx.Err() != nil {
		return
	}
	if !r.emit(domain.StepEvent(domain.StepSynthesize, domain.StepActive)) {
		return
	}

	if len(sources) == 0 {
		if !r.emit(domain.AnswerChunkEvent(noDocumentsMessage)) {
			return
		}
		if !r.emit(domain.StepEvent(domain.StepSynthesize, domain.StepComplete)) {
			return
		}
		r.terminate(domain.DoneEvent())
		return
	}

	start := time.Now()

	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: answerSystemPrompt},
		{Role: domain.RoleUser, Content: r.buildUserMessage(query, sources)},
	}

	_, err := r.svc.streamer.StreamAnswer(ctx, messages, func(text string) error {
		if !r.emit(domain.AnswerChunkEvent(text)) {
			return errSinkClosed
		}
		return nil
	})

	metrics.PipelineStageDuration.WithLabelValues(domain.StepSynthesize).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errSinkClosed) {
			return
		}
		r.svc.logger.Error("Answer synthesis failed", zap.Error(err))
		r.terminate(domain.ErrorEvent(synthesisFailedMsg))
		return
	}

	if !r.emit(domain.StepEvent(domain.StepSynthesize, domain.StepComplete)) {
		return
	}
	r.terminate(domain.DoneEvent())
}

// buildUserMessage renders the numbered citation context from the top
// sources followed by the question.
func (r *run) buildUserMessage(query string, sources []domain.SourceHit) string {
	top := sources
	if len(top) > r.svc.cfg.ContextSources {
		top = top[:r.svc.cfg.ContextSources]
	}

	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for i, src := range top {
		fmt.Fprintf(&b, "[%d] %s", i+1, src.Title)
		if src.Code != "" {
			fmt.Fprintf(&b, " (%s)", src.Code)
		}
		if src.HeaderPath != "" {
			fmt.Fprintf(&b, ", %s", src.HeaderPath)
		}
		b.WriteString("\n")
		if src.FullText != "" {
			b.WriteString(src.FullText)
		} else {
			b.WriteString(src.Snippet)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// emit writes one event, reporting whether the run may continue. A sink
// error means the caller is gone.
func (r *run) emit(event domain.Event) bool {
	if err := r.sink.Emit(event); err != nil {
		r.svc.logger.Debug("Event sink closed, stopping run", zap.Error(err))
		return false
	}
	return true
}

// terminate emits the single terminal event and records the run outcome.
func (r *run) terminate(event domain.Event) {
	if r.emit(event) {
		r.outcome = string(event.Type)
	}
}
