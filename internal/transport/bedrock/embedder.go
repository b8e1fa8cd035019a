package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/metrics"
)

const embeddingProvider = "bedrock"

// Embedder embeds text with a Titan embedding model over signed invoke.
type Embedder struct {
	client     *Client
	modelID    string
	dimensions int
}

// NewEmbedder creates a Bedrock embedding provider. dimensions is passed
// to models that support configurable output size; zero keeps the model
// default.
func NewEmbedder(client *Client, modelID string, dimensions int) *Embedder {
	return &Embedder{client: client, modelID: modelID, dimensions: dimensions}
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: e.dimensions})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("marshal embed request: %w", err)
	}

	start := time.Now()

	resp, err := e.client.invoke(ctx, e.modelID, actionInvoke, body)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(embeddingProvider, e.modelID, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(embeddingProvider, e.modelID, "api_error").Inc()
		return domain.EmbeddingResult{}, wrapEmbedErr(err)
	}
	defer resp.Body.Close()

	var parsed titanEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(embeddingProvider, e.modelID, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(embeddingProvider, e.modelID, "decode_error").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("decode embed response: %w", domain.ErrEmbeddingUnavailable)
	}

	if len(parsed.Embedding) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(embeddingProvider, e.modelID, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(embeddingProvider, e.modelID, "empty_response").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingUnavailable)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(embeddingProvider, e.modelID, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(embeddingProvider, e.modelID).Observe(time.Since(start).Seconds())

	return domain.EmbeddingResult{
		Embedding:    parsed.Embedding,
		PromptTokens: parsed.InputTextTokenCount,
		TotalTokens:  parsed.InputTextTokenCount,
	}, nil
}

// wrapEmbedErr re-tags transport errors as embedding failures so callers
// can match domain.ErrEmbeddingUnavailable uniformly across providers.
func wrapEmbedErr(err error) error {
	if errors.Is(err, domain.ErrModelUnavailable) {
		return fmt.Errorf("embed: %v: %w", err, domain.ErrEmbeddingUnavailable)
	}
	return err
}
