// Package opensearch implements the hybrid retrieval client: one signed
// _search request combining a nearest-neighbor vector clause with a
// keyword clause, normalized into domain source hits.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/config"
	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/transport/sigv4"
)

const (
	snippetMaxLen = 200
	defaultTitle  = "Untitled document"
)

// Client issues hybrid search requests against one index.
type Client struct {
	httpClient  *http.Client
	signer      *sigv4.Signer
	endpoint    string
	index       string
	service     string
	fields      []string
	vectorField string
	boost       float64
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a retrieval client from the search configuration.
func New(cfg *config.SearchConfig, signer *sigv4.Signer, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		signer:      signer,
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		index:       cfg.Index,
		service:     cfg.Service,
		fields:      cfg.Fields,
		vectorField: cfg.VectorField,
		boost:       cfg.KeywordBoost,
		logger:      logger,
		now:         time.Now,
	}
}

// searchHit is one raw index hit.
type searchHit struct {
	ID     string  `json:"_id"`
	Score  float64 `json:"_score"`
	Source struct {
		Title        string `json:"title"`
		Code         string `json:"code"`
		SourceType   string `json:"source_type"`
		Snippet      string `json:"snippet"`
		FullText     string `json:"full_text"`
		PageCitation string `json:"page_citation"`
		SourceURL    string `json:"source_url"`
		HeaderPath   string `json:"header_path"`
	} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// Search runs one hybrid query and returns normalized hits. The vector
// clause asks for 5x sizeHint neighbors and the request for 3x sizeHint
// candidates, leaving headroom for downstream deduplication. Any failure
// is logged and degrades to an empty result.
func (c *Client) Search(ctx context.Context, queryText string, vector []float32, sizeHint int) []domain.SourceHit {
	body, err := json.Marshal(c.buildQuery(queryText, vector, sizeHint))
	if err != nil {
		c.logger.Warn("Failed to build search query", zap.Error(err))
		return nil
	}

	raw, err := c.doSearch(ctx, body)
	if err != nil {
		c.logger.Warn("Search request failed",
			zap.String("index", c.index),
			zap.Error(err))
		return nil
	}

	hits := make([]domain.SourceHit, 0, len(raw.Hits.Hits))
	for _, h := range raw.Hits.Hits {
		hits = append(hits, normalizeHit(h))
	}
	return hits
}

// buildQuery assembles the bool/should hybrid query.
func (c *Client) buildQuery(queryText string, vector []float32, sizeHint int) map[string]any {
	knnClause := map[string]any{
		"knn": map[string]any{
			c.vectorField: map[string]any{
				"vector": vector,
				"k":      5 * sizeHint,
			},
		},
	}
	keywordClause := map[string]any{
		"multi_match": map[string]any{
			"query":  queryText,
			"fields": c.fields,
			"boost":  c.boost,
		},
	}

	return map[string]any{
		"size": 3 * sizeHint,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{knnClause, keywordClause},
			},
		},
	}
}

func (c *Client) doSearch(ctx context.Context, body []byte) (*searchResponse, error) {
	u, err := url.Parse(c.endpoint + "/" + c.index + "/_search")
	if err != nil {
		return nil, fmt.Errorf("build search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	signedHeaders := c.signer.Sign(sigv4.Request{
		Method:  http.MethodPost,
		URL:     u,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
		Service: c.service,
		Time:    c.now(),
	})
	for k, v := range signedHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w: %v", domain.ErrRetrievalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search error %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(errBody)), domain.ErrRetrievalUnavailable)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", domain.ErrRetrievalUnavailable)
	}
	return &parsed, nil
}

// normalizeHit maps a raw hit to a SourceHit, filling the default title
// and deriving a snippet from the full text when missing.
func normalizeHit(h searchHit) domain.SourceHit {
	title := h.Source.Title
	if title == "" {
		title = defaultTitle
	}

	snippet := h.Source.Snippet
	if snippet == "" {
		snippet = truncateSnippet(h.Source.FullText)
	}

	return domain.SourceHit{
		ID:             h.ID,
		Title:          title,
		Code:           h.Source.Code,
		SourceType:     h.Source.SourceType,
		Snippet:        snippet,
		FullText:       h.Source.FullText,
		RelevanceScore: h.Score,
		PageCitation:   h.Source.PageCitation,
		SourceURL:      h.Source.SourceURL,
		HeaderPath:     h.Source.HeaderPath,
	}
}

func truncateSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxLen {
		return text
	}
	return string(runes[:snippetMaxLen]) + "…"
}
