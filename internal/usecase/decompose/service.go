// Package decompose splits one user question into focused sub-queries by
// prompting a language model, degrading to the original query when the
// model cannot be used.
package decompose

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
)

const maxSubQueries = 4

const systemPrompt = `You are a regulatory research assistant. Split the user's question into 2-4 focused sub-queries that together cover the question. Respond with only a JSON object of the form {"subQueries":[{"queryText":"...","intent":"..."}]} and nothing else.`

// Service decomposes user questions into sub-queries.
type Service struct {
	completer Completer
	logger    *zap.Logger
}

// New creates a decomposition service.
func New(completer Completer, logger *zap.Logger) *Service {
	return &Service{completer: completer, logger: logger}
}

type decompositionResponse struct {
	SubQueries []struct {
		QueryText string `json:"queryText"`
		Intent    string `json:"intent"`
	} `json:"subQueries"`
}

// Decompose asks the model to split query into sub-queries. Any failure
// (transport, non-JSON response, missing field) degrades to a single
// sub-query holding the original question.
func (s *Service) Decompose(ctx context.Context, query string) []domain.SubQuery {
	text, err := s.completer.Complete(ctx, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: query},
	})
	if err != nil {
		s.logger.Warn("Decomposition call failed, falling back to single query", zap.Error(err))
		return fallback(query)
	}

	parsed, ok := parseSubQueries(text)
	if !ok || len(parsed.SubQueries) == 0 {
		s.logger.Warn("Decomposition response unusable, falling back to single query",
			zap.String("response", truncateForLog(text)))
		return fallback(query)
	}

	subs := make([]domain.SubQuery, 0, maxSubQueries)
	for _, sq := range parsed.SubQueries {
		if sq.QueryText == "" {
			continue
		}
		subs = append(subs, domain.SubQuery{
			ID:     uuid.NewString(),
			Query:  sq.QueryText,
			Intent: sq.Intent,
			Status: domain.SubQueryPending,
		})
		if len(subs) == maxSubQueries {
			break
		}
	}
	if len(subs) == 0 {
		return fallback(query)
	}
	return subs
}

func fallback(query string) []domain.SubQuery {
	return []domain.SubQuery{{
		ID:     uuid.NewString(),
		Query:  query,
		Intent: "main query",
		Status: domain.SubQueryPending,
	}}
}

// parseSubQueries extracts the first balanced {...} substring from text
// and parses it. Models wrap the JSON in prose or code fences often
// enough that plain unmarshal is not an option.
func parseSubQueries(text string) (decompositionResponse, bool) {
	objText, ok := extractJSONObject(text)
	if !ok {
		return decompositionResponse{}, false
	}

	var parsed decompositionResponse
	if err := json.Unmarshal([]byte(objText), &parsed); err != nil {
		return decompositionResponse{}, false
	}
	return parsed, true
}

// extractJSONObject returns the first balanced top-level {...} in text.
// Braces inside JSON strings are ignored.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func truncateForLog(s string) string {
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
