package decompose

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
)

type mockCompleter struct {
	response string
	err      error
}

func (m *mockCompleter) Complete(_ context.Context, _ []domain.ChatMessage) (string, error) {
	return m.response, m.err
}

func newTestService(c *mockCompleter) *Service {
	return New(c, zap.NewNop())
}

func TestDecompose_ParsesSubQueries(t *testing.T) {
	svc := newTestService(&mockCompleter{response: `{
		"subQueries": [
			{"queryText": "capital adequacy ratios", "intent": "quantitative thresholds"},
			{"queryText": "reporting deadlines", "intent": "compliance timing"}
		]
	}`})

	subs := svc.Decompose(context.Background(), "What are the Basel III requirements?")

	if len(subs) != 2 {
		t.Fatalf("expected 2 sub-queries, got %d", len(subs))
	}
	if subs[0].Query != "capital adequacy ratios" || subs[0].Intent != "quantitative thresholds" {
		t.Errorf("unexpected first sub-query: %+v", subs[0])
	}
	if subs[0].Status != domain.SubQueryPending {
		t.Errorf("status = %q, expected pending", subs[0].Status)
	}
	if subs[0].ID == "" || subs[0].ID == subs[1].ID {
		t.Error("sub-queries must get distinct non-empty IDs")
	}
}

func TestDecompose_ExtractsObjectFromProse(t *testing.T) {
	svc := newTestService(&mockCompleter{response: "Sure! Here is the breakdown:\n```json\n" +
		`{"subQueries":[{"queryText":"liquidity coverage","intent":"ratio definition"}]}` +
		"\n```\nLet me know if you need more."})

	subs := svc.Decompose(context.Background(), "q")

	if len(subs) != 1 || subs[0].Query != "liquidity coverage" {
		t.Fatalf("expected extracted sub-query, got %+v", subs)
	}
}

func TestDecompose_BracesInsideStrings(t *testing.T) {
	svc := newTestService(&mockCompleter{
		response: `{"subQueries":[{"queryText":"what does {x} mean","intent":"notation"}]}`,
	})

	subs := svc.Decompose(context.Background(), "q")

	if len(subs) != 1 || subs[0].Query != "what does {x} mean" {
		t.Fatalf("expected braces in strings to be ignored, got %+v", subs)
	}
}

func TestDecompose_TruncatesToFour(t *testing.T) {
	svc := newTestService(&mockCompleter{response: `{"subQueries":[
		{"queryText":"a","intent":"1"},{"queryText":"b","intent":"2"},
		{"queryText":"c","intent":"3"},{"queryText":"d","intent":"4"},
		{"queryText":"e","intent":"5"},{"queryText":"f","intent":"6"}]}`})

	subs := svc.Decompose(context.Background(), "q")

	if len(subs) != 4 {
		t.Fatalf("expected truncation to 4, got %d", len(subs))
	}
}

func TestDecompose_ErrorFallsBack(t *testing.T) {
	svc := newTestService(&mockCompleter{err: errors.New("model down")})

	subs := svc.Decompose(context.Background(), "original question")

	if len(subs) != 1 {
		t.Fatalf("expected single fallback sub-query, got %d", len(subs))
	}
	if subs[0].Query != "original question" || subs[0].Intent != "main query" {
		t.Errorf("unexpected fallback: %+v", subs[0])
	}
}

func TestDecompose_NonJSONFallsBack(t *testing.T) {
	svc := newTestService(&mockCompleter{response: "I cannot split this question."})

	subs := svc.Decompose(context.Background(), "original question")

	if len(subs) != 1 || subs[0].Intent != "main query" {
		t.Fatalf("expected fallback, got %+v", subs)
	}
}

func TestDecompose_MissingFieldFallsBack(t *testing.T) {
	svc := newTestService(&mockCompleter{response: `{"queries": ["a", "b"]}`})

	subs := svc.Decompose(context.Background(), "original question")

	if len(subs) != 1 || subs[0].Query != "original question" {
		t.Fatalf("expected fallback, got %+v", subs)
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, true},
		{"no object", "plain text", "", false},
		{"unbalanced", `{"a":1`, "", false},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSONObject(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Errorf("extractJSONObject(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}
