package bedrock

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/metrics"
	"github.com/ritivel/regsearch/internal/transport/sigv4"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

func newTestClient(endpoint string) *Client {
	signer := sigv4.New(sigv4.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}, "us-east-1")

	return NewClient(&ClientConfig{
		Signer:   signer,
		Region:   "us-east-1",
		Endpoint: endpoint,
		Logger:   zap.NewNop(),
	})
}

// chunkFrame builds one eventstream frame with :event-type=chunk whose
// payload wraps event as base64 bytes. CRCs are zeroed; the decoder
// ignores them.
func chunkFrame(t *testing.T, event any) []byte {
	t.Helper()

	inner, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal stream event: %v", err)
	}
	payload, err := json.Marshal(map[string]string{
		"bytes": base64.StdEncoding.EncodeToString(inner),
	})
	if err != nil {
		t.Fatalf("marshal frame payload: %v", err)
	}

	var headers bytes.Buffer
	name := ":event-type"
	headers.WriteByte(byte(len(name)))
	headers.WriteString(name)
	headers.WriteByte(7) // string tag
	binary.Write(&headers, binary.BigEndian, uint16(len("chunk")))
	headers.WriteString("chunk")

	total := 12 + headers.Len() + len(payload) + 4
	var frame bytes.Buffer
	binary.Write(&frame, binary.BigEndian, uint32(total))
	binary.Write(&frame, binary.BigEndian, uint32(headers.Len()))
	binary.Write(&frame, binary.BigEndian, uint32(0)) // prelude CRC
	frame.Write(headers.Bytes())
	frame.Write(payload)
	binary.Write(&frame, binary.BigEndian, uint32(0)) // message CRC
	return frame.Bytes()
}

func textDelta(text string) map[string]any {
	return map[string]any{
		"type": "content_block_delta",
		"delta": map[string]any{
			"type": "text_delta",
			"text": text,
		},
	}
}

func TestEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/model/amazon.titan-embed-text-v2%3A0/invoke" {
			t.Errorf("unexpected path: %s", got)
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") {
			t.Errorf("unexpected Authorization header: %s", auth)
		}
		if r.Header.Get("X-Amz-Date") == "" {
			t.Error("missing X-Amz-Date header")
		}

		var req titanEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.InputText != "capital requirements" {
			t.Errorf("inputText = %q", req.InputText)
		}
		if req.Dimensions != 256 {
			t.Errorf("dimensions = %d, expected 256", req.Dimensions)
		}

		json.NewEncoder(w).Encode(titanEmbedResponse{
			Embedding:           []float32{0.1, 0.2, 0.3},
			InputTextTokenCount: 4,
		})
	}))
	defer server.Close()

	emb := NewEmbedder(newTestClient(server.URL), "amazon.titan-embed-text-v2:0", 256)

	result, err := emb.Embed(context.Background(), "capital requirements")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Errorf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 4 {
		t.Errorf("TotalTokens = %d, expected 4", result.TotalTokens)
	}
}

func TestEmbedder_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"invalid signature"}`)
	}))
	defer server.Close()

	emb := NewEmbedder(newTestClient(server.URL), "amazon.titan-embed-text-v2:0", 0)

	_, err := emb.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got: %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry status code: %v", err)
	}
	if !strings.Contains(err.Error(), "invalid signature") {
		t.Errorf("error should carry response body: %v", err)
	}
}

func TestChatClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.AnthropicVersion != anthropicVersion {
			t.Errorf("anthropic_version = %q", req.AnthropicVersion)
		}
		if req.System != "You answer with citations." {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		fmt.Fprint(w, `{"content":[{"type":"text","text":"Basel III applies."}]}`)
	}))
	defer server.Close()

	chat := NewChatClient(newTestClient(server.URL), "anthropic.claude-3-haiku", 1024, zap.NewNop())

	got, err := chat.Complete(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You answer with citations."},
		{Role: domain.RoleUser, Content: "Which framework applies?"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Basel III applies." {
		t.Errorf("content = %q", got)
	}
}

func TestChatClient_StreamAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); !strings.HasSuffix(got, "/invoke-with-response-stream") {
			t.Errorf("unexpected path: %s", got)
		}

		w.Write(chunkFrame(t, map[string]any{"type": "message_start"}))
		w.Write(chunkFrame(t, textDelta("Hello")))
		w.Write(chunkFrame(t, textDelta(", world")))
		w.Write(chunkFrame(t, map[string]any{"type": "message_stop"}))
	}))
	defer server.Close()

	chat := NewChatClient(newTestClient(server.URL), "anthropic.claude-3-haiku", 1024, zap.NewNop())

	var chunks []string
	full, err := chat.StreamAnswer(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "greet"},
	}, func(text string) error {
		chunks = append(chunks, text)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamAnswer failed: %v", err)
	}

	if full != "Hello, world" {
		t.Errorf("full = %q, expected %q", full, "Hello, world")
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestChatClient_StreamAnswer_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"throttled"}`)
	}))
	defer server.Close()

	chat := NewChatClient(newTestClient(server.URL), "anthropic.claude-3-haiku", 1024, zap.NewNop())

	_, err := chat.StreamAnswer(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "x"},
	}, nil)
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got: %v", err)
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("error should carry status and body: %v", err)
	}
}

func TestChatClient_StreamAnswer_OnChunkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chunkFrame(t, textDelta("a")))
		w.Write(chunkFrame(t, textDelta("b")))
	}))
	defer server.Close()

	chat := NewChatClient(newTestClient(server.URL), "anthropic.claude-3-haiku", 1024, zap.NewNop())

	sinkErr := errors.New("client went away")
	_, err := chat.StreamAnswer(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "x"},
	}, func(string) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Errorf("expected onChunk error to propagate, got: %v", err)
	}
}
