package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/transport/eventstream"
)

const anthropicVersion = "bedrock-2023-05-31"

// streamReadSize is the chunk size for draining the response stream into
// the frame decoder.
const streamReadSize = 32 * 1024

// ChatClient drives an Anthropic-family model on Bedrock: synchronous
// invoke for Complete, the framed response stream for StreamAnswer.
type ChatClient struct {
	client    *Client
	modelID   string
	maxTokens int
	logger    *zap.Logger
}

// NewChatClient creates a Bedrock chat backend.
func NewChatClient(client *Client, modelID string, maxTokens int, logger *zap.Logger) *ChatClient {
	return &ChatClient{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// streamEvent is the decoded payload of one "chunk" frame: base64 bytes
// wrapping a model stream event.
type streamEvent struct {
	Bytes []byte `json:"bytes"`
}

type deltaEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// buildRequest converts role-tagged turns to the Anthropic invoke body.
// System turns are folded into the top-level system field.
func (c *ChatClient) buildRequest(messages []domain.ChatMessage) ([]byte, error) {
	req := anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.maxTokens,
	}

	var system []string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return body, nil
}

// Complete sends a non-streaming invocation and returns the full text.
func (c *ChatClient) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	body, err := c.buildRequest(messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.invoke(ctx, c.modelID, actionInvoke, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", domain.ErrModelUnavailable)
	}

	var full strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			full.WriteString(block.Text)
		}
	}
	if full.Len() == 0 {
		return "", fmt.Errorf("empty chat response: %w", domain.ErrModelUnavailable)
	}

	return full.String(), nil
}

// StreamAnswer invokes the model with a streamed response, forwarding each
// text delta to onChunk in arrival order. Returns the accumulated text.
func (c *ChatClient) StreamAnswer(
	ctx context.Context,
	messages []domain.ChatMessage,
	onChunk func(text string) error,
) (string, error) {
	body, err := c.buildRequest(messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.invoke(ctx, c.modelID, actionInvokeStream, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder

	decoder := eventstream.NewDecoder()
	buf := make([]byte, streamReadSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, msg := range decoder.Feed(buf[:n]) {
				text, ok := c.deltaText(msg)
				if !ok {
					continue
				}
				full.WriteString(text)
				if onChunk != nil {
					if err := onChunk(text); err != nil {
						return full.String(), fmt.Errorf("deliver answer chunk: %w", err)
					}
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return full.String(), fmt.Errorf("read response stream: %w: %v", domain.ErrModelUnavailable, readErr)
		}
	}

	return full.String(), nil
}

// deltaText extracts the text of a content_block_delta event carried by a
// "chunk" frame. Returns ok=false for every other frame.
func (c *ChatClient) deltaText(msg eventstream.Message) (string, bool) {
	if msg.EventType != "chunk" {
		return "", false
	}

	var ev streamEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		c.logger.Warn("Skipping malformed stream frame", zap.Error(err))
		return "", false
	}

	var delta deltaEvent
	if err := json.Unmarshal(ev.Bytes, &delta); err != nil {
		c.logger.Warn("Skipping malformed stream event", zap.Error(err))
		return "", false
	}
	if delta.Type != "content_block_delta" || delta.Delta.Text == "" {
		return "", false
	}

	return delta.Delta.Text, true
}
