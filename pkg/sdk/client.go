package regsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ritivel/regsearch/internal/domain"
)

const (
	searchPath = "/api/search"

	// Answer synthesis can run for minutes on long documents.
	defaultTimeout = 5 * time.Minute

	scanBufSize = 64 * 1024
	maxLineSize = 1024 * 1024
)

// Re-exported stream types so callers do not import internal packages.
type (
	Event     = domain.Event
	EventType = domain.EventType
	SourceHit = domain.SourceHit
	SubQuery  = domain.SubQuery
)

// Event type values, mirrored from the wire protocol.
const (
	EventStep           = domain.EventStep
	EventSubQueries     = domain.EventSubQueries
	EventSubQueryStatus = domain.EventSubQueryStatus
	EventSources        = domain.EventSources
	EventAnswerChunk    = domain.EventAnswerChunk
	EventError          = domain.EventError
	EventDone           = domain.EventDone
)

// ErrPipeline marks a search that the server terminated with an error
// event. The wrapped message is the server-provided reason.
var ErrPipeline = errors.New("pipeline error")

// EventHandler receives stream events in order. Returning an error stops
// the stream and is propagated out of Search.
type EventHandler func(Event) error

// Client talks to a regsearch server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o.apply(c)
	}
	return c
}

// Search streams the full pipeline for query, invoking handler for every
// event including the terminal one. It returns nil on done, ErrPipeline
// (wrapped) when the server reports an error, and the handler's error if
// the handler aborts the stream.
func (c *Client) Search(ctx context.Context, query string, handler EventHandler) error {
	return c.stream(ctx, domain.SearchRequest{Query: query}, handler)
}

// Sources runs a retrieval-only search and returns the ranked passages.
func (c *Client) Sources(ctx context.Context, query string) ([]SourceHit, error) {
	var sources []SourceHit
	err := c.stream(ctx, domain.SearchRequest{Query: query, SourcesOnly: true},
		func(e Event) error {
			if e.Type == EventSources {
				sources = e.Sources
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func (c *Client) stream(ctx context.Context, req domain.SearchRequest, handler EventHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("search request: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, scanBufSize), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}

		if err := handler(event); err != nil {
			return fmt.Errorf("handle event: %w", err)
		}

		switch event.Type {
		case EventDone:
			return nil
		case EventError:
			return fmt.Errorf("%w: %s", ErrPipeline, event.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return errors.New("stream ended without terminal event")
}
