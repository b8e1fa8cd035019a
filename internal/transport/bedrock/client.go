// Package bedrock implements signed model invocation against the Bedrock
// runtime: synchronous invoke for embeddings and decomposition, and the
// binary-framed response stream for answer synthesis. Requests are signed
// with SigV4 directly, no AWS SDK involved.
package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/domain"
	"github.com/ritivel/regsearch/internal/transport/sigv4"
)

// Client is a minimal Bedrock runtime HTTP client shared by the embedder
// and the chat backend.
type Client struct {
	httpClient *http.Client
	signer     *sigv4.Signer
	endpoint   string
	logger     *zap.Logger
	now        func() time.Time
}

// ClientConfig holds the runtime connection settings. Endpoint overrides
// the regional default, which tests rely on.
type ClientConfig struct {
	Signer   *sigv4.Signer
	Region   string
	Endpoint string
	Logger   *zap.Logger
}

// NewClient creates a Bedrock runtime client.
func NewClient(cfg *ClientConfig) *Client {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Region)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		signer:     cfg.Signer,
		endpoint:   endpoint,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// invoke POSTs a signed model invocation. action is "invoke" or
// "invoke-with-response-stream". The caller owns the response body.
//
// The model ID is percent-encoded once in the request line; the canonical
// path passed to the signer encodes it a second time, which is the form
// Bedrock verifies.
func (c *Client) invoke(ctx context.Context, modelID, action string, body []byte) (*http.Response, error) {
	rawPath := "/model/" + sigv4.URIEncodePath(modelID) + "/" + action

	u, err := url.Parse(c.endpoint + rawPath)
	if err != nil {
		return nil, fmt.Errorf("build invoke URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if action == actionInvokeStream {
		req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	signedHeaders := c.signer.Sign(sigv4.Request{
		Method:        http.MethodPost,
		URL:           u,
		CanonicalPath: sigv4.URIEncodePath(u.EscapedPath()),
		Headers: map[string]string{
			"content-type": req.Header.Get("Content-Type"),
			"accept":       req.Header.Get("Accept"),
		},
		Body:    body,
		Service: "bedrock",
		Time:    c.now(),
	})
	for k, v := range signedHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w: %v", modelID, domain.ErrModelUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("bedrock error %d for %s: %s: %w",
			resp.StatusCode, modelID, strings.TrimSpace(string(errBody)), domain.ErrModelUnavailable)
	}

	return resp, nil
}

const (
	actionInvoke       = "invoke"
	actionInvokeStream = "invoke-with-response-stream"
)
