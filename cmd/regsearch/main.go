package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ritivel/regsearch/internal/config"
	"github.com/ritivel/regsearch/internal/db"
	dbRedis "github.com/ritivel/regsearch/internal/db/redis"
	"github.com/ritivel/regsearch/internal/domain"
	logpkg "github.com/ritivel/regsearch/internal/logger"
	"github.com/ritivel/regsearch/internal/metrics"
	"github.com/ritivel/regsearch/internal/repository/embcache"
	"github.com/ritivel/regsearch/internal/transport/bedrock"
	chiTransport "github.com/ritivel/regsearch/internal/transport/chi"
	openaiTransport "github.com/ritivel/regsearch/internal/transport/openai"
	"github.com/ritivel/regsearch/internal/transport/opensearch"
	"github.com/ritivel/regsearch/internal/transport/sigv4"
	decomposeuc "github.com/ritivel/regsearch/internal/usecase/decompose"
	healthuc "github.com/ritivel/regsearch/internal/usecase/health"
	pipelineuc "github.com/ritivel/regsearch/internal/usecase/pipeline"
	"github.com/ritivel/regsearch/internal/version"
)

// modelClient is what both chat backends provide: non-streaming
// completion for decomposition, streaming for answer synthesis.
type modelClient interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
	StreamAnswer(ctx context.Context, messages []domain.ChatMessage, onChunk func(string) error) (string, error)
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting regsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("search_index", cfg.Search.Index),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("llm_backend", cfg.LLM.Backend),
	)

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Optional embedding cache store
	var store db.Store
	if len(cfg.Cache.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		if err := store.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache store not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache")
	}

	signer := sigv4.New(sigv4.Credentials{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	}, cfg.AWS.Region)

	bedrockClient := bedrock.NewClient(&bedrock.ClientConfig{
		Signer: signer,
		Region: cfg.AWS.Region,
		Logger: logger,
	})

	embedder := buildEmbedder(&cfg, bedrockClient, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cached", store != nil),
	)

	retriever := opensearch.New(&cfg.Search, signer, logger)

	model := buildModelClient(&cfg, bedrockClient, logger)
	decomposer := decomposeuc.New(model, logger)

	pipelineSvc := pipelineuc.New(embedder, retriever, decomposer, model, pipelineuc.Config{
		SizeHint:       cfg.Search.SizeHint,
		MaxSources:     cfg.Pipeline.MaxSources,
		ContextSources: cfg.Pipeline.ContextSources,
	}, logger)

	var cachePinger healthuc.CachePinger
	if store != nil {
		cachePinger = store
	}
	healthSvc := healthuc.New(cachePinger, newEmbeddingHealthChecker(embedder))

	server := chiTransport.NewServer(pipelineSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the embedding chain: provider -> cache decorator.
func buildEmbedder(
	cfg *config.Config,
	bedrockClient *bedrock.Client,
	store db.Store,
	logger *zap.Logger,
) domain.Embedder {
	var base domain.Embedder
	switch cfg.Embedding.Provider {
	case "bedrock":
		base = bedrock.NewEmbedder(bedrockClient, cfg.Embedding.Bedrock.ModelID, cfg.Embedding.Dimensions)
	case "openai":
		base = openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
			APIKey:     cfg.Embedding.OpenAI.APIKey,
			BaseURL:    cfg.Embedding.OpenAI.BaseURL,
			Model:      cfg.Embedding.OpenAI.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   cfg.Embedding.Provider,
			Logger:     logger,
		})
	default:
		logger.Fatal("Unknown embedding provider", zap.String("provider", cfg.Embedding.Provider))
	}

	if store == nil {
		return base
	}
	return embcache.New(base, store, metrics.EmbeddingCacheTotal, logger)
}

// buildModelClient selects the answer/decomposition backend. The choice
// is deployment-time configuration, never a per-request branch.
func buildModelClient(cfg *config.Config, bedrockClient *bedrock.Client, logger *zap.Logger) modelClient {
	switch cfg.LLM.Backend {
	case "bedrock":
		return bedrock.NewChatClient(bedrockClient, cfg.LLM.Bedrock.ModelID, cfg.LLM.MaxTokens, logger)
	case "openai":
		return openaiTransport.NewChatClient(&openaiTransport.ChatConfig{
			APIKey:    cfg.LLM.OpenAI.APIKey,
			BaseURL:   cfg.LLM.OpenAI.BaseURL,
			Model:     cfg.LLM.OpenAI.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Logger:    logger,
		})
	default:
		logger.Fatal("Unknown LLM backend", zap.String("backend", cfg.LLM.Backend))
		return nil
	}
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
