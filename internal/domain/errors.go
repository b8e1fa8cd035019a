package domain

import "errors"

var (
	// ErrMalformedRequest signals a missing or empty query.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrEmbeddingUnavailable signals an embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrRetrievalUnavailable signals a search index failure.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrDecompositionUnavailable signals a query decomposition failure.
	ErrDecompositionUnavailable = errors.New("decomposition unavailable")
	// ErrModelUnavailable signals a language model failure.
	ErrModelUnavailable = errors.New("model unavailable")
)
