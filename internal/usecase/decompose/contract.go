package decompose

import (
	"context"

	"github.com/ritivel/regsearch/internal/domain"
)

// Completer runs one non-streaming model call.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
}
