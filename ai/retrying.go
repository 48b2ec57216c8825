package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/groundrag/core"
)

// RetryingEmbedder bounds every call to the wrapped Embedder with a
// per-attempt timeout and retries failures with exponential backoff.
// Final failures are returned as *core.ProviderError.
type RetryingEmbedder struct {
	next        Embedder
	provider    string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

var _ Embedder = (*RetryingEmbedder)(nil)

// RetryOption configures a RetryingEmbedder.
type RetryOption func(*RetryingEmbedder) error

// WithAttemptTimeout sets the deadline applied to each attempt.
// Default is 30 seconds.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(r *RetryingEmbedder) error {
		if d <= 0 {
			return fmt.Errorf("%w: attempt timeout must be positive", core.ErrConfig)
		}
		r.timeout = d
		return nil
	}
}

// WithMaxAttempts sets the total number of attempts.
// Default is 3.
func WithMaxAttempts(n int) RetryOption {
	return func(r *RetryingEmbedder) error {
		if n <= 0 {
			return fmt.Errorf("%w: %w", core.ErrConfig, ErrInvalidMaxAttempts)
		}
		r.maxAttempts = n
		return nil
	}
}

// WithBaseDelay sets the delay before the first retry.
// Default is 500ms.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *RetryingEmbedder) error {
		if d < 0 {
			return fmt.Errorf("%w: base delay must not be negative", core.ErrConfig)
		}
		r.baseDelay = d
		return nil
	}
}

// WithRetryLogger sets a custom logger.
// Default is slog.Default().
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *RetryingEmbedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetryingEmbedder wraps next. provider names the backend in errors.
func NewRetryingEmbedder(next Embedder, provider string, opts ...RetryOption) (*RetryingEmbedder, error) {
	if next == nil {
		return nil, ErrEmbedderRequired
	}
	r := &RetryingEmbedder{
		next:        next,
		provider:    provider,
		timeout:     30 * time.Second,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retrying-embedder", "provider", provider)
	return r, nil
}

// EmbedText embeds a single text.
func (r *RetryingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.do(ctx, "embed", func(actx context.Context) error {
		v, err := r.next.EmbedText(actx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return ErrEmptyEmbedding
		}
		vector = v
		return nil
	})
	return vector, err
}

// EmbedTexts embeds a batch. The whole batch is retried on failure.
func (r *RetryingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var vectors [][]float32
	err := r.do(ctx, "embed batch", func(actx context.Context) error {
		v, err := r.next.EmbedTexts(actx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyEmbedding, len(v), len(texts))
		}
		vectors = v
		return nil
	})
	return vectors, err
}

func (r *RetryingEmbedder) do(ctx context.Context, op string, call func(context.Context) error) error {
	attempts := 0
	backoff := Backoff{MaxAttempts: r.maxAttempts, BaseDelay: r.baseDelay, Logger: r.logger.With("op", op)}
	err := backoff.Retry(ctx, func(attempt int) error {
		attempts = attempt
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return call(actx)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.logger.Warn("embedding failed", "op", op, "attempts", attempts, "err", err)
	return core.NewProviderError(r.provider, op, err)
}
