package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa-gateway/internal/ai"
	"docqa-gateway/internal/vectorindex"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrNoDocuments      = errors.New("no documents found for this client")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTimeout          = errors.New("operation timed out")
	ErrInternal         = errors.New("internal error")

	ErrMissingAPIKey = fmt.Errorf("%w: X-API-Key header missing", ErrUnauthenticated)
	ErrInvalidAPIKey = fmt.Errorf("%w: invalid API key", ErrUnauthenticated)
)

const retryDelay = 50 * time.Millisecond

// translate maps a lower-layer failure onto the app error set. Errors that
// already carry an app sentinel pass through.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrTenantNotFound),
		errors.Is(err, ErrNoDocuments),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
	}
}

// transient reports whether a failed store, index or embedder call may
// succeed when tried again.
func transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *ai.StatusError
	if errors.As(err, &statusErr) {
		return ai.IsTransient(err)
	}
	var dimErr *vectorindex.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return false
	}
	for _, permanent := range []error{
		ai.ErrEmptyInput,
		vectorindex.ErrZeroVector,
		vectorindex.ErrTenantMismatch,
		vectorindex.ErrInvalidTenant,
		vectorindex.ErrInvalidDocument,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// retryOnce runs fn and, on a transient failure, runs it one more time after
// a short pause.
func retryOnce[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if !transient(err) {
		return v, err
	}

	timer := time.NewTimer(retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-timer.C:
	}
	return fn()
}
