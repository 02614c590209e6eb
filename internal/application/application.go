package application

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

var (
	ErrValidation      = errors.New("validation")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Validation wraps msg so callers can match it with errors.Is(err, ErrValidation).
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

type IDGenerator interface {
	NewID() string
}

// IdempotencyStore claims keys for a bounded time. Claim returns false when the key is already held.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Clock returns the current time; tests swap it for a fixed one.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
