package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld is returned by Acquire when another owner holds the key.
	ErrHeld = errors.New("lease held by another owner")
	// ErrLost is returned by Extend once the claim expired and was taken
	// over or removed.
	ErrLost = errors.New("lease lost")
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a time-bounded exclusive claim. Release is safe to call after
// expiry; it never removes a claim taken over by another owner.
type Lease interface {
	Key() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}
