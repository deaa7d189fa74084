// Package lock provides the single-instance run lock. Both backends expire on
// their own when the holder dies: the Redis lease through its TTL and the
// Postgres advisory lock when the holding session ends.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

var (
	ErrLockHeld  = errors.New("run lock already held")
	ErrLeaseLost = errors.New("run lock lease lost before release")
)

// HeldError identifies the current holder of a contended lock.
type HeldError struct {
	Key    string
	Holder string
}

func (e *HeldError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("%s: %s", ErrLockHeld, e.Key)
	}
	return fmt.Sprintf("%s: %s by %s", ErrLockHeld, e.Key, e.Holder)
}

func (e *HeldError) Is(target error) bool {
	return target == ErrLockHeld
}

type Lease interface {
	Owner() string
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// OwnerToken is unique per acquisition and names the host and pid for humans.
func OwnerToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}
