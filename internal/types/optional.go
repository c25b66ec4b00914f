package types

import (
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("unavailable")

// Handle holds an optional collaborator that was either built from
// configuration or left out with a reason.
type Handle[T any] struct {
	value  T
	ready  bool
	reason string
}

func Ready[T any](v T) Handle[T] {
	return Handle[T]{value: v, ready: true}
}

func Unavailable[T any](reason string) Handle[T] {
	return Handle[T]{reason: reason}
}

func (h Handle[T]) Ready() bool { return h.ready }

func (h Handle[T]) Reason() string { return h.reason }

// Get returns the collaborator or an error wrapping ErrUnavailable.
func (h Handle[T]) Get() (T, error) {
	if !h.ready {
		var zero T
		reason := h.reason
		if reason == "" {
			reason = "not configured"
		}
		return zero, fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}
	return h.value, nil
}
