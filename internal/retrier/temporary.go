package retrier

import (
	"context"
	"errors"
)

// Temporary indicates if an error condition is temporary and may succeed if retried.
type Temporary interface {
	Temporary() bool
}

// IsTemporary checks if the provided error implements the Temporary interface and returns true if it does.
func IsTemporary(err error) bool {
	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// RetryUnless returns a TempErrorFunc that treats every error as temporary except
// context errors and the listed permanent ones.
func RetryUnless(permanent ...error) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		for _, p := range permanent {
			if errors.Is(err, p) {
				return false
			}
		}
		return true
	}
}
