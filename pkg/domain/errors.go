package domain

import "errors"

var (
	// ErrLockContention indicates another worker holds the per-user lock. Retryable.
	ErrLockContention = errors.New("could not acquire lock, try again later")
	// ErrAssistantUpsertFailed wraps assistant API failures during create or lookup. Retryable.
	ErrAssistantUpsertFailed = errors.New("assistant upsert failed")
	// ErrNotFound indicates a required payload or record is missing. Not retryable.
	ErrNotFound = errors.New("not found")
	// ErrPartialDeletion indicates one of the deletion sub-steps failed.
	ErrPartialDeletion = errors.New("partial deletion failure")
	// ErrInvalidTransition indicates a status change that would regress the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMalformedMessage indicates an envelope or message that cannot be decoded. Not retryable.
	ErrMalformedMessage = errors.New("malformed message")
)

// IsRetryable reports whether redelivering the message that produced err can succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedMessage) {
		return false
	}
	return true
}
