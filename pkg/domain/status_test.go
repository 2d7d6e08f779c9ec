package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{"", StatusCreated, true},
		{StatusCreated, StatusConverting, true},
		{StatusCreated, StatusSynced, true},
		{StatusConverting, StatusTranscribed, true},
		{StatusTranscribed, StatusSynced, true},
		{StatusTranscribed, StatusConverting, false},
		{StatusSynced, StatusSynced, true},
		{StatusSynced, StatusCreated, false},
		{StatusSynced, StatusErrored, false},
		{StatusCreated, StatusErrored, true},
		{StatusTranscribed, StatusErrored, true},
		{StatusErrored, StatusErrored, true},
		{StatusErrored, StatusSynced, true},
		{StatusErrored, StatusTranscribed, false},
		{StatusCreated, Status("bogus"), false},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusNeverRegressesAcrossEventSequences(t *testing.T) {
	all := []Status{StatusCreated, StatusConverting, StatusTranscribed, StatusSynced, StatusErrored}
	// Every sequence of length 4 over all statuses.
	var walk func(current Status, depth int)
	walk = func(current Status, depth int) {
		if depth == 0 {
			return
		}
		for _, next := range all {
			got, err := Transition(current, next)
			if err != nil {
				if got != current {
					t.Fatalf("rejected transition changed status: %s -> %s gave %s", current, next, got)
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("unexpected error type: %v", err)
				}
				walk(current, depth-1)
				continue
			}
			if current == StatusSynced && got != StatusSynced {
				t.Fatalf("synced regressed to %s", got)
			}
			if got != StatusErrored && current != StatusErrored && rank[got] < rank[current] {
				t.Fatalf("regression %s -> %s", current, got)
			}
			walk(got, depth-1)
		}
	}
	walk(StatusCreated, 4)
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
	if IsRetryable(fmt.Errorf("no file: %w", ErrNotFound)) {
		t.Fatal("not found must not be retryable")
	}
	if IsRetryable(fmt.Errorf("decode: %w", ErrMalformedMessage)) {
		t.Fatal("malformed message must not be retryable")
	}
	if !IsRetryable(fmt.Errorf("user u1: %w", ErrLockContention)) {
		t.Fatal("lock contention must be retryable")
	}
	if !IsRetryable(errors.Join(ErrPartialDeletion, errors.New("boom"))) {
		t.Fatal("partial deletion must be retryable")
	}
}
