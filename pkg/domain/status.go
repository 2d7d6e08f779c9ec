package domain

import "fmt"

// rank orders the forward chain. errored sits outside it.
var rank = map[Status]int{
	StatusCreated:     0,
	StatusConverting:  1,
	StatusTranscribed: 2,
	StatusSynced:      3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusErrored {
		return true
	}
	_, ok := rank[s]
	return ok
}

// Final reports whether no further transition can leave s.
func (s Status) Final() bool {
	return s == StatusSynced
}

// CanTransition reports whether moving from -> to keeps the lifecycle monotonic.
// An empty from is treated as created. Self transitions are allowed so that
// redelivered events are no-ops. errored can only be left for synced, which
// records a retried saga that eventually succeeded.
func CanTransition(from, to Status) bool {
	if from == "" {
		from = StatusCreated
	}
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch {
	case from == StatusSynced:
		return false
	case to == StatusErrored:
		return true
	case from == StatusErrored:
		return to == StatusSynced
	}
	return rank[to] > rank[from]
}

// Transition validates from -> to and returns the resulting status.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}
