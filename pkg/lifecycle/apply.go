// Package lifecycle applies pipeline events to the status of file artifacts and
// episodes. Status changes go through domain.Transition; rejected changes leave
// the record untouched.
package lifecycle

import (
	"context"
	"errors"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/metrics"
)

// outcome of applying one event to one record.
type outcome int

const (
	applied outcome = iota
	rejected
	missing
)

// classify turns store update errors into outcomes. Invalid transitions and
// missing records are no-ops; anything else is returned.
func classify(ctx context.Context, kind, id string, to domain.Status, err error) (outcome, error) {
	logger := util.LoggerFromContext(ctx)
	switch {
	case err == nil:
		metrics.StatusTransitions.WithLabelValues(string(to), "applied").Inc()
		return applied, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		metrics.StatusTransitions.WithLabelValues(string(to), "rejected").Inc()
		logger.Info("status transition rejected", kind+"_id", id, "to", to, "err", err)
		return rejected, nil
	case errors.Is(err, domain.ErrNotFound):
		logger.Info("status update for unknown record", kind+"_id", id, "to", to)
		return missing, nil
	default:
		return applied, err
	}
}
