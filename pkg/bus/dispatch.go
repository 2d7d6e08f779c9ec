package bus

import (
	"context"
	"strconv"

	"mindcast/internal/util"
	"mindcast/pkg/messages"
	"mindcast/pkg/metrics"
)

// Dispatch adapts a stage's message handler to a bus Delivery. It decodes the
// transport envelope and the inner message, then hands the typed variant to h.
// Unhandled types are acknowledged.
func Dispatch(stage string, h messages.Handler) Delivery {
	return func(ctx context.Context, body []byte) error {
		msg, env, err := messages.Unwrap(body)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("dropping malformed message", "stage", stage, "err", err)
			return err
		}
		logger := util.LoggerFromContext(ctx).With("stage", stage, "type", msg.MessageType())
		if env.MessageID != "" {
			logger = logger.With("message_id", env.MessageID)
		}
		ctx = util.ContextWithLogger(ctx, logger)

		res, err := h(ctx, msg)
		metrics.MessagesRouted.WithLabelValues(stage, msg.MessageType(), strconv.FormatBool(res.Handled)).Inc()
		if err != nil {
			return err
		}
		if !res.Handled {
			logger.Info("unhandled message type")
		}
		return nil
	}
}
