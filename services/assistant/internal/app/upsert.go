package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/lock"
	"mindcast/pkg/metrics"
)

// Upsert returns the user's assistant and vector store, creating both on first use.
// The read-or-create decision runs under the per-user lock. If the lease lapses
// while the assistant is being created, the directory's insert-if-absent decides
// the winner and the losing assistant is abandoned.
func (a *App) Upsert(ctx context.Context, userID string) (domain.AssistantRef, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.AssistantRef{}, fmt.Errorf("user id: %w", domain.ErrNotFound)
	}
	var ref domain.AssistantRef
	err := lock.WithLock(ctx, a.locker, userID, func(ctx context.Context) error {
		rec, ok, err := a.store.GetAssistant(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: read directory: %v", domain.ErrAssistantUpsertFailed, err)
		}
		if ok {
			vsID, err := a.api.GetVectorStoreID(ctx, rec.AssistantID)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrAssistantUpsertFailed, err)
			}
			ref = domain.AssistantRef{AssistantID: rec.AssistantID, VectorStoreID: vsID}
			return nil
		}

		created, err := a.api.CreateAssistant(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrAssistantUpsertFailed, err)
		}
		if err := a.store.PutAssistant(ctx, domain.AssistantRecord{UserID: userID, AssistantID: created.AssistantID}); err != nil {
			return fmt.Errorf("%w: write directory: %v", domain.ErrAssistantUpsertFailed, err)
		}
		stored, ok, err := a.store.GetAssistant(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: read directory: %v", domain.ErrAssistantUpsertFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: directory record for %s missing after write", domain.ErrAssistantUpsertFailed, userID)
		}
		logger := util.LoggerFromContext(ctx)
		if stored.AssistantID != created.AssistantID {
			logger.Warn("assistant orphaned by concurrent create",
				"user_id", userID,
				"assistant_id", stored.AssistantID,
				"orphan_assistant_id", created.AssistantID,
				"orphan_vector_store_id", created.VectorStoreID,
			)
			vsID, err := a.api.GetVectorStoreID(ctx, stored.AssistantID)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrAssistantUpsertFailed, err)
			}
			ref = domain.AssistantRef{AssistantID: stored.AssistantID, VectorStoreID: vsID}
			return nil
		}
		metrics.AssistantsCreated.Inc()
		logger.Info("assistant created", "user_id", userID, "assistant_id", created.AssistantID)
		ref = created
		return nil
	})
	if errors.Is(err, domain.ErrLockContention) {
		metrics.LockContention.Inc()
	}
	if err != nil {
		return domain.AssistantRef{}, err
	}
	return ref, nil
}
