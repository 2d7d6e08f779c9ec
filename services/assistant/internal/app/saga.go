package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

// Sync attaches the content at sourceURL to the user's vector store and publishes
// assistant.file.created. Any failure publishes assistant.file.error for fileID and
// is returned so the delivery layer can retry. An assistant created along the way
// is kept for the next attempt.
func (a *App) Sync(ctx context.Context, sourceURL, userID, fileID string) (domain.SyncResult, error) {
	logger := util.LoggerFromContext(ctx).With("file_id", fileID, "user_id", userID)

	res, err := a.sync(ctx, sourceURL, userID, fileID)
	if err != nil {
		logger.Warn("assistant sync failed", "err", err)
		if pubErr := a.publisher.Publish(ctx, messages.AssistantFileError{FileID: fileID, Error: err.Error()}); pubErr != nil {
			return domain.SyncResult{}, errors.Join(err, fmt.Errorf("publish sync error: %w", pubErr))
		}
		return domain.SyncResult{}, err
	}
	if err := a.publisher.Publish(ctx, messages.AssistantFileCreated{
		FileID:            res.FileID,
		StorageFileID:     res.StorageFileID,
		VectorStoreID:     res.VectorStoreID,
		VectorStoreFileID: res.VectorStoreFileID,
	}); err != nil {
		return res, fmt.Errorf("publish sync result: %w", err)
	}
	logger.Info("assistant sync complete", "vector_store_id", res.VectorStoreID, "vector_store_file_id", res.VectorStoreFileID)
	return res, nil
}

func (a *App) sync(ctx context.Context, sourceURL, userID, fileID string) (domain.SyncResult, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return domain.SyncResult{}, fmt.Errorf("source url for %s: %w", fileID, domain.ErrNotFound)
	}
	ref, err := a.Upsert(ctx, userID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	storageFileID, err := a.api.CreateFile(ctx, sourceURL)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("store content: %w", err)
	}
	vsFileID, err := a.api.AttachFile(ctx, ref.VectorStoreID, storageFileID)
	if err != nil {
		if delErr := a.api.DeleteFile(ctx, storageFileID); delErr != nil {
			util.LoggerFromContext(ctx).Warn("orphaned storage file", "storage_file_id", storageFileID, "err", delErr)
		}
		return domain.SyncResult{}, fmt.Errorf("attach content: %w", err)
	}
	return domain.SyncResult{
		FileID:            fileID,
		StorageFileID:     storageFileID,
		VectorStoreID:     ref.VectorStoreID,
		VectorStoreFileID: vsFileID,
	}, nil
}

// republish re-emits a recorded sync result for an artifact that is already
// attached, so a redelivered creation event does not attach it twice.
func (a *App) republish(ctx context.Context, res domain.SyncResult) error {
	util.LoggerFromContext(ctx).Info("already synced, republishing result", "file_id", res.FileID)
	return a.publisher.Publish(ctx, messages.AssistantFileCreated{
		FileID:            res.FileID,
		StorageFileID:     res.StorageFileID,
		VectorStoreID:     res.VectorStoreID,
		VectorStoreFileID: res.VectorStoreFileID,
	})
}
