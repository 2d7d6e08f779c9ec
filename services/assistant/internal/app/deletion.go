package app

import (
	"context"
	"errors"
	"fmt"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
)

// Attachment names the external resources backing one synced artifact.
type Attachment struct {
	ID                string
	StorageFileID     string
	VectorStoreID     string
	VectorStoreFileID string
}

// DeleteAttachment detaches the file from its vector store and deletes the stored
// content. Both steps run even when the first fails; any failure is reported as
// domain.ErrPartialDeletion wrapping each step's error.
func (a *App) DeleteAttachment(ctx context.Context, att Attachment) error {
	logger := util.LoggerFromContext(ctx).With("file_id", att.ID)
	var errs []error
	if att.VectorStoreID != "" && att.VectorStoreFileID != "" {
		if err := a.api.DetachFile(ctx, att.VectorStoreID, att.VectorStoreFileID); err != nil {
			errs = append(errs, fmt.Errorf("detach from vector store: %w", err))
		}
	}
	if att.StorageFileID != "" {
		if err := a.api.DeleteFile(ctx, att.StorageFileID); err != nil {
			errs = append(errs, fmt.Errorf("delete stored content: %w", err))
		}
	}
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %s: %w", domain.ErrPartialDeletion, att.ID, errors.Join(errs...))
		logger.Error("attachment deletion incomplete", "err", err)
		return err
	}
	logger.Info("attachment deleted")
	return nil
}
