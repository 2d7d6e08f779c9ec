package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
	"mindcast/pkg/metrics"
	"mindcast/pkg/storage"
)

// Handle routes one decoded message. Types this stage does not consume return
// messages.NotHandled with a nil error.
func (a *App) Handle(ctx context.Context, msg messages.Message) (messages.Result, error) {
	switch m := msg.(type) {
	case messages.FileCreated:
		return a.handleFileCreated(ctx, m.File)
	case messages.FileDeleted:
		return a.handleFileDeleted(ctx, m.File)
	case messages.EpisodeTranscribed:
		return a.handleEpisodeTranscribed(ctx, m.Episode)
	case messages.EpisodeDeleted:
		return a.handleEpisodeDeleted(ctx, m.Episode)
	case messages.ConversionFinished:
		return a.handleConversionFinished(ctx, m.JobID, m.TxtKey)
	default:
		return messages.NotHandled(), nil
	}
}

func (a *App) handleFileCreated(ctx context.Context, f *domain.FileArtifact) (messages.Result, error) {
	if f == nil {
		return messages.Result{}, fmt.Errorf("file.created payload: %w", domain.ErrNotFound)
	}
	if f.SourceURL == "" {
		// Converted on arrival of document.conversion.finished.
		return messages.Handled("awaiting conversion"), nil
	}
	return a.syncFile(ctx, f.ID, f.UserID, f.SourceURL)
}

func (a *App) syncFile(ctx context.Context, fileID, userID, sourceURL string) (messages.Result, error) {
	stored, ok, err := a.store.GetFile(ctx, fileID)
	if err != nil {
		return messages.Result{}, err
	}
	if ok && stored.IsReady() && stored.VectorStoreFileID != "" {
		metrics.SagaOutcomes.WithLabelValues("file", "duplicate").Inc()
		return messages.Handled("already synced"), a.republish(ctx, domain.SyncResult{
			FileID:            stored.ID,
			StorageFileID:     stored.StorageFileID,
			VectorStoreID:     stored.VectorStoreID,
			VectorStoreFileID: stored.VectorStoreFileID,
		})
	}
	if _, err := a.Sync(ctx, sourceURL, userID, fileID); err != nil {
		metrics.SagaOutcomes.WithLabelValues("file", "error").Inc()
		return messages.Result{}, err
	}
	metrics.SagaOutcomes.WithLabelValues("file", "synced").Inc()
	return messages.Handled("synced"), nil
}

func (a *App) handleFileDeleted(ctx context.Context, f *domain.FileArtifact) (messages.Result, error) {
	if f == nil {
		return messages.Result{}, fmt.Errorf("file.deleted payload: %w", domain.ErrNotFound)
	}
	err := a.DeleteAttachment(ctx, Attachment{
		ID:                f.ID,
		StorageFileID:     f.StorageFileID,
		VectorStoreID:     f.VectorStoreID,
		VectorStoreFileID: f.VectorStoreFileID,
	})
	if err != nil {
		return messages.Result{}, err
	}
	return messages.Handled("deleted"), nil
}

func (a *App) handleEpisodeTranscribed(ctx context.Context, e *domain.Episode) (messages.Result, error) {
	if e == nil {
		return messages.Result{}, fmt.Errorf("episode.transcribed payload: %w", domain.ErrNotFound)
	}
	stored, ok, err := a.store.GetEpisode(ctx, e.ID)
	if err != nil {
		return messages.Result{}, err
	}
	if ok && stored.Status == domain.StatusSynced && stored.VectorStoreFileID != "" {
		metrics.SagaOutcomes.WithLabelValues("episode", "duplicate").Inc()
		return messages.Handled("already synced"), a.republish(ctx, domain.SyncResult{
			FileID:            stored.ID,
			StorageFileID:     stored.StorageFileID,
			VectorStoreID:     stored.VectorStoreID,
			VectorStoreFileID: stored.VectorStoreFileID,
		})
	}
	if _, err := a.Sync(ctx, e.TranscriptURL, e.UserID, e.ID); err != nil {
		metrics.SagaOutcomes.WithLabelValues("episode", "error").Inc()
		return messages.Result{}, err
	}
	metrics.SagaOutcomes.WithLabelValues("episode", "synced").Inc()
	return messages.Handled("synced"), nil
}

func (a *App) handleEpisodeDeleted(ctx context.Context, e *domain.Episode) (messages.Result, error) {
	if e == nil {
		return messages.Result{}, fmt.Errorf("episode.deleted payload: %w", domain.ErrNotFound)
	}
	err := a.DeleteAttachment(ctx, Attachment{
		ID:                e.ID,
		StorageFileID:     e.StorageFileID,
		VectorStoreID:     e.VectorStoreID,
		VectorStoreFileID: e.VectorStoreFileID,
	})
	if err != nil {
		return messages.Result{}, err
	}
	return messages.Handled("deleted"), nil
}

// handleConversionFinished syncs every artifact correlated with jobID using the
// converted transcript. Users are processed in parallel and each user's files in
// order, so siblings do not contend for the same assistant lock. Each artifact
// reports its own success or error event.
func (a *App) handleConversionFinished(ctx context.Context, jobID, txtKey string) (messages.Result, error) {
	files, err := a.store.FindFilesByJobID(ctx, jobID)
	if err != nil {
		return messages.Result{}, err
	}
	if len(files) == 0 {
		util.LoggerFromContext(ctx).Info("no files for conversion job", "job_id", jobID)
		return messages.Handled("no matching files"), nil
	}
	byUser, order := groupByUser(files)
	if len(order) > 1 {
		util.LoggerFromContext(ctx).Warn("conversion job spans several users", "job_id", jobID, "users", len(order))
	}
	sourceURL, err := storage.ResolveURL(ctx, a.objects, txtKey, storage.DefaultPresignExpiry)
	if err != nil {
		return messages.Result{}, fmt.Errorf("resolve transcript %s: %w", txtKey, err)
	}

	var g errgroup.Group
	g.SetLimit(a.syncConcurrency)
	for _, userID := range order {
		owned := byUser[userID]
		g.Go(func() error {
			var errs []error
			for _, f := range owned {
				if _, err := a.syncFile(ctx, f.ID, f.UserID, sourceURL); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		})
	}
	if err := g.Wait(); err != nil {
		return messages.Result{}, err
	}
	return messages.Handled(fmt.Sprintf("synced %d files", len(files))), nil
}

func groupByUser(files []domain.FileArtifact) (map[string][]domain.FileArtifact, []string) {
	byUser := make(map[string][]domain.FileArtifact)
	var order []string
	for _, f := range files {
		if _, seen := byUser[f.UserID]; !seen {
			order = append(order, f.UserID)
		}
		byUser[f.UserID] = append(byUser[f.UserID], f)
	}
	return byUser, order
}
