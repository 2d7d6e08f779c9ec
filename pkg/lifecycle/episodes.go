package lifecycle

import (
	"context"
	"fmt"

	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
	"mindcast/pkg/store"
)

// EpisodeTracker records transcription and assistant events against episodes.
type EpisodeTracker struct {
	episodes store.EpisodeStore
}

func NewEpisodeTracker(episodes store.EpisodeStore) *EpisodeTracker {
	return &EpisodeTracker{episodes: episodes}
}

// Handle applies one message. Unrelated types return messages.NotHandled.
func (t *EpisodeTracker) Handle(ctx context.Context, msg messages.Message) (messages.Result, error) {
	switch m := msg.(type) {
	case messages.EpisodeTranscribed:
		if m.Episode == nil {
			return messages.Result{}, fmt.Errorf("episode.transcribed payload: %w", domain.ErrNotFound)
		}
		url := m.Episode.TranscriptURL
		return t.apply(ctx, m.Episode.ID, domain.StatusTranscribed, func(e *domain.Episode) {
			e.TranscriptURL = url
			e.NeedsTranscription = false
		})
	case messages.AssistantFileCreated:
		return t.apply(ctx, m.FileID, domain.StatusSynced, func(e *domain.Episode) {
			e.StorageFileID = m.StorageFileID
			e.VectorStoreID = m.VectorStoreID
			e.VectorStoreFileID = m.VectorStoreFileID
			e.Error = ""
		})
	case messages.AssistantFileError:
		reason := m.Error
		return t.apply(ctx, m.FileID, domain.StatusErrored, func(e *domain.Episode) {
			e.Error = reason
		})
	default:
		return messages.NotHandled(), nil
	}
}

func (t *EpisodeTracker) apply(ctx context.Context, id string, to domain.Status, mutate func(*domain.Episode)) (messages.Result, error) {
	_, err := t.episodes.UpdateEpisode(ctx, id, func(e *domain.Episode) error {
		next, err := domain.Transition(e.Status, to)
		if err != nil {
			return err
		}
		e.Status = next
		mutate(e)
		return nil
	})
	res, err := classify(ctx, "episode", id, to, err)
	if err != nil {
		return messages.Result{}, err
	}
	switch res {
	case missing:
		return messages.Handled("no matching episode"), nil
	case rejected:
		return messages.Handled("transition rejected"), nil
	}
	return messages.Handled(string(to)), nil
}
