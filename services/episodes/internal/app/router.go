package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

// Handle routes one decoded message for the episode stage.
func (a *App) Handle(ctx context.Context, msg messages.Message) (messages.Result, error) {
	switch m := msg.(type) {
	case messages.FeedCreated:
		return a.publishFeed(ctx, m.Feed)
	case messages.EpisodeReady:
		return a.persistReady(ctx, m)
	case messages.EpisodeTranscribed, messages.AssistantFileCreated, messages.AssistantFileError:
		return a.tracker.Handle(ctx, msg)
	default:
		return messages.NotHandled(), nil
	}
}

// persistReady stores a parsed episode once per (user, feed, guid) and
// announces it for transcription.
func (a *App) persistReady(ctx context.Context, m messages.EpisodeReady) (messages.Result, error) {
	if m.UserID == "" || m.FeedID == "" || m.GUID == "" {
		return messages.Result{}, fmt.Errorf("episode.ready missing user, feed or guid: %w", domain.ErrNotFound)
	}
	ep := newEpisode(m.UserID, m.FeedID)
	ep.Title = m.Title
	ep.Description = m.Description
	ep.Author = m.Author
	ep.URL = m.URL
	ep.PublishedAt = m.PublishedAt
	ep.Duration = m.Duration
	ep.GUID = m.GUID
	stored, inserted, err := a.store.InsertEpisode(ctx, ep)
	if err != nil {
		return messages.Result{}, fmt.Errorf("save episode: %w", err)
	}
	if !inserted {
		return messages.Handled("exists " + stored.ID), nil
	}
	if err := a.bus.Publish(ctx, messages.EpisodeCreated{Episode: &ep}); err != nil {
		// Drop the row so the redelivered episode.ready is not treated as a duplicate.
		if derr := a.store.DeleteEpisode(ctx, ep.ID); derr != nil {
			err = errors.Join(err, derr)
		}
		return messages.Result{}, err
	}
	util.LoggerFromContext(ctx).Info("episode created", "episode_id", ep.ID, "feed_id", ep.FeedID, "user_id", ep.UserID)
	return messages.Handled("created " + ep.ID), nil
}

func newEpisode(userID, feedID string) domain.Episode {
	now := time.Now().UTC()
	return domain.Episode{
		ID:                 util.NewRecordID(),
		UserID:             userID,
		FeedID:             feedID,
		NeedsTranscription: true,
		Status:             domain.StatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
