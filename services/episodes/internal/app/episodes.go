package app

import (
	"context"
	"fmt"
	"strings"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

// EpisodeInput is the caller-supplied part of a manually created episode.
type EpisodeInput struct {
	FeedID      string `json:"feed_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Duration    string `json:"duration"`
	GUID        string `json:"guid"`
}

// SubscribeFeed announces a new feed for the user. Parsing happens on the
// feed.created consumer.
func (a *App) SubscribeFeed(ctx context.Context, userID, url string) (domain.Feed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.Feed{}, fmt.Errorf("%w: url required", ErrInvalidRequest)
	}
	feed := domain.Feed{ID: util.NewRecordID(), UserID: userID, URL: url}
	if err := a.bus.Publish(ctx, messages.FeedCreated{Feed: &feed}); err != nil {
		return domain.Feed{}, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return feed, nil
}

// ListEpisodes returns the user's episodes for one feed.
func (a *App) ListEpisodes(ctx context.Context, userID, feedID string) ([]domain.Episode, error) {
	return a.store.ListEpisodesByFeed(ctx, userID, feedID)
}

// GetEpisode returns one of the user's episodes.
func (a *App) GetEpisode(ctx context.Context, userID, id string) (domain.Episode, error) {
	ep, ok, err := a.store.GetEpisode(ctx, id)
	if err != nil {
		return domain.Episode{}, err
	}
	if !ok || ep.UserID != userID {
		return domain.Episode{}, ErrEpisodeNotFound
	}
	return ep, nil
}

// CreateEpisode stores a manually added episode and announces it.
func (a *App) CreateEpisode(ctx context.Context, userID string, in EpisodeInput) (domain.Episode, error) {
	in.FeedID = strings.TrimSpace(in.FeedID)
	in.URL = strings.TrimSpace(in.URL)
	if in.FeedID == "" || in.URL == "" {
		return domain.Episode{}, fmt.Errorf("%w: feed_id and url required", ErrInvalidRequest)
	}
	guid := firstNonEmpty(in.GUID, in.URL)
	ep := newEpisode(userID, in.FeedID)
	ep.Title = strings.TrimSpace(in.Title)
	ep.Description = in.Description
	ep.Author = in.Author
	ep.URL = in.URL
	ep.PublishedAt = in.PublishedAt
	ep.Duration = in.Duration
	ep.GUID = guid
	_, inserted, err := a.store.InsertEpisode(ctx, ep)
	if err != nil {
		return domain.Episode{}, fmt.Errorf("save episode: %w", err)
	}
	if !inserted {
		return domain.Episode{}, ErrEpisodeExists
	}
	if err := a.bus.Publish(ctx, messages.EpisodeCreated{Episode: &ep}); err != nil {
		return ep, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return ep, nil
}

// UpdateEpisodeTitle renames the episode and announces the update.
func (a *App) UpdateEpisodeTitle(ctx context.Context, userID, id, title string) (domain.Episode, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Episode{}, fmt.Errorf("%w: title required", ErrInvalidRequest)
	}
	if _, err := a.GetEpisode(ctx, userID, id); err != nil {
		return domain.Episode{}, err
	}
	updated, err := a.store.UpdateEpisode(ctx, id, func(e *domain.Episode) error {
		e.Title = title
		return nil
	})
	if err != nil {
		return domain.Episode{}, err
	}
	if err := a.bus.Publish(ctx, messages.EpisodeUpdated{Episode: &updated}); err != nil {
		return updated, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return updated, nil
}

// DeleteEpisode removes the episode and announces the deletion with its
// assistant ids.
func (a *App) DeleteEpisode(ctx context.Context, userID, id string) error {
	ep, err := a.GetEpisode(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteEpisode(ctx, id); err != nil {
		return err
	}
	if err := a.bus.Publish(ctx, messages.EpisodeDeleted{Episode: &ep}); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	util.LoggerFromContext(ctx).Info("episode deleted", "episode_id", id, "user_id", userID)
	return nil
}
