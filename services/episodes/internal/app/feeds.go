package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

// publishFeed fetches the feed and announces every item as episode.ready.
// Items without any stable identity are skipped.
func (a *App) publishFeed(ctx context.Context, feed *domain.Feed) (messages.Result, error) {
	if feed == nil {
		return messages.Result{}, fmt.Errorf("feed.created payload: %w", domain.ErrNotFound)
	}
	if strings.TrimSpace(feed.URL) == "" || strings.TrimSpace(feed.UserID) == "" {
		return messages.Result{}, fmt.Errorf("feed.created %s missing url or user: %w", feed.ID, domain.ErrNotFound)
	}
	parsed, err := a.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return messages.Result{}, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	ready := make([]messages.EpisodeReady, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		ev, ok := episodeFromItem(feed, parsed, item)
		if !ok {
			continue
		}
		ready = append(ready, ev)
	}

	var g errgroup.Group
	g.SetLimit(a.publishConcurrency)
	for _, ev := range ready {
		g.Go(func() error {
			return a.bus.Publish(ctx, ev)
		})
	}
	if err := g.Wait(); err != nil {
		return messages.Result{}, fmt.Errorf("publish episodes for feed %s: %w", feed.ID, err)
	}
	util.LoggerFromContext(ctx).Info("feed parsed", "feed_id", feed.ID, "user_id", feed.UserID, "episodes", len(ready))
	return messages.Handled(fmt.Sprintf("published %d episodes", len(ready))), nil
}

func episodeFromItem(feed *domain.Feed, parsed *gofeed.Feed, item *gofeed.Item) (messages.EpisodeReady, bool) {
	if item == nil {
		return messages.EpisodeReady{}, false
	}
	url := item.Link
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			url = enc.URL
			break
		}
	}
	guid := firstNonEmpty(item.GUID, item.Link, url)
	if guid == "" {
		return messages.EpisodeReady{}, false
	}
	ev := messages.EpisodeReady{
		UserID:      feed.UserID,
		FeedID:      feed.ID,
		Title:       strings.TrimSpace(item.Title),
		Description: plainText(firstNonEmpty(item.Description, item.Content)),
		URL:         url,
		PublishedAt: item.Published,
		GUID:        guid,
	}
	if item.PublishedParsed != nil {
		ev.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	switch {
	case item.Author != nil && item.Author.Name != "":
		ev.Author = item.Author.Name
	case item.ITunesExt != nil && item.ITunesExt.Author != "":
		ev.Author = item.ITunesExt.Author
	case parsed.Author != nil:
		ev.Author = parsed.Author.Name
	}
	if item.ITunesExt != nil {
		ev.Duration = item.ITunesExt.Duration
	}
	return ev, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
