package lifecycle

import (
	"context"
	"testing"

	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
	"mindcast/pkg/store"
)

func TestEpisodeTrackerTranscribedThenSynced(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	if err := s.SaveEpisode(ctx, domain.Episode{ID: "e1", UserID: "u1", FeedID: "feed-1", Status: domain.StatusCreated, NeedsTranscription: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tr := NewEpisodeTracker(s)

	if _, err := tr.Handle(ctx, messages.EpisodeTranscribed{Episode: &domain.Episode{ID: "e1", UserID: "u1", TranscriptURL: "https://cdn.example.com/e1.txt"}}); err != nil {
		t.Fatalf("transcribed: %v", err)
	}
	if _, err := tr.Handle(ctx, messages.AssistantFileCreated{FileID: "e1", StorageFileID: "file_9", VectorStoreID: "vs_1", VectorStoreFileID: "vsf_9"}); err != nil {
		t.Fatalf("assistant created: %v", err)
	}

	e, _, _ := s.GetEpisode(ctx, "e1")
	if e.Status != domain.StatusSynced || e.NeedsTranscription || e.TranscriptURL == "" || e.VectorStoreFileID != "vsf_9" {
		t.Fatalf("unexpected episode: %+v", e)
	}

	res, err := tr.Handle(ctx, messages.AssistantFileError{FileID: "e1", Error: "late"})
	if err != nil || !res.Handled {
		t.Fatalf("late error: %+v err=%v", res, err)
	}
	e, _, _ = s.GetEpisode(ctx, "e1")
	if e.Status != domain.StatusSynced {
		t.Fatalf("synced episode regressed to %s", e.Status)
	}
}

func TestEpisodeTrackerIgnoresFileEvents(t *testing.T) {
	tr := NewEpisodeTracker(store.NewMemoryStore())
	res, err := tr.Handle(context.Background(), messages.ConversionFinished{JobID: "J1", TxtKey: "t"})
	if err != nil || res.Handled {
		t.Fatalf("expected not handled, got %+v err=%v", res, err)
	}
	res, err = tr.Handle(context.Background(), messages.AssistantFileCreated{FileID: "f1"})
	if err != nil || res.Body != "no matching episode" {
		t.Fatalf("expected no matching episode, got %+v err=%v", res, err)
	}
}
