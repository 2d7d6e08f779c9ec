package store

import (
	"context"

	"mindcast/pkg/domain"
)

// AssistantDirectory maps a user to their assistant. Records are written once.
type AssistantDirectory interface {
	GetAssistant(ctx context.Context, userID string) (domain.AssistantRecord, bool, error)
	// PutAssistant inserts rec unless a record for the user already exists.
	PutAssistant(ctx context.Context, rec domain.AssistantRecord) error
}

// FileMutator edits a file in place. Returning an error aborts the update.
type FileMutator func(*domain.FileArtifact) error

// FileStore persists file artifacts.
type FileStore interface {
	SaveFile(ctx context.Context, f domain.FileArtifact) error
	GetFile(ctx context.Context, id string) (domain.FileArtifact, bool, error)
	ListFilesByUser(ctx context.Context, userID string) ([]domain.FileArtifact, error)
	// FindFilesByJobID returns every artifact correlated with jobID.
	FindFilesByJobID(ctx context.Context, jobID string) ([]domain.FileArtifact, error)
	// UpdateFile applies fn atomically. Missing ids return domain.ErrNotFound.
	UpdateFile(ctx context.Context, id string, fn FileMutator) (domain.FileArtifact, error)
	DeleteFile(ctx context.Context, id string) error
}

// EpisodeMutator edits an episode in place. Returning an error aborts the update.
type EpisodeMutator func(*domain.Episode) error

// EpisodeStore persists podcast episodes.
type EpisodeStore interface {
	SaveEpisode(ctx context.Context, e domain.Episode) error
	// InsertEpisode stores e unless the user already has an episode with the same
	// feed and guid. It returns the stored episode and whether e was inserted.
	InsertEpisode(ctx context.Context, e domain.Episode) (domain.Episode, bool, error)
	GetEpisode(ctx context.Context, id string) (domain.Episode, bool, error)
	FindEpisodeByGUID(ctx context.Context, userID, feedID, guid string) (domain.Episode, bool, error)
	ListEpisodesByFeed(ctx context.Context, userID, feedID string) ([]domain.Episode, error)
	UpdateEpisode(ctx context.Context, id string, fn EpisodeMutator) (domain.Episode, error)
	DeleteEpisode(ctx context.Context, id string) error
}

// SubscriptionStore persists the latest subscription per user.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub domain.Subscription) error
	GetSubscription(ctx context.Context, userID string) (domain.Subscription, bool, error)
	FindSubscriptionByID(ctx context.Context, subscriptionID string) (domain.Subscription, bool, error)
	DeleteSubscription(ctx context.Context, userID string) error
}

// Store is the union implemented by GormStore and MemoryStore.
type Store interface {
	AssistantDirectory
	FileStore
	EpisodeStore
	SubscriptionStore
}
