package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mindcast/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and single-process runs.
type MemoryStore struct {
	mu            sync.RWMutex
	assistants    map[string]domain.AssistantRecord // key: user ID
	files         map[string]domain.FileArtifact
	episodes      map[string]domain.Episode
	subscriptions map[string]domain.Subscription // key: user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assistants:    make(map[string]domain.AssistantRecord),
		files:         make(map[string]domain.FileArtifact),
		episodes:      make(map[string]domain.Episode),
		subscriptions: make(map[string]domain.Subscription),
	}
}

func (m *MemoryStore) GetAssistant(_ context.Context, userID string) (domain.AssistantRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.assistants[userID]
	return rec, ok, nil
}

func (m *MemoryStore) PutAssistant(_ context.Context, rec domain.AssistantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.assistants[rec.UserID]; exists {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.assistants[rec.UserID] = rec
	return nil
}

// AssistantCount returns the number of assistant records.
func (m *MemoryStore) AssistantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assistants)
}

func (m *MemoryStore) SaveFile(_ context.Context, f domain.FileArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	m.files[f.ID] = cloneFile(f)
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, id string) (domain.FileArtifact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return cloneFile(f), ok, nil
}

func (m *MemoryStore) ListFilesByUser(_ context.Context, userID string) ([]domain.FileArtifact, error) {
	return m.filterFiles(func(f domain.FileArtifact) bool { return f.UserID == userID }), nil
}

func (m *MemoryStore) FindFilesByJobID(_ context.Context, jobID string) ([]domain.FileArtifact, error) {
	if jobID == "" {
		return nil, nil
	}
	return m.filterFiles(func(f domain.FileArtifact) bool { return f.JobID == jobID }), nil
}

func (m *MemoryStore) filterFiles(keep func(domain.FileArtifact) bool) []domain.FileArtifact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.FileArtifact, 0)
	for _, f := range m.files {
		if keep(f) {
			res = append(res, cloneFile(f))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func (m *MemoryStore) UpdateFile(_ context.Context, id string, fn FileMutator) (domain.FileArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.files[id]
	if !ok {
		return domain.FileArtifact{}, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	next := cloneFile(current)
	if err := fn(&next); err != nil {
		return cloneFile(current), err
	}
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	m.files[id] = next
	return cloneFile(next), nil
}

func (m *MemoryStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *MemoryStore) SaveEpisode(_ context.Context, e domain.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	m.episodes[e.ID] = e
	return nil
}

func (m *MemoryStore) InsertEpisode(_ context.Context, e domain.Episode) (domain.Episode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.episodes {
		if existing.UserID == e.UserID && existing.FeedID == e.FeedID && existing.GUID == e.GUID {
			return existing, false, nil
		}
	}
	if existing, ok := m.episodes[e.ID]; ok {
		return existing, false, nil
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	m.episodes[e.ID] = e
	return e, true, nil
}

func (m *MemoryStore) GetEpisode(_ context.Context, id string) (domain.Episode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.episodes[id]
	return e, ok, nil
}

func (m *MemoryStore) FindEpisodeByGUID(_ context.Context, userID, feedID, guid string) (domain.Episode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.episodes {
		if e.UserID == userID && e.FeedID == feedID && e.GUID == guid {
			return e, true, nil
		}
	}
	return domain.Episode{}, false, nil
}

func (m *MemoryStore) ListEpisodesByFeed(_ context.Context, userID, feedID string) ([]domain.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Episode, 0)
	for _, e := range m.episodes {
		if e.UserID == userID && e.FeedID == feedID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) UpdateEpisode(_ context.Context, id string, fn EpisodeMutator) (domain.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.episodes[id]
	if !ok {
		return domain.Episode{}, fmt.Errorf("episode %s: %w", id, domain.ErrNotFound)
	}
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	m.episodes[id] = next
	return next, nil
}

func (m *MemoryStore) DeleteEpisode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.episodes, id)
	return nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	m.subscriptions[sub.UserID] = sub
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, userID string) (domain.Subscription, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[userID]
	return sub, ok, nil
}

func (m *MemoryStore) FindSubscriptionByID(_ context.Context, subscriptionID string) (domain.Subscription, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscriptions {
		if sub.SubscriptionID == subscriptionID {
			return sub, true, nil
		}
	}
	return domain.Subscription{}, false, nil
}

func (m *MemoryStore) DeleteSubscription(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, userID)
	return nil
}

func cloneFile(f domain.FileArtifact) domain.FileArtifact {
	if f.Metadata != nil {
		meta := make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			meta[k] = v
		}
		f.Metadata = meta
	}
	return f
}
