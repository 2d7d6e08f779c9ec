package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mindcast/pkg/assistant"
	"mindcast/pkg/bus"
	"mindcast/pkg/domain"
	"mindcast/pkg/lock"
	"mindcast/pkg/messages"
	"mindcast/pkg/store"
)

// fakeAPI is an in-memory Assistant API.
type fakeAPI struct {
	mu sync.Mutex

	createDelay time.Duration
	createErr   error
	getErr      error
	fileErr     error
	attachErr   error
	detachErr   error
	deleteErr   error

	// onCreate runs once, after an assistant is created and before it is returned.
	onCreate func()

	created     int
	seq         int
	vectorStore map[string]string // assistant id -> vector store id
	attached    map[string][]string
	detached    []string
	deleted     []string
	uploads     []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{vectorStore: make(map[string]string), attached: make(map[string][]string)}
}

func (f *fakeAPI) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeAPI) CreateAssistant(_ context.Context, userID string) (domain.AssistantRef, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.AssistantRef{}, f.createErr
	}
	f.created++
	ref := domain.AssistantRef{AssistantID: f.next("asst"), VectorStoreID: f.next("vs")}
	f.vectorStore[ref.AssistantID] = ref.VectorStoreID
	hook := f.onCreate
	f.onCreate = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	return ref, nil
}

func (f *fakeAPI) GetVectorStoreID(_ context.Context, assistantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	vs, ok := f.vectorStore[assistantID]
	if !ok {
		return "", fmt.Errorf("assistant %s: %w", assistantID, assistant.ErrNoVectorStore)
	}
	return vs, nil
}

func (f *fakeAPI) CreateFile(_ context.Context, sourceURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fileErr != nil {
		return "", f.fileErr
	}
	f.uploads = append(f.uploads, sourceURL)
	return f.next("file"), nil
}

func (f *fakeAPI) AttachFile(_ context.Context, vectorStoreID, storageFileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return "", f.attachErr
	}
	f.attached[vectorStoreID] = append(f.attached[vectorStoreID], storageFileID)
	return f.next("vsf"), nil
}

func (f *fakeAPI) DetachFile(_ context.Context, _, vectorStoreFileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, vectorStoreFileID)
	return f.detachErr
}

func (f *fakeAPI) DeleteFile(_ context.Context, storageFileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, storageFileID)
	return f.deleteErr
}

func (f *fakeAPI) attachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, files := range f.attached {
		n += len(files)
	}
	return n
}

// recordingBus captures published messages and never delivers.
type recordingBus struct {
	mu        sync.Mutex
	published []messages.Message
}

func (b *recordingBus) Publish(_ context.Context, msg messages.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, bus.SubscribeConfig, bus.Delivery) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) sent() []messages.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]messages.Message, len(b.published))
	copy(out, b.published)
	return out
}

type testEnv struct {
	app    *App
	api    *fakeAPI
	bus    *recordingBus
	store  *store.MemoryStore
	locker *lock.RedisLocker
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := miniredis.RunT(t)
	locker, err := lock.NewRedisLocker(lock.RedisLockerConfig{Addr: srv.Addr(), TTL: 10 * time.Second})
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	env := &testEnv{
		api:    newFakeAPI(),
		bus:    &recordingBus{},
		store:  store.NewMemoryStore(),
		locker: locker,
		redis:  srv,
	}
	a, err := New(Config{
		Store:   env.store,
		Bus:     env.bus,
		Locker:  locker,
		API:     env.api,
		Objects: fakePresigner{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

type fakePresigner struct{}

func (fakePresigner) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.local/" + key + "?sig=1", nil
}
