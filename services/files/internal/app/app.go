package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mindcast/internal/util"
	"mindcast/pkg/bus"
	"mindcast/pkg/domain"
	"mindcast/pkg/lifecycle"
	"mindcast/pkg/messages"
	"mindcast/pkg/storage"
	"mindcast/pkg/store"
)

const stageName = "files"

// directIngest lists extensions the assistant API indexes without conversion.
var directIngest = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".docx": true,
	".html": true, ".json": true, ".pptx": true,
}

// Config holds runtime configuration. Injected collaborators take precedence
// over the connection settings.
type Config struct {
	DatabaseURL string
	Store       store.FileStore

	Bus           bus.Bus
	BusDriver     string
	BusTopic      string
	RedisAddr     string
	RedisPassword string
	AMQPURL       string

	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int

	Objects        storage.ObjectStore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// App serves the files API and tracks file lifecycle events.
type App struct {
	store   store.FileStore
	bus     bus.Bus
	objects storage.ObjectStore
	tracker *lifecycle.FileTracker

	group         string
	concurrency   int
	maxRetries    int
	retryDelay    time.Duration
	presignExpiry time.Duration
	closers       []func() error
}

// New wires the files stage from cfg.
func New(cfg Config) (*App, error) {
	a := &App{
		group:         strings.TrimSpace(cfg.QueueGroup),
		concurrency:   cfg.QueueConcurrency,
		maxRetries:    cfg.QueueMaxRetries,
		retryDelay:    time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		presignExpiry: storage.DefaultPresignExpiry,
	}
	if a.group == "" {
		a.group = stageName
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = gs
		a.closers = append(a.closers, gs.Close)
	}

	a.bus = cfg.Bus
	if a.bus == nil {
		b, err := bus.New(bus.Config{
			Driver:        cfg.BusDriver,
			Topic:         cfg.BusTopic,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			AMQPURL:       cfg.AMQPURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init bus: %w", err)
		}
		a.bus = b
		a.closers = append(a.closers, b.Close)
	}

	a.objects = cfg.Objects
	if a.objects == nil && strings.TrimSpace(cfg.MinioEndpoint) != "" {
		m, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		a.objects = m
	}

	var remover lifecycle.ObjectRemover
	if a.objects != nil {
		remover = a.objects
	}
	a.tracker = lifecycle.NewFileTracker(a.store, remover)
	return a, nil
}

// Start subscribes the lifecycle tracker.
func (a *App) Start(ctx context.Context) error {
	return a.bus.Subscribe(ctx, bus.SubscribeConfig{
		Group:       a.group,
		Concurrency: a.concurrency,
		MaxRetries:  a.maxRetries,
		RetryDelay:  a.retryDelay,
	}, bus.Dispatch(stageName, a.tracker.Handle))
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// RegisterFile records a file already hosted at sourceURL and announces it.
func (a *App) RegisterFile(ctx context.Context, userID, fileName, sourceURL string) (domain.FileArtifact, error) {
	fileName = strings.TrimSpace(fileName)
	sourceURL = strings.TrimSpace(sourceURL)
	if fileName == "" || sourceURL == "" {
		return domain.FileArtifact{}, fmt.Errorf("%w: file_name and url required", ErrInvalidRequest)
	}
	f := newArtifact(userID, fileName)
	f.SourceURL = sourceURL
	return a.create(ctx, f)
}

// UploadFile stores the upload and announces it. Formats the assistant cannot
// index directly are announced without a url and synced after conversion.
func (a *App) UploadFile(ctx context.Context, userID, fileName string, r io.Reader, size int64) (domain.FileArtifact, error) {
	fileName = strings.TrimSpace(filepath.Base(fileName))
	if fileName == "" || fileName == "." {
		return domain.FileArtifact{}, fmt.Errorf("%w: filename required", ErrInvalidRequest)
	}
	if a.objects == nil {
		return domain.FileArtifact{}, errors.New("uploads need object storage")
	}
	f := newArtifact(userID, fileName)
	f.Key = buildStorageKey(userID, f.ID, fileName)
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, f.Key, r, size, contentType); err != nil {
		return domain.FileArtifact{}, fmt.Errorf("save upload: %w", err)
	}
	if directIngest[ext] {
		url, err := a.objects.PresignGet(ctx, f.Key, a.presignExpiry)
		if err != nil {
			_ = a.objects.Delete(ctx, f.Key)
			return domain.FileArtifact{}, err
		}
		f.SourceURL = url
	}
	created, err := a.create(ctx, f)
	if err != nil && !errors.Is(err, ErrPublishFailed) {
		_ = a.objects.Delete(ctx, f.Key)
	}
	return created, err
}

func (a *App) create(ctx context.Context, f domain.FileArtifact) (domain.FileArtifact, error) {
	if err := a.store.SaveFile(ctx, f); err != nil {
		return domain.FileArtifact{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.bus.Publish(ctx, messages.FileCreated{File: &f}); err != nil {
		stored, _ := a.store.UpdateFile(ctx, f.ID, func(cur *domain.FileArtifact) error {
			cur.Status = domain.StatusErrored
			cur.Error = err.Error()
			return nil
		})
		return stored, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	util.LoggerFromContext(ctx).Info("file created", "file_id", f.ID, "user_id", f.UserID)
	return f, nil
}

// ListFiles returns the user's files.
func (a *App) ListFiles(ctx context.Context, userID string) ([]domain.FileArtifact, error) {
	return a.store.ListFilesByUser(ctx, userID)
}

// GetFile returns one of the user's files.
func (a *App) GetFile(ctx context.Context, userID, id string) (domain.FileArtifact, error) {
	f, ok, err := a.store.GetFile(ctx, id)
	if err != nil {
		return domain.FileArtifact{}, err
	}
	if !ok || f.UserID != userID {
		return domain.FileArtifact{}, ErrFileNotFound
	}
	return f, nil
}

// RenameFile changes the file name and announces the update.
func (a *App) RenameFile(ctx context.Context, userID, id, fileName string) (domain.FileArtifact, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return domain.FileArtifact{}, fmt.Errorf("%w: file_name required", ErrInvalidRequest)
	}
	if _, err := a.GetFile(ctx, userID, id); err != nil {
		return domain.FileArtifact{}, err
	}
	updated, err := a.store.UpdateFile(ctx, id, func(f *domain.FileArtifact) error {
		f.FileName = fileName
		return nil
	})
	if err != nil {
		return domain.FileArtifact{}, err
	}
	if err := a.bus.Publish(ctx, messages.FileUpdated{File: &updated}); err != nil {
		return updated, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return updated, nil
}

// DeleteFile removes the record and announces the deletion with every external
// id, so the sync stage can detach and delete the stored content.
func (a *App) DeleteFile(ctx context.Context, userID, id string) error {
	f, err := a.GetFile(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteFile(ctx, id); err != nil {
		return err
	}
	if err := a.bus.Publish(ctx, messages.FileDeleted{File: &f}); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	util.LoggerFromContext(ctx).Info("file deleted", "file_id", id, "user_id", userID)
	return nil
}

// DownloadURL presigns the stored upload, falling back to the source url.
func (a *App) DownloadURL(ctx context.Context, f domain.FileArtifact) string {
	if a.objects != nil && f.Key != "" {
		if url, err := a.objects.PresignGet(ctx, f.Key, a.presignExpiry); err == nil {
			return url
		}
	}
	return f.SourceURL
}

func newArtifact(userID, fileName string) domain.FileArtifact {
	now := time.Now().UTC()
	return domain.FileArtifact{
		ID:        util.NewRecordID(),
		UserID:    userID,
		FileName:  fileName,
		Status:    domain.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func buildStorageKey(userID, fileID, fileName string) string {
	name := sanitizeFilename(fileName)
	if name == "" {
		name = "file"
	}
	return path.Join("uploads", sanitizeFilename(userID), fileID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
