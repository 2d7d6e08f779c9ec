package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"mindcast/pkg/domain"
)

const migrateLockID int64 = 51155115

// GormStore implements Store using GORM. Postgres in production, sqlite for tests
// and single-node setups.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB selected by dsn and runs auto-migrations.
// postgres:// URLs and key=value DSNs use Postgres; anything else is a sqlite path.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AssistantModel{}, &FileModel{}, &EpisodeModel{}, &SubscriptionModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isPostgres(db) {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(dsn)
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	dsn = strings.TrimPrefix(dsn, "sqlite:")
	return sqlite.Open(dsn)
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// forUpdate adds a row lock where the dialect supports one.
func (s *GormStore) forUpdate(tx *gorm.DB) *gorm.DB {
	if isPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// GetAssistant returns the user's assistant record.
func (s *GormStore) GetAssistant(ctx context.Context, userID string) (domain.AssistantRecord, bool, error) {
	var model AssistantModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AssistantRecord{}, false, nil
		}
		return domain.AssistantRecord{}, false, err
	}
	return domain.AssistantRecord{UserID: model.UserID, AssistantID: model.AssistantID, CreatedAt: model.CreatedAt}, true, nil
}

// PutAssistant inserts the record; an existing record for the user is kept.
func (s *GormStore) PutAssistant(ctx context.Context, rec domain.AssistantRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	model := AssistantModel{UserID: rec.UserID, AssistantID: rec.AssistantID, CreatedAt: rec.CreatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// SaveFile stores or replaces a file record.
func (s *GormStore) SaveFile(ctx context.Context, f domain.FileArtifact) error {
	model, err := fileToModel(f)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "file_name", "storage_key", "source_url", "job_id", "transcript_key",
			"storage_file_id", "vector_store_id", "vector_store_file_id", "status", "error_message",
			"metadata", "updated_at",
		}),
	}).Create(&model).Error
}

// GetFile returns a file by ID.
func (s *GormStore) GetFile(ctx context.Context, id string) (domain.FileArtifact, bool, error) {
	var model FileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileArtifact{}, false, nil
		}
		return domain.FileArtifact{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFilesByUser returns the user's files ordered by created_at.
func (s *GormStore) ListFilesByUser(ctx context.Context, userID string) ([]domain.FileArtifact, error) {
	return s.listFiles(ctx, "user_id = ?", userID)
}

// FindFilesByJobID returns every file correlated with jobID.
func (s *GormStore) FindFilesByJobID(ctx context.Context, jobID string) ([]domain.FileArtifact, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil
	}
	return s.listFiles(ctx, "job_id = ?", jobID)
}

func (s *GormStore) listFiles(ctx context.Context, query string, args ...any) ([]domain.FileArtifact, error) {
	var models []FileModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileArtifact, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// UpdateFile loads the file, applies fn, and writes it back in one transaction.
// When fn fails the stored record is returned unchanged alongside the error.
func (s *GormStore) UpdateFile(ctx context.Context, id string, fn FileMutator) (domain.FileArtifact, error) {
	var out domain.FileArtifact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model FileModel
		if err := s.forUpdate(tx).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
			}
			return err
		}
		out = fileFromModel(model)
		next := out
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = id
		next.UpdatedAt = time.Now().UTC()
		updated, err := fileToModel(next)
		if err != nil {
			return err
		}
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// DeleteFile removes a file record.
func (s *GormStore) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&FileModel{}, "id = ?", id).Error
}

// SaveEpisode stores or replaces an episode.
func (s *GormStore) SaveEpisode(ctx context.Context, e domain.Episode) error {
	model := episodeToModel(e)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// InsertEpisode inserts e; a conflict on (user_id, feed_id, guid) returns the existing row.
func (s *GormStore) InsertEpisode(ctx context.Context, e domain.Episode) (domain.Episode, bool, error) {
	model := episodeToModel(e)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return domain.Episode{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return episodeFromModel(model), true, nil
	}
	existing, ok, err := s.FindEpisodeByGUID(ctx, e.UserID, e.FeedID, e.GUID)
	if err != nil {
		return domain.Episode{}, false, err
	}
	if !ok {
		return domain.Episode{}, false, fmt.Errorf("insert episode %s: conflicting row not found", e.ID)
	}
	return existing, false, nil
}

// GetEpisode returns an episode by ID.
func (s *GormStore) GetEpisode(ctx context.Context, id string) (domain.Episode, bool, error) {
	return s.firstEpisode(ctx, "id = ?", id)
}

// FindEpisodeByGUID looks up a feed item previously persisted for the user.
func (s *GormStore) FindEpisodeByGUID(ctx context.Context, userID, feedID, guid string) (domain.Episode, bool, error) {
	return s.firstEpisode(ctx, "user_id = ? AND feed_id = ? AND guid = ?", userID, feedID, guid)
}

func (s *GormStore) firstEpisode(ctx context.Context, query string, args ...any) (domain.Episode, bool, error) {
	var model EpisodeModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Episode{}, false, nil
		}
		return domain.Episode{}, false, err
	}
	return episodeFromModel(model), true, nil
}

// ListEpisodesByFeed returns a feed's episodes ordered by created_at.
func (s *GormStore) ListEpisodesByFeed(ctx context.Context, userID, feedID string) ([]domain.Episode, error) {
	var models []EpisodeModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND feed_id = ?", userID, feedID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Episode, 0, len(models))
	for _, m := range models {
		res = append(res, episodeFromModel(m))
	}
	return res, nil
}

// UpdateEpisode applies fn to the stored episode in one transaction.
func (s *GormStore) UpdateEpisode(ctx context.Context, id string, fn EpisodeMutator) (domain.Episode, error) {
	var out domain.Episode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model EpisodeModel
		if err := s.forUpdate(tx).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("episode %s: %w", id, domain.ErrNotFound)
			}
			return err
		}
		out = episodeFromModel(model)
		next := out
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = id
		next.UpdatedAt = time.Now().UTC()
		updated := episodeToModel(next)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// DeleteEpisode removes an episode.
func (s *GormStore) DeleteEpisode(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&EpisodeModel{}, "id = ?", id).Error
}

// SaveSubscription stores the user's latest subscription.
func (s *GormStore) SaveSubscription(ctx context.Context, sub domain.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	model := SubscriptionModel{
		UserID:         sub.UserID,
		SubscriptionID: sub.SubscriptionID,
		CustomerID:     sub.CustomerID,
		UpdatedAt:      sub.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscription_id", "customer_id", "updated_at"}),
	}).Create(&model).Error
}

// GetSubscription returns the user's subscription.
func (s *GormStore) GetSubscription(ctx context.Context, userID string) (domain.Subscription, bool, error) {
	return s.firstSubscription(ctx, "user_id = ?", userID)
}

// FindSubscriptionByID returns the record holding the billing subscription id.
func (s *GormStore) FindSubscriptionByID(ctx context.Context, subscriptionID string) (domain.Subscription, bool, error) {
	return s.firstSubscription(ctx, "subscription_id = ?", subscriptionID)
}

func (s *GormStore) firstSubscription(ctx context.Context, query string, args ...any) (domain.Subscription, bool, error) {
	var model SubscriptionModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Subscription{}, false, nil
		}
		return domain.Subscription{}, false, err
	}
	return domain.Subscription{
		UserID:         model.UserID,
		SubscriptionID: model.SubscriptionID,
		CustomerID:     model.CustomerID,
		UpdatedAt:      model.UpdatedAt,
	}, true, nil
}

// DeleteSubscription removes the user's subscription.
func (s *GormStore) DeleteSubscription(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Delete(&SubscriptionModel{}, "user_id = ?", userID).Error
}

func fileToModel(f domain.FileArtifact) (FileModel, error) {
	var meta datatypes.JSON
	if len(f.Metadata) > 0 {
		raw, err := json.Marshal(f.Metadata)
		if err != nil {
			return FileModel{}, fmt.Errorf("encode file metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	return FileModel{
		ID:                f.ID,
		UserID:            f.UserID,
		FileName:          f.FileName,
		StorageKey:        f.Key,
		SourceURL:         f.SourceURL,
		JobID:             f.JobID,
		TranscriptKey:     f.TranscriptKey,
		StorageFileID:     f.StorageFileID,
		VectorStoreID:     f.VectorStoreID,
		VectorStoreFileID: f.VectorStoreFileID,
		Status:            string(f.Status),
		ErrorMessage:      f.Error,
		Metadata:          meta,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}, nil
}

func fileFromModel(m FileModel) domain.FileArtifact {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.FileArtifact{
		ID:                m.ID,
		UserID:            m.UserID,
		FileName:          m.FileName,
		Key:               m.StorageKey,
		SourceURL:         m.SourceURL,
		JobID:             m.JobID,
		TranscriptKey:     m.TranscriptKey,
		StorageFileID:     m.StorageFileID,
		VectorStoreID:     m.VectorStoreID,
		VectorStoreFileID: m.VectorStoreFileID,
		Status:            domain.Status(m.Status),
		Error:             m.ErrorMessage,
		Metadata:          meta,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func episodeToModel(e domain.Episode) EpisodeModel {
	return EpisodeModel{
		ID:                 e.ID,
		UserID:             e.UserID,
		FeedID:             e.FeedID,
		GUID:               e.GUID,
		Title:              e.Title,
		Description:        e.Description,
		Author:             e.Author,
		URL:                e.URL,
		PublishedAt:        e.PublishedAt,
		Duration:           e.Duration,
		NeedsTranscription: e.NeedsTranscription,
		TranscriptURL:      e.TranscriptURL,
		StorageFileID:      e.StorageFileID,
		VectorStoreID:      e.VectorStoreID,
		VectorStoreFileID:  e.VectorStoreFileID,
		Status:             string(e.Status),
		ErrorMessage:       e.Error,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func episodeFromModel(m EpisodeModel) domain.Episode {
	return domain.Episode{
		ID:                 m.ID,
		UserID:             m.UserID,
		FeedID:             m.FeedID,
		GUID:               m.GUID,
		Title:              m.Title,
		Description:        m.Description,
		Author:             m.Author,
		URL:                m.URL,
		PublishedAt:        m.PublishedAt,
		Duration:           m.Duration,
		NeedsTranscription: m.NeedsTranscription,
		TranscriptURL:      m.TranscriptURL,
		StorageFileID:      m.StorageFileID,
		VectorStoreID:      m.VectorStoreID,
		VectorStoreFileID:  m.VectorStoreFileID,
		Status:             domain.Status(m.Status),
		Error:              m.ErrorMessage,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
