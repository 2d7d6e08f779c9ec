package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AssistantModel struct {
	UserID      string    `gorm:"primaryKey"`
	AssistantID string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type FileModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index"`
	FileName          string `gorm:"not null"`
	StorageKey        string
	SourceURL         string
	JobID             string `gorm:"index"`
	TranscriptKey     string
	StorageFileID     string
	VectorStoreID     string
	VectorStoreFileID string
	Status            string `gorm:"not null"`
	ErrorMessage      string
	Metadata          datatypes.JSON
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type EpisodeModel struct {
	ID                 string `gorm:"primaryKey"`
	UserID             string `gorm:"not null;index:idx_episode_feed;uniqueIndex:idx_episode_guid"`
	FeedID             string `gorm:"not null;index:idx_episode_feed;uniqueIndex:idx_episode_guid"`
	GUID               string `gorm:"not null;uniqueIndex:idx_episode_guid"`
	Title              string
	Description        string `gorm:"type:text"`
	Author             string
	URL                string
	PublishedAt        string
	Duration           string
	NeedsTranscription bool
	TranscriptURL      string
	StorageFileID      string
	VectorStoreID      string
	VectorStoreFileID  string
	Status             string `gorm:"not null"`
	ErrorMessage       string
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time `gorm:"not null"`
}

type SubscriptionModel struct {
	UserID         string `gorm:"primaryKey"`
	SubscriptionID string `gorm:"not null;index"`
	CustomerID     string
	UpdatedAt      time.Time `gorm:"not null"`
}
