package domain

import "time"

// Status is the sync lifecycle shared by file artifacts and episodes.
type Status string

const (
	StatusCreated     Status = "created"
	StatusConverting  Status = "converting"
	StatusTranscribed Status = "transcribed"
	StatusSynced      Status = "synced"
	StatusErrored     Status = "errored"
)

// FileArtifact is a user-uploaded file tracked through conversion and assistant sync.
type FileArtifact struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	FileName          string            `json:"file_name"`
	Key               string            `json:"key,omitempty"`
	SourceURL         string            `json:"url"`
	JobID             string            `json:"job_id,omitempty"`
	TranscriptKey     string            `json:"transcript_key,omitempty"`
	StorageFileID     string            `json:"storage_file_id"`
	VectorStoreID     string            `json:"vector_store_id"`
	VectorStoreFileID string            `json:"vector_store_file_id"`
	Status            Status            `json:"status"`
	Error             string            `json:"error"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsReady reports whether the file is attached to the user's vector store.
func (f FileArtifact) IsReady() bool {
	return f.Status == StatusSynced && f.VectorStoreID != ""
}

// Episode is a podcast episode whose transcript is synced like a file.
type Episode struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	FeedID             string    `json:"feed_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Author             string    `json:"author"`
	URL                string    `json:"url"`
	PublishedAt        string    `json:"published_at"`
	Duration           string    `json:"duration"`
	GUID               string    `json:"guid"`
	NeedsTranscription bool      `json:"needs_transcription"`
	TranscriptURL      string    `json:"transcript_url,omitempty"`
	StorageFileID      string    `json:"storage_file_id,omitempty"`
	VectorStoreID      string    `json:"vector_store_id,omitempty"`
	VectorStoreFileID  string    `json:"vector_store_file_id,omitempty"`
	Status             Status    `json:"status"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Feed is a podcast feed subscription owned by a user.
type Feed struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	URL    string `json:"url"`
}

// AssistantRecord maps a user to their single assistant. Created once, never updated.
type AssistantRecord struct {
	UserID      string    `json:"user_id"`
	AssistantID string    `json:"assistant_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// AssistantRef identifies a user's assistant and its vector store.
type AssistantRef struct {
	AssistantID   string `json:"assistant_id"`
	VectorStoreID string `json:"vector_store_id"`
}

// SyncResult carries the correlation ids produced by a successful assistant sync.
type SyncResult struct {
	FileID            string `json:"file_id"`
	StorageFileID     string `json:"storage_file_id"`
	VectorStoreID     string `json:"vector_store_id"`
	VectorStoreFileID string `json:"vector_store_file_id"`
}

// Subscription links a user to their billing subscription.
type Subscription struct {
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}
