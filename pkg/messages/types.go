// Package messages defines the closed set of bus messages exchanged by the
// pipeline stages and the two-layer envelope they travel in.
package messages

import (
	"context"
	"encoding/json"

	"mindcast/pkg/domain"
)

const (
	TypeFileCreated          = "file.created"
	TypeFileUpdated          = "file.updated"
	TypeFileDeleted          = "file.deleted"
	TypeFeedCreated          = "feed.created"
	TypeEpisodeCreated       = "episode.created"
	TypeEpisodeUpdated       = "episode.updated"
	TypeEpisodeDeleted       = "episode.deleted"
	TypeEpisodeReady         = "episode.ready"
	TypeEpisodeTranscribed   = "episode.transcribed"
	TypeConversionStarted    = "document.conversion.started"
	TypeConversionFinished   = "document.conversion.finished"
	TypeConversionFailed     = "document.conversion.failed"
	TypeAssistantFileCreated = "assistant.file.created"
	TypeAssistantFileError   = "assistant.file.error"
	TypeSubscriptionCreated  = "subscription.created"
	TypeSubscriptionDeleted  = "subscription.deleted"
)

// Message is one variant of the bus union, discriminated by MessageType.
type Message interface {
	MessageType() string
}

// Publisher fans a message out to every subscribed stage.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Result is what a stage router reports back to the bus for one message.
type Result struct {
	Handled bool   `json:"handled"`
	Body    string `json:"body,omitempty"`
}

// NotHandled is returned for message types a stage does not consume.
func NotHandled() Result {
	return Result{Handled: false, Body: "Method Not Allowed"}
}

// Handled wraps a successful handler body.
func Handled(body string) Result {
	return Result{Handled: true, Body: body}
}

// Handler processes one decoded message.
type Handler func(ctx context.Context, msg Message) (Result, error)

type FileCreated struct {
	File *domain.FileArtifact `json:"file"`
}

type FileUpdated struct {
	File *domain.FileArtifact `json:"file"`
}

type FileDeleted struct {
	File *domain.FileArtifact `json:"file"`
}

type FeedCreated struct {
	Feed *domain.Feed `json:"feed"`
}

type EpisodeCreated struct {
	Episode *domain.Episode `json:"episode"`
}

type EpisodeUpdated struct {
	Episode *domain.Episode `json:"episode"`
}

type EpisodeDeleted struct {
	Episode *domain.Episode `json:"episode"`
}

// EpisodeReady announces an episode parsed from a feed that is not yet persisted.
type EpisodeReady struct {
	UserID      string `json:"user_id"`
	FeedID      string `json:"feed_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Duration    string `json:"duration"`
	GUID        string `json:"guid"`
}

// EpisodeTranscribed announces that an episode transcript is available at Episode.TranscriptURL.
type EpisodeTranscribed struct {
	Episode *domain.Episode `json:"episode"`
}

type ConversionStarted struct {
	JobID  string `json:"job_id"`
	FileID string `json:"file_id"`
}

type ConversionFinished struct {
	JobID  string `json:"job_id"`
	TxtKey string `json:"txt_key"`
}

type ConversionFailed struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

type AssistantFileCreated struct {
	FileID            string `json:"file_id"`
	StorageFileID     string `json:"storage_file_id"`
	VectorStoreID     string `json:"vector_store_id"`
	VectorStoreFileID string `json:"vector_store_file_id"`
}

type AssistantFileError struct {
	FileID string `json:"file_id"`
	Error  string `json:"error"`
}

type SubscriptionCreated struct {
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
}

type SubscriptionDeleted struct {
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
}

// Unknown holds a message whose type this build does not recognise.
type Unknown struct {
	Type string          `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (FileCreated) MessageType() string          { return TypeFileCreated }
func (FileUpdated) MessageType() string          { return TypeFileUpdated }
func (FileDeleted) MessageType() string          { return TypeFileDeleted }
func (FeedCreated) MessageType() string          { return TypeFeedCreated }
func (EpisodeCreated) MessageType() string       { return TypeEpisodeCreated }
func (EpisodeUpdated) MessageType() string       { return TypeEpisodeUpdated }
func (EpisodeDeleted) MessageType() string       { return TypeEpisodeDeleted }
func (EpisodeReady) MessageType() string         { return TypeEpisodeReady }
func (EpisodeTranscribed) MessageType() string   { return TypeEpisodeTranscribed }
func (ConversionStarted) MessageType() string    { return TypeConversionStarted }
func (ConversionFinished) MessageType() string   { return TypeConversionFinished }
func (ConversionFailed) MessageType() string     { return TypeConversionFailed }
func (AssistantFileCreated) MessageType() string { return TypeAssistantFileCreated }
func (AssistantFileError) MessageType() string   { return TypeAssistantFileError }
func (SubscriptionCreated) MessageType() string  { return TypeSubscriptionCreated }
func (SubscriptionDeleted) MessageType() string  { return TypeSubscriptionDeleted }
func (u Unknown) MessageType() string            { return u.Type }
