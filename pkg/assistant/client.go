// Package assistant talks to the external Assistant API: per-user assistants,
// their vector stores, and the uploaded files attached to them.
package assistant

import (
	"context"

	"mindcast/pkg/domain"
)

// Client is the subset of the Assistant API used by the sync stage.
type Client interface {
	// CreateAssistant provisions a vector store and an assistant searching it.
	CreateAssistant(ctx context.Context, userID string) (domain.AssistantRef, error)
	// GetVectorStoreID reads the vector store currently bound to the assistant.
	GetVectorStoreID(ctx context.Context, assistantID string) (string, error)
	// CreateFile fetches sourceURL and uploads it, returning the storage file id.
	CreateFile(ctx context.Context, sourceURL string) (string, error)
	// AttachFile adds an uploaded file to a vector store, returning the vector store file id.
	AttachFile(ctx context.Context, vectorStoreID, storageFileID string) (string, error)
	DetachFile(ctx context.Context, vectorStoreID, vectorStoreFileID string) error
	DeleteFile(ctx context.Context, storageFileID string) error
}
