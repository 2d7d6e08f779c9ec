package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"mindcast/pkg/domain"
)

const (
	DefaultModel          = "gpt-4o"
	DefaultInstructions   = "You answer questions using the documents and podcast transcripts in your knowledge base."
	DefaultMaxSourceBytes = 512 << 20
)

// ErrNoVectorStore indicates an assistant without a file search vector store.
var ErrNoVectorStore = errors.New("assistant has no vector store")

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Instructions string
	// HTTPClient downloads source files before upload.
	HTTPClient *http.Client
	// MaxSourceBytes caps a downloaded source. Defaults to DefaultMaxSourceBytes.
	MaxSourceBytes int64
}

// OpenAIClient implements Client with the OpenAI Assistants and Vector Stores APIs.
type OpenAIClient struct {
	client       *openai.Client
	http         *http.Client
	model        string
	instructions string
	maxSource    int64
}

// NewOpenAIClient builds a client. APIKey is required.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	instructions := strings.TrimSpace(cfg.Instructions)
	if instructions == "" {
		instructions = DefaultInstructions
	}
	maxSource := cfg.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = DefaultMaxSourceBytes
	}
	return &OpenAIClient{
		client:       &client,
		http:         httpClient,
		model:        model,
		instructions: instructions,
		maxSource:    maxSource,
	}, nil
}

// CreateAssistant creates the user's vector store, then an assistant bound to it.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, userID string) (domain.AssistantRef, error) {
	vs, err := c.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name:     openai.String("user-" + userID),
		Metadata: map[string]string{"user_id": userID},
	})
	if err != nil {
		return domain.AssistantRef{}, fmt.Errorf("create vector store: %w", err)
	}
	asst, err := c.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        openai.ChatModel(c.model),
		Name:         openai.String("mindcast-" + userID),
		Instructions: openai.String(c.instructions),
		Metadata:     map[string]string{"user_id": userID},
		Tools: []openai.AssistantToolUnionParam{
			{OfFileSearch: &openai.FileSearchToolParam{}},
		},
		ToolResources: openai.BetaAssistantNewParamsToolResources{
			FileSearch: openai.BetaAssistantNewParamsToolResourcesFileSearch{
				VectorStoreIDs: []string{vs.ID},
			},
		},
	})
	if err != nil {
		return domain.AssistantRef{}, fmt.Errorf("create assistant: %w", err)
	}
	return domain.AssistantRef{AssistantID: asst.ID, VectorStoreID: vs.ID}, nil
}

// GetVectorStoreID returns the first vector store bound to the assistant's file search tool.
func (c *OpenAIClient) GetVectorStoreID(ctx context.Context, assistantID string) (string, error) {
	asst, err := c.client.Beta.Assistants.Get(ctx, assistantID)
	if err != nil {
		return "", fmt.Errorf("get assistant %s: %w", assistantID, err)
	}
	ids := asst.ToolResources.FileSearch.VectorStoreIDs
	if len(ids) == 0 || ids[0] == "" {
		return "", fmt.Errorf("assistant %s: %w", assistantID, ErrNoVectorStore)
	}
	return ids[0], nil
}

// CreateFile downloads sourceURL and uploads it for assistants use.
func (c *OpenAIClient) CreateFile(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download source: unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if resp.ContentLength > c.maxSource {
		return "", fmt.Errorf("download source: %d bytes exceeds limit of %d", resp.ContentLength, c.maxSource)
	}
	body := &limitedReader{r: io.LimitReader(resp.Body, c.maxSource+1), remaining: c.maxSource}
	file, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(body, sourceFileName(sourceURL), contentType),
		Purpose: openai.FilePurposeAssistants,
	})
	if body.exceeded {
		return "", fmt.Errorf("download source: exceeds limit of %d bytes", c.maxSource)
	}
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return file.ID, nil
}

// AttachFile adds the uploaded file to the vector store.
func (c *OpenAIClient) AttachFile(ctx context.Context, vectorStoreID, storageFileID string) (string, error) {
	vsFile, err := c.client.VectorStores.Files.New(ctx, vectorStoreID, openai.VectorStoreFileNewParams{
		FileID: storageFileID,
	})
	if err != nil {
		return "", fmt.Errorf("attach file %s: %w", storageFileID, err)
	}
	return vsFile.ID, nil
}

// DetachFile removes a file from the vector store. A file that is already detached counts as removed.
func (c *OpenAIClient) DetachFile(ctx context.Context, vectorStoreID, vectorStoreFileID string) error {
	if _, err := c.client.VectorStores.Files.Delete(ctx, vectorStoreID, vectorStoreFileID); err != nil && !isNotFound(err) {
		return fmt.Errorf("detach file %s: %w", vectorStoreFileID, err)
	}
	return nil
}

// DeleteFile deletes the uploaded file. A file that is already gone counts as deleted.
func (c *OpenAIClient) DeleteFile(ctx context.Context, storageFileID string) error {
	if _, err := c.client.Files.Delete(ctx, storageFileID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete file %s: %w", storageFileID, err)
	}
	return nil
}

// sourceFileName derives an upload name from the URL path, ignoring presign query strings.
func sourceFileName(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "document.txt"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "document.txt"
	}
	return name
}

func isNotFound(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var errSourceTooLarge = errors.New("source too large")

// limitedReader fails once more than remaining bytes have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return 0, errSourceTooLarge
	}
	return n, err
}
