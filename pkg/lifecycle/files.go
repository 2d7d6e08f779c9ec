package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
	"mindcast/pkg/store"
)

// ObjectRemover deletes uploaded source objects.
type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

// FileTracker records file lifecycle events against the file store.
type FileTracker struct {
	files   store.FileStore
	objects ObjectRemover
}

// NewFileTracker builds a tracker. objects may be nil when uploads are not kept
// in object storage.
func NewFileTracker(files store.FileStore, objects ObjectRemover) *FileTracker {
	return &FileTracker{files: files, objects: objects}
}

// Handle applies one message. Types the tracker does not consume return
// messages.NotHandled.
func (t *FileTracker) Handle(ctx context.Context, msg messages.Message) (messages.Result, error) {
	switch m := msg.(type) {
	case messages.FileCreated:
		return t.created(ctx, m.File)
	case messages.FileUpdated:
		return t.updated(ctx, m.File)
	case messages.FileDeleted:
		return t.deleted(ctx, m.File)
	case messages.ConversionStarted:
		return t.conversionStarted(ctx, m.JobID, m.FileID)
	case messages.ConversionFinished:
		return t.conversionFinished(ctx, m.JobID, m.TxtKey)
	case messages.ConversionFailed:
		return t.conversionFailed(ctx, m.JobID, m.Error)
	case messages.AssistantFileCreated:
		return t.assistantCreated(ctx, m)
	case messages.AssistantFileError:
		return t.assistantError(ctx, m.FileID, m.Error)
	default:
		return messages.NotHandled(), nil
	}
}

func (t *FileTracker) created(ctx context.Context, f *domain.FileArtifact) (messages.Result, error) {
	if f == nil {
		return messages.Result{}, fmt.Errorf("file.created payload: %w", domain.ErrNotFound)
	}
	if _, ok, err := t.files.GetFile(ctx, f.ID); err != nil {
		return messages.Result{}, err
	} else if ok {
		return messages.Handled("exists"), nil
	}
	rec := *f
	rec.Status = domain.StatusCreated
	rec.Error = ""
	if err := t.files.SaveFile(ctx, rec); err != nil {
		return messages.Result{}, err
	}
	return messages.Handled("created"), nil
}

func (t *FileTracker) updated(ctx context.Context, f *domain.FileArtifact) (messages.Result, error) {
	if f == nil {
		return messages.Result{}, fmt.Errorf("file.updated payload: %w", domain.ErrNotFound)
	}
	_, err := t.files.UpdateFile(ctx, f.ID, func(cur *domain.FileArtifact) error {
		if name := strings.TrimSpace(f.FileName); name != "" {
			cur.FileName = name
		}
		if f.Metadata != nil {
			cur.Metadata = f.Metadata
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return messages.Handled("no matching file"), nil
	}
	if err != nil {
		return messages.Result{}, err
	}
	return messages.Handled("updated"), nil
}

func (t *FileTracker) deleted(ctx context.Context, f *domain.FileArtifact) (messages.Result, error) {
	if f == nil {
		return messages.Result{}, fmt.Errorf("file.deleted payload: %w", domain.ErrNotFound)
	}
	if err := t.files.DeleteFile(ctx, f.ID); err != nil {
		return messages.Result{}, err
	}
	if t.objects != nil && f.Key != "" {
		if err := t.objects.Delete(ctx, f.Key); err != nil {
			return messages.Result{}, fmt.Errorf("delete upload %s: %w", f.Key, err)
		}
	}
	return messages.Handled("deleted"), nil
}

func (t *FileTracker) conversionStarted(ctx context.Context, jobID, fileID string) (messages.Result, error) {
	_, err := t.files.UpdateFile(ctx, fileID, transition(domain.StatusConverting, func(f *domain.FileArtifact) {
		f.JobID = jobID
	}))
	if _, err := classify(ctx, "file", fileID, domain.StatusConverting, err); err != nil {
		return messages.Result{}, err
	}
	return messages.Handled("converting"), nil
}

func (t *FileTracker) conversionFinished(ctx context.Context, jobID, txtKey string) (messages.Result, error) {
	n, err := t.applyToJob(ctx, jobID, domain.StatusTranscribed, func(f *domain.FileArtifact) {
		f.TranscriptKey = txtKey
	})
	if err != nil {
		return messages.Result{}, err
	}
	return messages.Handled(fmt.Sprintf("transcribed %d files", n)), nil
}

func (t *FileTracker) conversionFailed(ctx context.Context, jobID, reason string) (messages.Result, error) {
	n, err := t.applyToJob(ctx, jobID, domain.StatusErrored, func(f *domain.FileArtifact) {
		f.Error = reason
	})
	if err != nil {
		return messages.Result{}, err
	}
	return messages.Handled(fmt.Sprintf("errored %d files", n)), nil
}

// applyToJob updates every artifact tagged with jobID and returns how many changed.
func (t *FileTracker) applyToJob(ctx context.Context, jobID string, to domain.Status, mutate func(*domain.FileArtifact)) (int, error) {
	files, err := t.files.FindFilesByJobID(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		util.LoggerFromContext(ctx).Info("no files for conversion job", "job_id", jobID)
	}
	changed := 0
	for _, f := range files {
		_, err := t.files.UpdateFile(ctx, f.ID, transition(to, mutate))
		res, err := classify(ctx, "file", f.ID, to, err)
		if err != nil {
			return changed, err
		}
		if res == applied {
			changed++
		}
	}
	return changed, nil
}

func (t *FileTracker) assistantCreated(ctx context.Context, m messages.AssistantFileCreated) (messages.Result, error) {
	_, err := t.files.UpdateFile(ctx, m.FileID, transition(domain.StatusSynced, func(f *domain.FileArtifact) {
		f.StorageFileID = m.StorageFileID
		f.VectorStoreID = m.VectorStoreID
		f.VectorStoreFileID = m.VectorStoreFileID
		f.Error = ""
	}))
	res, err := classify(ctx, "file", m.FileID, domain.StatusSynced, err)
	if err != nil {
		return messages.Result{}, err
	}
	if res == missing {
		return messages.Handled("no matching file"), nil
	}
	return messages.Handled("synced"), nil
}

func (t *FileTracker) assistantError(ctx context.Context, fileID, reason string) (messages.Result, error) {
	_, err := t.files.UpdateFile(ctx, fileID, transition(domain.StatusErrored, func(f *domain.FileArtifact) {
		f.Error = reason
	}))
	res, err := classify(ctx, "file", fileID, domain.StatusErrored, err)
	if err != nil {
		return messages.Result{}, err
	}
	if res == missing {
		return messages.Handled("no matching file"), nil
	}
	return messages.Handled("errored"), nil
}

// transition builds a mutator that moves the artifact to `to` and then applies
// mutate. It fails with domain.ErrInvalidTransition when the move is not allowed.
func transition(to domain.Status, mutate func(*domain.FileArtifact)) store.FileMutator {
	return func(f *domain.FileArtifact) error {
		next, err := domain.Transition(f.Status, to)
		if err != nil {
			return err
		}
		f.Status = next
		if mutate != nil {
			mutate(f)
		}
		return nil
	}
}
