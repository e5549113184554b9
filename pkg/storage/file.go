package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/stateflow/stateflow/pkg/models"
)

// FileAdapter serializes workflow state as JSON files under
// <dir>/<prefix><id>.json. Writes go through a shadow file and rename so
// a crashed write never leaves a truncated state behind. Timestamps are
// revived by the typed decode; no field sniffing.
type FileAdapter struct {
	dir    string
	prefix string
}

// NewFileAdapter creates a file-backed store rooted at dir. The prefix
// namespaces keys so several engines can share a directory.
func NewFileAdapter(dir, prefix string) (*FileAdapter, error) {
	if dir == "" {
		return nil, &models.ValidationError{Field: "dir", Message: "storage directory is required"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &models.StorageError{Op: "init", Key: dir, Err: err}
	}
	if prefix == "" {
		prefix = "workflow_"
	}
	return &FileAdapter{dir: dir, prefix: prefix}, nil
}

func (a *FileAdapter) path(id string) string {
	return filepath.Join(a.dir, a.prefix+url.PathEscape(id)+".json")
}

// Save implements Adapter.
func (a *FileAdapter) Save(_ context.Context, id string, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}

	path := a.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	return nil
}

// Load implements Adapter.
func (a *FileAdapter) Load(_ context.Context, id string) (*models.WorkflowState, error) {
	data, err := os.ReadFile(a.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrWorkflowNotFound
		}
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}

	var state models.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	return &state, nil
}

// Delete implements Adapter.
func (a *FileAdapter) Delete(_ context.Context, id string) error {
	if err := os.Remove(a.path(id)); err != nil {
		if os.IsNotExist(err) {
			return models.ErrWorkflowNotFound
		}
		return &models.StorageError{Op: "delete", Key: id, Err: err}
	}
	return nil
}

// List implements Adapter.
func (a *FileAdapter) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, a.prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		escaped := strings.TrimSuffix(strings.TrimPrefix(name, a.prefix), ".json")
		id, err := url.PathUnescape(escaped)
		if err != nil {
			return nil, &models.StorageError{Op: "list", Key: name, Err: fmt.Errorf("malformed key: %w", err)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
