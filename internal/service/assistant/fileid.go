package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"legalease/internal/apperr"
)

// FileIDRecord is the on-disk shape of the file handle file.
type FileIDRecord struct {
	FileID string `json:"fileId"`
}

// FileIDStore persists the reference document handle.
type FileIDStore struct {
	path string
	mu   sync.Mutex
}

func NewFileIDStore(path string) *FileIDStore {
	return &FileIDStore{path: path}
}

func (s *FileIDStore) Path() string { return s.path }

// Raw returns the file contents decoded as generic JSON.
func (s *FileIDStore) Raw() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("fileId.json not found")
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.Internal("fileId.json is not valid JSON", err)
	}
	return out, nil
}

// Load returns the stored handle, or "" when none is recorded.
func (s *FileIDStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", s.path, err)
	}
	var rec FileIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode %s: %w", s.path, err)
	}
	return strings.TrimSpace(rec.FileID), nil
}

func (s *FileIDStore) Save(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(FileIDRecord{FileID: fileID}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
