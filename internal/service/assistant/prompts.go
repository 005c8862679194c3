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

// PromptStore serves and saves the editable prompts file.
type PromptStore struct {
	path string
	mu   sync.RWMutex
}

func NewPromptStore(path string) *PromptStore {
	return &PromptStore{path: path}
}

func defaultPrompts() map[string]any {
	return map[string]any{
		"systemInstructions": map[string]any{"text": DefaultPersona},
		"questions":          []any{},
	}
}

// Get returns the stored prompts, or the built-in defaults when no file exists.
func (p *PromptStore) Get() (map[string]any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultPrompts(), nil
		}
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.Internal("prompts file is not valid JSON", err)
	}
	return out, nil
}

// Save writes body pretty-printed and returns the saved path. body must carry
// a questions array.
func (p *PromptStore) Save(body map[string]any) (string, error) {
	if _, ok := body["questions"].([]any); !ok {
		return "", apperr.InvalidRequest("Body must include questions array")
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", apperr.Internal("encode prompts", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return "", fmt.Errorf("create prompts dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return "", fmt.Errorf("write prompts: %w", err)
	}
	abs, err := filepath.Abs(p.path)
	if err != nil {
		return p.path, nil
	}
	return abs, nil
}

// Persona returns systemInstructions.text from the prompts file, falling back
// to DefaultPersona.
func (p *PromptStore) Persona() string {
	prompts, err := p.Get()
	if err != nil {
		return DefaultPersona
	}
	si, ok := prompts["systemInstructions"].(map[string]any)
	if !ok {
		return DefaultPersona
	}
	text, _ := si["text"].(string)
	if strings.TrimSpace(text) == "" {
		return DefaultPersona
	}
	return text
}
