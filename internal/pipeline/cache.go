package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"legalease/internal/models"
	"legalease/internal/redis"
)

// ErrNoState is returned by caches for unknown sessions.
var ErrNoState = errors.New("no state for session")

// State is what the pipeline remembers about one client session.
// Revision increases on every new upload so late results for an older
// document can be discarded.
type State struct {
	SessionID     string              `json:"sessionId"`
	Revision      int64               `json:"revision"`
	ExtractedText string              `json:"extractedText"`
	Summary       *models.Summary     `json:"summary,omitempty"`
	Translation   *models.Translation `json:"translation,omitempty"`
	Language      string              `json:"language,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func (s *State) clone() *State {
	out := *s
	if s.Summary != nil {
		sum := *s.Summary
		sum.KeyClauses = append([]models.Clause(nil), s.Summary.KeyClauses...)
		out.Summary = &sum
	}
	if s.Translation != nil {
		tr := *s.Translation
		tr.Summary.KeyClauses = append([]models.Clause(nil), s.Translation.Summary.KeyClauses...)
		out.Translation = &tr
	}
	return &out
}

// Cache stores session state.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

type MemoryCache struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: make(map[string]*State)}
}

func (c *MemoryCache) Get(ctx context.Context, sessionID string) (*State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[sessionID]
	if !ok {
		return nil, ErrNoState
	}
	return st.clone(), nil
}

func (c *MemoryCache) Put(ctx context.Context, state *State) error {
	c.mu.Lock()
	c.states[state.SessionID] = state.clone()
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.states, sessionID)
	c.mu.Unlock()
	return nil
}

// RedisCache keeps state as JSON under legalease:state:<session>.
// A zero ttl keeps entries until they are replaced or cleared.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func stateKey(sessionID string) string {
	return "legalease:state:" + sessionID
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*State, error) {
	raw, err := c.client.Get(ctx, stateKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("get state %s: %w", sessionID, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", sessionID, err)
	}
	return &st, nil
}

func (c *RedisCache) Put(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := c.client.Set(ctx, stateKey(state.SessionID), data, c.ttl); err != nil {
		return fmt.Errorf("put state %s: %w", state.SessionID, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, stateKey(sessionID)); err != nil {
		return fmt.Errorf("delete state %s: %w", sessionID, err)
	}
	return nil
}
