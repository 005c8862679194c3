package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"legalease/internal/models"
)

// Conversation is the provider-side chat bound to one session.
type Conversation interface {
	Send(ctx context.Context, question, documentText string) (string, error)
}

// ConversationFactory opens a conversation for sessionID, seeded with any
// turns recorded before the session's actor was last retired.
type ConversationFactory func(ctx context.Context, sessionID string, history []models.Turn) (Conversation, error)

type askTask struct {
	ctx          context.Context
	question     string
	documentText string
	resultCh     chan askResult
}

type askResult struct {
	answer string
	err    error
}

// sessionState is owned by one actor goroutine; history is also read by
// handlers, so it sits behind a lock.
type sessionState struct {
	id     string
	taskCh chan askTask
	stopCh chan struct{}
	stop   sync.Once

	conv Conversation

	mu      sync.RWMutex
	history []models.Turn

	busy     atomic.Bool
	lastUsed atomic.Int64
}

func newSessionState(id string, queueLen int) *sessionState {
	s := &sessionState{
		id:     id,
		taskCh: make(chan askTask, queueLen),
		stopCh: make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *sessionState) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *sessionState) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// close takes the history lock so a persist running under record either
// completes before the stop or observes it.
func (s *sessionState) close() {
	s.stop.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		s.mu.Unlock()
	})
}

func (s *sessionState) closed() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *sessionState) setHistory(history []models.Turn) {
	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
}

// record appends turns and hands the new history to persist, unless the
// session has been retired.
func (s *sessionState) record(persist func([]models.Turn), turns ...models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turns...)
	if s.closed() || persist == nil {
		return
	}
	persist(s.snapshotLocked())
}

func (s *sessionState) getHistory() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *sessionState) snapshotLocked() []models.Turn {
	out := make([]models.Turn, len(s.history))
	copy(out, s.history)
	return out
}
