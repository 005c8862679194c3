package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/redis"
)

const defaultQueueLen = 16

var (
	ErrQueueFull     = errors.New("session queue full")
	ErrSessionClosed = errors.New("session closed")
)

// Manager owns one actor goroutine per session. Questions for the same
// session run one at a time in arrival order; sessions run in parallel.
type Manager struct {
	factory  ConversationFactory
	queueLen int
	cache    *stateRedis
	log      logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type Option func(*Manager)

func WithQueueLen(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueLen = n
		}
	}
}

// WithRedis mirrors session history to redis and listens for purges issued
// by other processes.
func WithRedis(client *redis.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.cache = newStateCache(client, m.log)
		}
	}
}

func NewManager(factory ConversationFactory, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{
		factory:  factory,
		queueLen: defaultQueueLen,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache.startListener(func(inv invalidateMessage) {
		m.purgeLocal(inv.SessionID)
	})
	return m
}

// Ask queues question on the session's actor and waits for the answer.
func (m *Manager) Ask(ctx context.Context, sessionID, question, documentText string) (string, error) {
	task := askTask{
		ctx:          ctx,
		question:     question,
		documentText: documentText,
		resultCh:     make(chan askResult, 1),
	}

	m.mu.Lock()
	state := m.ensureSessionLocked(sessionID)
	state.touch()
	select {
	case state.taskCh <- task:
	default:
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	m.mu.Unlock()

	select {
	case ret := <-task.resultCh:
		return ret.answer, ret.err
	case <-state.stopCh:
		// The actor may still finish the task; prefer its answer if it already has one.
		select {
		case ret := <-task.resultCh:
			return ret.answer, ret.err
		default:
			return "", ErrSessionClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// History returns the recorded turns of sessionID, oldest first.
func (m *Manager) History(sessionID string) []models.Turn {
	m.mu.Lock()
	state := m.sessions[sessionID]
	m.mu.Unlock()
	if state != nil {
		return state.getHistory()
	}
	history, ok := m.cache.loadHistory(sessionID)
	if !ok || history == nil {
		return []models.Turn{}
	}
	return history
}

// Purge retires the session's actor and forgets its history everywhere.
func (m *Manager) Purge(sessionID string) {
	m.purgeLocal(sessionID)
	m.cache.invalidateHistory(sessionID)
	m.cache.publishInvalidation(invalidateMessage{SessionID: sessionID})
}

// Stop retires every actor and the invalidation listener. Recorded history
// stays in redis.
func (m *Manager) Stop() {
	m.cache.stopListener()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, state := range m.sessions {
		state.close()
		delete(m.sessions, id)
	}
}

// Len reports the number of live actors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) purgeLocal(sessionID string) {
	m.mu.Lock()
	if state, ok := m.sessions[sessionID]; ok {
		state.close()
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
}

func (m *Manager) ensureSessionLocked(sessionID string) *sessionState {
	if state, ok := m.sessions[sessionID]; ok {
		return state
	}
	state := newSessionState(sessionID, m.queueLen)
	m.sessions[sessionID] = state
	go m.runSession(state)
	m.log.Debug("session actor started", logger.String("session_id", sessionID))
	return state
}

func (m *Manager) runSession(state *sessionState) {
	if history, ok := m.cache.loadHistory(state.id); ok {
		state.setHistory(history)
	}
	for {
		if state.closed() {
			m.retire(state)
			return
		}
		select {
		case <-state.stopCh:
			m.retire(state)
			return
		case task := <-state.taskCh:
			if state.closed() {
				task.resultCh <- askResult{err: ErrSessionClosed}
				continue
			}
			state.busy.Store(true)
			answer, err := m.handleAsk(state, task)
			state.touch()
			state.busy.Store(false)
			task.resultCh <- askResult{answer: answer, err: err}
		}
	}
}

// retire answers every queued task with ErrSessionClosed. No task can be
// queued after close because Ask enqueues under m.mu and the state has left
// m.sessions by then.
func (m *Manager) retire(state *sessionState) {
	for {
		select {
		case task := <-state.taskCh:
			task.resultCh <- askResult{err: ErrSessionClosed}
		default:
			m.log.Debug("session actor stopped", logger.String("session_id", state.id))
			return
		}
	}
}

func (m *Manager) handleAsk(state *sessionState, task askTask) (string, error) {
	ctx := task.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Conversation creation is retried on the next question if it fails.
	if state.conv == nil {
		conv, err := m.factory(ctx, state.id, state.getHistory())
		if err != nil {
			return "", err
		}
		state.conv = conv
		m.log.Info("conversation created", logger.String("session_id", state.id))
	}

	asked := time.Now()
	answer, err := state.conv.Send(ctx, task.question, task.documentText)
	if err != nil {
		return "", err
	}

	state.record(func(history []models.Turn) {
		m.cache.cacheHistory(state.id, history)
	},
		models.Turn{Role: models.RoleUser, Text: task.question, CreatedAt: asked},
		models.Turn{Role: models.RoleAssistant, Text: answer, CreatedAt: time.Now()},
	)
	return answer, nil
}
