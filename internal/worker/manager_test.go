package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"legalease/internal/logger"
	"legalease/internal/models"
)

type mockConversation struct {
	mu       sync.Mutex
	active   int32
	overlap  atomic.Bool
	received []string
	delay    time.Duration
	block    chan struct{}
}

func (c *mockConversation) Send(ctx context.Context, question, documentText string) (string, error) {
	if atomic.AddInt32(&c.active, 1) > 1 {
		c.overlap.Store(true)
	}
	defer atomic.AddInt32(&c.active, -1)
	if c.block != nil {
		<-c.block
	}
	time.Sleep(c.delay)
	c.mu.Lock()
	c.received = append(c.received, question)
	c.mu.Unlock()
	return "answer to " + question, nil
}

type mockFactory struct {
	mu      sync.Mutex
	convs   map[string]*mockConversation
	seeded  map[string][]models.Turn
	failFor map[string]error
	created int
	newConv func() *mockConversation
}

func newMockFactory() *mockFactory {
	return &mockFactory{
		convs:   make(map[string]*mockConversation),
		seeded:  make(map[string][]models.Turn),
		failFor: make(map[string]error),
		newConv: func() *mockConversation { return &mockConversation{} },
	}
}

func (f *mockFactory) open(ctx context.Context, sessionID string, history []models.Turn) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[sessionID]; err != nil {
		delete(f.failFor, sessionID)
		return nil, err
	}
	f.created++
	conv := f.newConv()
	f.convs[sessionID] = conv
	f.seeded[sessionID] = history
	return conv, nil
}

func TestManagerAnswersAndRecordsHistory(t *testing.T) {
	factory := newMockFactory()
	m := NewManager(factory.open, logger.NewNop())
	defer m.Stop()

	for _, q := range []string{"What is Article 14?", "And Article 21?"} {
		answer, err := m.Ask(context.Background(), "alice", q, "doc")
		if err != nil {
			t.Fatalf("ask: %v", err)
		}
		if answer != "answer to "+q {
			t.Fatalf("unexpected answer %q", answer)
		}
	}

	history := m.History("alice")
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", history)
	}
	if history[2].Text != "And Article 21?" {
		t.Fatalf("history out of order: %+v", history)
	}
	if factory.created != 1 {
		t.Fatalf("conversation should be created once, got %d", factory.created)
	}
}

func TestManagerSerializesWithinSession(t *testing.T) {
	factory := newMockFactory()
	factory.newConv = func() *mockConversation { return &mockConversation{delay: 5 * time.Millisecond} }
	m := NewManager(factory.open, logger.NewNop(), WithQueueLen(32))
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Ask(context.Background(), "bob", fmt.Sprintf("q%d", i), ""); err != nil {
				t.Errorf("ask: %v", err)
			}
		}(i)
	}
	wg.Wait()

	conv := factory.convs["bob"]
	if conv.overlap.Load() {
		t.Fatalf("questions for one session overlapped")
	}
	if len(conv.received) != 10 || len(m.History("bob")) != 20 {
		t.Fatalf("expected 10 questions recorded, got %d", len(conv.received))
	}
}

func TestManagerRunsSessionsInParallel(t *testing.T) {
	release := make(chan struct{})
	factory := newMockFactory()
	factory.newConv = func() *mockConversation { return &mockConversation{block: release} }
	m := NewManager(factory.open, logger.NewNop())
	defer m.Stop()

	done := make(chan string, 2)
	for _, id := range []string{"s1", "s2"} {
		go func(id string) {
			if _, err := m.Ask(context.Background(), id, "hi", ""); err == nil {
				done <- id
			}
		}(id)
	}

	// Both sessions must be in flight at once before either is released.
	deadline := time.After(time.Second)
	for {
		factory.mu.Lock()
		n := len(factory.convs)
		factory.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sessions did not start concurrently")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("session did not finish")
		}
	}
}

func TestManagerQueueFull(t *testing.T) {
	release := make(chan struct{})
	factory := newMockFactory()
	factory.newConv = func() *mockConversation { return &mockConversation{block: release} }
	m := NewManager(factory.open, logger.NewNop(), WithQueueLen(1))
	defer m.Stop()

	go m.Ask(context.Background(), "busy", "first", "")
	// Wait until the actor holds the first task so the queue is empty again.
	deadline := time.Now().Add(time.Second)
	for {
		m.mu.Lock()
		state := m.sessions["busy"]
		m.mu.Unlock()
		if state != nil && state.busy.Load() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("actor never picked up the first task")
		}
		time.Sleep(time.Millisecond)
	}
	go m.Ask(context.Background(), "busy", "second", "")
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Ask(context.Background(), "busy", "third", ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(release)
}

func TestManagerRetriesConversationCreation(t *testing.T) {
	factory := newMockFactory()
	factory.failFor["carol"] = errors.New("gemini unavailable")
	m := NewManager(factory.open, logger.NewNop())
	defer m.Stop()

	if _, err := m.Ask(context.Background(), "carol", "q", ""); err == nil {
		t.Fatalf("expected factory error")
	}
	if _, err := m.Ask(context.Background(), "carol", "q", ""); err != nil {
		t.Fatalf("second ask should succeed: %v", err)
	}
	if got := len(m.History("carol")); got != 2 {
		t.Fatalf("failed question must not be recorded, got %d turns", got)
	}
}

func TestManagerPurgeAndSweep(t *testing.T) {
	factory := newMockFactory()
	m := NewManager(factory.open, logger.NewNop())
	defer m.Stop()

	for _, id := range []string{"a", "b"} {
		if _, err := m.Ask(context.Background(), id, "q", ""); err != nil {
			t.Fatalf("ask: %v", err)
		}
	}
	m.Purge("a")
	if m.Len() != 1 || len(m.History("a")) != 0 {
		t.Fatalf("purge did not retire session a")
	}

	if n := m.sweepIdle(time.Hour); n != 0 {
		t.Fatalf("fresh session swept: %d", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := m.sweepIdle(time.Millisecond); n != 1 {
		t.Fatalf("expected idle session retired, got %d", n)
	}
	if m.Len() != 0 {
		t.Fatalf("manager still holds sessions")
	}

	// A retired session starts over with a new conversation.
	if _, err := m.Ask(context.Background(), "b", "again", ""); err != nil {
		t.Fatalf("ask after sweep: %v", err)
	}
	if factory.created != 3 {
		t.Fatalf("expected a new conversation after sweep, created=%d", factory.created)
	}
}

// queueBehindBlockedTask starts one in-flight question on session id and
// queues n more behind it.
func queueBehindBlockedTask(t *testing.T, m *Manager, id string, n int) <-chan error {
	t.Helper()
	errs := make(chan error, n+1)
	ask := func(q string) {
		_, err := m.Ask(context.Background(), id, q, "")
		errs <- err
	}
	go ask("first")
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		state := m.sessions[id]
		return state != nil && state.busy.Load()
	})
	for i := 0; i < n; i++ {
		go ask(fmt.Sprintf("queued-%d", i))
	}
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.sessions[id].taskCh) == n
	})
	return errs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerPurgeDropsQueuedQuestions(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		release := make(chan struct{})
		factory := newMockFactory()
		factory.newConv = func() *mockConversation { return &mockConversation{block: release} }
		m := NewManager(factory.open, logger.NewNop())

		errs := queueBehindBlockedTask(t, m, "s", 3)
		m.Purge("s")
		close(release)

		// The in-flight question may still deliver its answer.
		closed := 0
		for i := 0; i < 4; i++ {
			select {
			case err := <-errs:
				switch {
				case errors.Is(err, ErrSessionClosed):
					closed++
				case err != nil:
					t.Fatalf("trial %d: unexpected error %v", trial, err)
				}
			case <-time.After(time.Second):
				t.Fatalf("trial %d: ask did not return", trial)
			}
		}
		if closed < 3 {
			t.Fatalf("trial %d: queued questions were answered, closed=%d", trial, closed)
		}
		conv := factory.convs["s"]
		waitFor(t, func() bool { return atomic.LoadInt32(&conv.active) == 0 })
		time.Sleep(10 * time.Millisecond)

		conv.mu.Lock()
		received := append([]string(nil), conv.received...)
		conv.mu.Unlock()
		if len(received) != 1 || received[0] != "first" {
			t.Fatalf("trial %d: retired actor sent %v", trial, received)
		}
		if got := m.History("s"); got == nil || len(got) != 0 {
			t.Fatalf("trial %d: purged session kept history %+v", trial, got)
		}
		m.Stop()
	}
}

func TestManagerHistoryOfUnknownSessionIsEmpty(t *testing.T) {
	m := NewManager(newMockFactory().open, logger.NewNop())
	defer m.Stop()

	history := m.History("nobody")
	if history == nil || len(history) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", history)
	}
}

func TestManagerHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := newMockFactory()
	factory.newConv = func() *mockConversation { return &mockConversation{block: release} }
	m := NewManager(factory.open, logger.NewNop())
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Ask(ctx, "slow", "q", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
