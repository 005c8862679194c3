package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"legalease/internal/config"
	"legalease/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeFiles struct {
	mu       sync.Mutex
	states   []genai.FileState
	gets     int
	uploads  int
	getDelay time.Duration
	getErr   error
}

func (f *fakeFiles) Get(ctx context.Context, name string) (*genai.File, error) {
	if f.getDelay > 0 {
		time.Sleep(f.getDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	state := genai.FileStateActive
	if f.gets < len(f.states) {
		state = f.states[f.gets]
	}
	f.gets++
	return &genai.File{Name: name, URI: "https://files.example/" + name, MIMEType: "application/pdf", State: state}, nil
}

func (f *fakeFiles) Upload(ctx context.Context, path, mimeType, displayName string) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return &genai.File{Name: "files/uploaded", URI: "https://files.example/files/uploaded", MIMEType: mimeType, State: genai.FileStateProcessing}, nil
}

func (f *fakeFiles) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func refConfig() config.ReferenceConfig {
	return config.ReferenceConfig{MimeType: "application/pdf", PollBaseDelay: 5, PollMaxDelay: 40, MaxAttempts: 10}
}

func storeWithID(t *testing.T, id string) *FileIDStore {
	t.Helper()
	store := NewFileIDStore(filepath.Join(t.TempDir(), "fileId.json"))
	if id != "" {
		require.NoError(t, store.Save(id))
	}
	return store
}

func TestResolverPollsWithBackoffUntilActive(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{
		genai.FileStateProcessing, genai.FileStateProcessing, genai.FileStateProcessing,
		genai.FileStateProcessing, genai.FileStateActive,
	}}
	sleeps := &recordedSleeps{}
	r := NewReferenceResolver(files, storeWithID(t, "files/constitution"), refConfig(), logger.NewNop(), WithSleep(sleeps.sleep))

	ref, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "files/constitution", ref.Name)
	assert.Equal(t, RefReady, r.State())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, sleeps.delays)

	// READY is cached for the process lifetime.
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, files.getCount())
}

func TestResolverGivesUpAfterMaxAttempts(t *testing.T) {
	states := make([]genai.FileState, 20)
	for i := range states {
		states[i] = genai.FileStateProcessing
	}
	files := &fakeFiles{states: states}
	sleeps := &recordedSleeps{}
	cfg := refConfig()
	cfg.MaxAttempts = 3
	r := NewReferenceResolver(files, storeWithID(t, "files/slow"), cfg, logger.NewNop(), WithSleep(sleeps.sleep))

	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrReferenceNotReady)
	assert.Equal(t, RefFailed, r.State())
	assert.Len(t, sleeps.delays, 3)
}

func TestResolverFailedIsNotCached(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateFailed, genai.FileStateActive}}
	r := NewReferenceResolver(files, storeWithID(t, "files/flaky"), refConfig(), logger.NewNop(), WithSleep((&recordedSleeps{}).sleep))

	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrReferenceFailed)

	ref, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "files/flaky", ref.Name)
}

func TestResolverUploadsLocalReferenceWhenNoHandle(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateActive}}
	store := storeWithID(t, "")
	cfg := refConfig()
	cfg.Path = "/srv/reference/constitution.pdf"
	sleeps := &recordedSleeps{}
	r := NewReferenceResolver(files, store, cfg, logger.NewNop(), WithSleep(sleeps.sleep))

	ref, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "files/uploaded", ref.Name)
	assert.Equal(t, 1, files.uploads)
	assert.Len(t, sleeps.delays, 1)

	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "files/uploaded", id)
}

func TestResolverWithoutHandleOrPathFails(t *testing.T) {
	r := NewReferenceResolver(&fakeFiles{}, storeWithID(t, ""), refConfig(), logger.NewNop())
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrNoReference)
}

func TestResolverCollapsesConcurrentColdStarts(t *testing.T) {
	files := &fakeFiles{getDelay: 50 * time.Millisecond}
	r := NewReferenceResolver(files, storeWithID(t, "files/shared"), refConfig(), logger.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, files.getCount())
}

func TestResolverCallerCancellationDoesNotAbortResolution(t *testing.T) {
	files := &fakeFiles{getDelay: 100 * time.Millisecond}
	r := NewReferenceResolver(files, storeWithID(t, "files/slow"), refConfig(), logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	ref, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "files/slow", ref.Name)
	assert.Equal(t, 1, files.getCount())
}
