package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"legalease/internal/config"
	"legalease/internal/logger"
	"legalease/internal/redis"

	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"
)

// RefState is the lifecycle of the reference document handle.
type RefState string

const (
	RefUnresolved RefState = ""
	RefUploading  RefState = "UPLOADING"
	RefProcessing RefState = "PROCESSING"
	RefReady      RefState = "READY"
	RefFailed     RefState = "FAILED"
)

const (
	referenceMirrorKey = "legalease:reference"
	// Gemini keeps uploaded files for 48 hours.
	referenceMirrorTTL = 47 * time.Hour
)

var (
	ErrNoReference       = errors.New("no reference file recorded")
	ErrReferenceFailed   = errors.New("reference file processing failed")
	ErrReferenceNotReady = errors.New("reference file still processing")
)

// Reference is a READY file handle usable as a message part.
type Reference struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

func (r *Reference) Part() *genai.Part {
	return genai.NewPartFromURI(r.URI, r.MIMEType)
}

type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReferenceResolver turns the recorded file handle into a READY reference,
// uploading the local reference document when no handle is recorded.
// READY results are kept for the process lifetime; FAILED is retried on the
// next call.
type ReferenceResolver struct {
	files  FileService
	ids    *FileIDStore
	cache  *redis.Client
	cfg    config.ReferenceConfig
	sleep  SleepFunc
	log    logger.Logger
	flight singleflight.Group

	mu    sync.RWMutex
	state RefState
	ready *Reference
}

type ResolverOption func(*ReferenceResolver)

func WithResolverRedis(client *redis.Client) ResolverOption {
	return func(r *ReferenceResolver) { r.cache = client }
}

func WithSleep(fn SleepFunc) ResolverOption {
	return func(r *ReferenceResolver) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

func NewReferenceResolver(files FileService, ids *FileIDStore, cfg config.ReferenceConfig, log logger.Logger, opts ...ResolverOption) *ReferenceResolver {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.PollBaseDelay <= 0 {
		cfg.PollBaseDelay = 5
	}
	if cfg.PollMaxDelay < cfg.PollBaseDelay {
		cfg.PollMaxDelay = cfg.PollBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	r := &ReferenceResolver{
		files: files,
		ids:   ids,
		cfg:   cfg,
		sleep: sleepCtx,
		log:   log.Named("reference"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the last observed lifecycle state.
func (r *ReferenceResolver) State() RefState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *ReferenceResolver) setState(s RefState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *ReferenceResolver) cached() *Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Resolve returns the READY reference. Concurrent callers share one
// resolution, which keeps running if an individual caller gives up.
func (r *ReferenceResolver) Resolve(ctx context.Context) (*Reference, error) {
	if ref := r.cached(); ref != nil {
		return ref, nil
	}
	ch := r.flight.DoChan("reference", func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Reference), nil
	}
}

func (r *ReferenceResolver) resolve(ctx context.Context) (*Reference, error) {
	if ref := r.cached(); ref != nil {
		return ref, nil
	}

	fileID, err := r.ids.Load()
	if err != nil {
		return nil, err
	}

	var file *genai.File
	if fileID == "" {
		if r.cfg.Path == "" {
			r.setState(RefFailed)
			return nil, ErrNoReference
		}
		file, err = r.upload(ctx, r.cfg.Path, r.cfg.DisplayName)
		if err != nil {
			r.setState(RefFailed)
			return nil, err
		}
		fileID = file.Name
	} else if ref := r.loadMirror(ctx, fileID); ref != nil {
		r.markReady(ref)
		return ref, nil
	}

	if file == nil {
		file, err = r.files.Get(ctx, fileID)
		if err != nil {
			r.setState(RefFailed)
			return nil, err
		}
	}

	file, err = r.poll(ctx, file)
	if err != nil {
		r.setState(RefFailed)
		return nil, err
	}

	ref := &Reference{Name: file.Name, URI: file.URI, MIMEType: file.MIMEType}
	if ref.MIMEType == "" {
		ref.MIMEType = r.cfg.MimeType
	}
	r.markReady(ref)
	r.storeMirror(ctx, ref)
	return ref, nil
}

func (r *ReferenceResolver) poll(ctx context.Context, file *genai.File) (*genai.File, error) {
	delay := time.Duration(r.cfg.PollBaseDelay) * time.Second
	maxDelay := time.Duration(r.cfg.PollMaxDelay) * time.Second

	for attempt := 1; file.State == genai.FileStateProcessing; attempt++ {
		r.setState(RefProcessing)
		if attempt > r.cfg.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts", ErrReferenceNotReady, r.cfg.MaxAttempts)
		}
		r.log.Info("reference file processing",
			logger.String("file", file.Name),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
		next, err := r.files.Get(ctx, file.Name)
		if err != nil {
			return nil, err
		}
		file = next
	}

	if file.State == genai.FileStateFailed {
		msg := ""
		if file.Error != nil {
			msg = file.Error.Message
		}
		r.log.Error("reference file failed", logger.String("file", file.Name), logger.String("reason", msg))
		return nil, ErrReferenceFailed
	}
	return file, nil
}

func (r *ReferenceResolver) upload(ctx context.Context, path, displayName string) (*genai.File, error) {
	r.setState(RefUploading)
	if displayName == "" {
		displayName = "Uploaded PDF"
	}
	file, err := r.files.Upload(ctx, path, r.cfg.MimeType, displayName)
	if err != nil {
		return nil, err
	}
	if err := r.ids.Save(file.Name); err != nil {
		return nil, err
	}
	r.log.Info("reference file uploaded", logger.String("file", file.Name), logger.String("path", path))
	return file, nil
}

// Upload sends a new reference document, records its handle and drops any
// cached READY reference.
func (r *ReferenceResolver) Upload(ctx context.Context, path, displayName string) (*genai.File, error) {
	file, err := r.upload(ctx, path, displayName)
	if err != nil {
		r.setState(RefFailed)
		return nil, err
	}
	r.mu.Lock()
	r.ready = nil
	r.mu.Unlock()
	if r.cache != nil {
		if err := r.cache.Del(ctx, referenceMirrorKey); err != nil {
			r.log.Warn("drop reference mirror failed", logger.Error(err))
		}
	}
	return file, nil
}

func (r *ReferenceResolver) markReady(ref *Reference) {
	r.mu.Lock()
	r.ready = ref
	r.state = RefReady
	r.mu.Unlock()
}

func (r *ReferenceResolver) loadMirror(ctx context.Context, fileID string) *Reference {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, referenceMirrorKey)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.log.Warn("read reference mirror failed", logger.Error(err))
		}
		return nil
	}
	var ref Reference
	if err := json.Unmarshal([]byte(raw), &ref); err != nil || ref.Name != fileID || ref.URI == "" {
		return nil
	}
	return &ref
}

func (r *ReferenceResolver) storeMirror(ctx context.Context, ref *Reference) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, referenceMirrorKey, data, referenceMirrorTTL); err != nil {
		r.log.Warn("write reference mirror failed", logger.Error(err))
	}
}
