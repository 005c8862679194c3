package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"legalease/internal/apperr"
	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/ocr"
)

type TextExtractor interface {
	ExtractText(ctx context.Context, doc ocr.Document) string
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (models.Summary, error)
}

type Translator interface {
	Translate(ctx context.Context, summary models.Summary, language string) (models.Translation, error)
}

// Result is the outcome of an upload. When Extracted is false Text holds the
// user-visible reason and Summary is nil.
type Result struct {
	SessionID string          `json:"sessionId"`
	Text      string          `json:"text"`
	Extracted bool            `json:"extracted"`
	Summary   *models.Summary `json:"summary,omitempty"`
}

// Service runs uploads through extraction, summarisation and translation and
// keeps the latest result of each stage per session.
type Service struct {
	extractor  TextExtractor
	summarizer Summarizer
	translator Translator
	cache      Cache
	log        logger.Logger

	// serialises read-modify-write of cached state; upstream calls run outside it.
	mu sync.Mutex
}

func NewService(extractor TextExtractor, summarizer Summarizer, translator Translator, cache Cache, log logger.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		extractor:  extractor,
		summarizer: summarizer,
		translator: translator,
		cache:      cache,
		log:        log.Named("pipeline"),
	}
}

// Extract reads the document's text. A successful extraction replaces all
// state held for the session.
func (s *Service) Extract(ctx context.Context, sessionID string, doc ocr.Document) (Result, error) {
	start := time.Now()
	text := s.extractor.ExtractText(ctx, doc)
	res := Result{SessionID: sessionID, Text: text}
	if ocr.IsSentinel(text) {
		s.log.Warn("extraction failed",
			logger.String("session", sessionID),
			logger.String("file", doc.Name),
			logger.String("reason", text),
		)
		return res, nil
	}
	res.Extracted = true

	s.mu.Lock()
	defer s.mu.Unlock()
	var revision int64
	if prev, err := s.load(ctx, sessionID); err != nil {
		return res, err
	} else if prev != nil {
		revision = prev.Revision
	}
	err := s.cache.Put(ctx, &State{
		SessionID:     sessionID,
		Revision:      revision + 1,
		ExtractedText: text,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return res, apperr.Internal("Failed to store extracted text", err)
	}
	s.log.Info("document extracted",
		logger.String("session", sessionID),
		logger.String("file", doc.Name),
		logger.Int("chars", len(text)),
		logger.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Process extracts then summarises. A failed extraction stops before the
// summariser is called.
func (s *Service) Process(ctx context.Context, sessionID string, doc ocr.Document) (Result, error) {
	res, err := s.Extract(ctx, sessionID, doc)
	if err != nil || !res.Extracted {
		return res, err
	}
	summary, err := s.Summarize(ctx, sessionID, res.Text)
	if err != nil {
		return res, err
	}
	res.Summary = &summary
	return res, nil
}

// Summarize summarises text, or the session's extracted text when text is
// empty. The new summary supersedes the previous one and drops its
// translation. An empty sessionID skips caching.
func (s *Service) Summarize(ctx context.Context, sessionID, text string) (models.Summary, error) {
	var revision int64
	if sessionID != "" {
		prev, err := s.load(ctx, sessionID)
		if err != nil {
			return models.Summary{}, err
		}
		if prev != nil {
			revision = prev.Revision
			if strings.TrimSpace(text) == "" {
				text = prev.ExtractedText
			}
		}
	}

	summary, err := s.summarizer.Summarize(ctx, text)
	if err != nil || sessionID == "" {
		return summary, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return summary, err
	}
	if st == nil {
		st = &State{SessionID: sessionID, ExtractedText: text}
	} else if st.Revision != revision {
		s.log.Info("discarding summary for replaced document", logger.String("session", sessionID))
		return summary, nil
	}
	st.Summary = &summary
	st.Translation = nil
	st.Language = ""
	st.UpdatedAt = time.Now().UTC()
	if err := s.cache.Put(ctx, st); err != nil {
		s.log.Warn("store summary failed", logger.String("session", sessionID), logger.Error(err))
	}
	return summary, nil
}

// Translate renders summary, or the session's cached summary when summary is
// nil, in language. The translation is stored next to the summary.
func (s *Service) Translate(ctx context.Context, sessionID, language string, summary *models.Summary) (models.Translation, error) {
	var revision int64
	if summary == nil {
		st, err := s.load(ctx, sessionID)
		if err != nil {
			return models.Translation{}, err
		}
		if st == nil || st.Summary == nil {
			return models.Translation{}, apperr.InvalidRequest("No summary available to translate")
		}
		summary = st.Summary
		revision = st.Revision
	}

	tr, err := s.translator.Translate(ctx, *summary, language)
	if err != nil || sessionID == "" {
		return tr, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return tr, err
	}
	if st == nil {
		st = &State{SessionID: sessionID, Summary: summary}
	} else if revision != 0 && st.Revision != revision {
		return tr, nil
	}
	if st.Summary == nil {
		st.Summary = summary
	}
	st.Translation = &tr
	st.Language = tr.Language
	st.UpdatedAt = time.Now().UTC()
	if err := s.cache.Put(ctx, st); err != nil {
		s.log.Warn("store translation failed", logger.String("session", sessionID), logger.Error(err))
	}
	return tr, nil
}

func (s *Service) State(ctx context.Context, sessionID string) (*State, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound("No state for session")
	}
	return st, nil
}

func (s *Service) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		return apperr.Internal("Failed to clear session state", err)
	}
	return nil
}

// DocumentText returns the session's extracted text, "" when none is cached.
func (s *Service) DocumentText(ctx context.Context, sessionID string) (string, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil || st == nil {
		return "", err
	}
	return st.ExtractedText, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*State, error) {
	st, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			return nil, nil
		}
		return nil, apperr.Internal("Failed to load session state", err)
	}
	return st, nil
}
