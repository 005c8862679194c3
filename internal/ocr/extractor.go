package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"legalease/internal/logger"
)

// Extractor turns uploaded documents into normalized plain text.
type Extractor struct {
	recognizer  Recognizer
	rasterizer  Rasterizer
	concurrency int
	log         logger.Logger
}

func NewExtractor(recognizer Recognizer, rasterizer Rasterizer, concurrency int, log logger.Logger) *Extractor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{
		recognizer:  recognizer,
		rasterizer:  rasterizer,
		concurrency: concurrency,
		log:         log,
	}
}

// Extract recognizes the document's text. Errors wrap one of ErrUnsupportedType,
// ErrPDF, ErrImage or ErrNoText.
func (e *Extractor) Extract(ctx context.Context, doc Document) (string, error) {
	start := time.Now()
	mediaType := doc.ResolveMediaType()
	if !Supported(mediaType) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
	}

	var (
		raw string
		err error
	)
	if mediaType == mediaPDF {
		raw, err = e.extractPDF(ctx, doc.Data)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPDF, err)
		}
	} else {
		raw, err = e.extractImage(ctx, doc.Data)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrImage, err)
		}
	}
	if err != nil {
		e.log.Warn("extraction failed",
			logger.String("name", doc.Name),
			logger.String("media_type", mediaType),
			logger.Error(err),
		)
		return "", err
	}

	text := Normalize(raw)
	if text == "" {
		return "", ErrNoText
	}
	e.log.Info("extraction finished",
		logger.String("name", doc.Name),
		logger.String("media_type", mediaType),
		logger.Int("chars", len(text)),
		logger.Duration("duration", time.Since(start)),
	)
	return text, nil
}

// ExtractText returns the extracted text or the sentinel describing why
// extraction failed. It never panics.
func (e *Extractor) ExtractText(ctx context.Context, doc Document) (out string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("extraction panicked", logger.Any("panic", r))
			if doc.ResolveMediaType() == mediaPDF {
				out = SentinelPDF
			} else {
				out = SentinelImage
			}
		}
	}()
	text, err := e.Extract(ctx, doc)
	if err != nil {
		return Sentinel(err)
	}
	return text
}

func (e *Extractor) extractImage(ctx context.Context, data []byte) (string, error) {
	prepared, err := prepareImage(data)
	if err != nil {
		// Leptonica reads a few formats Go cannot decode; give it the original bytes.
		e.log.Debug("image preparation skipped", logger.Error(err))
		prepared = data
	}
	return e.recognizer.Recognize(ctx, prepared)
}

// extractPDF recognizes pages concurrently and joins them in page order.
// The first failing page cancels the rest.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	pages, err := e.rasterizer.Rasterize(ctx, data)
	if err != nil {
		return "", fmt.Errorf("rasterize: %w", err)
	}

	texts := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, page := range pages {
		g.Go(func() error {
			prepared, err := prepareImage(page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			text, err := e.recognizer.Recognize(gctx, prepared)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(texts, "\n"), nil
}
