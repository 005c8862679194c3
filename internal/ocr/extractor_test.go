package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalease/internal/logger"
)

type stubRecognizer struct {
	fn    func(width int) (string, error)
	calls atomic.Int32
}

func (s *stubRecognizer) Recognize(ctx context.Context, data []byte) (string, error) {
	s.calls.Add(1)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return s.fn(cfg.Width)
}

type stubRasterizer struct {
	pages [][]byte
	err   error
}

func (s stubRasterizer) Rasterize(ctx context.Context, data []byte) ([][]byte, error) {
	return s.pages, s.err
}

func pngOfWidth(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 4))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractImageNormalizesText(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) {
		return "Rent is due\n  on the 1st\n\nof each month \n", nil
	}}
	ex := NewExtractor(rec, stubRasterizer{}, 2, logger.NewNop())

	text, err := ex.Extract(context.Background(), Document{Name: "lease.png", MediaType: "image/png", Data: pngOfWidth(t, 3)})
	require.NoError(t, err)
	assert.Equal(t, "Rent is due on the 1st of each month", text)
}

func TestExtractSniffsOctetStream(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) { return "hello", nil }}
	ex := NewExtractor(rec, stubRasterizer{}, 1, logger.NewNop())

	text := ex.ExtractText(context.Background(), Document{Name: "blob", MediaType: "application/octet-stream", Data: pngOfWidth(t, 2)})
	assert.Equal(t, "hello", text)
}

func TestExtractUnsupportedType(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) { return "never", nil }}
	ex := NewExtractor(rec, stubRasterizer{}, 1, logger.NewNop())

	_, err := ex.Extract(context.Background(), Document{Name: "notes.txt", MediaType: "text/plain", Data: []byte("plain")})
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, SentinelUnsupported, Sentinel(err))
	assert.Zero(t, rec.calls.Load())
}

func TestExtractPDFKeepsPageOrder(t *testing.T) {
	pages := [][]byte{pngOfWidth(t, 1), pngOfWidth(t, 2), pngOfWidth(t, 3)}
	rec := &stubRecognizer{fn: func(width int) (string, error) {
		// Earlier pages finish last.
		time.Sleep(time.Duration(4-width) * 10 * time.Millisecond)
		return fmt.Sprintf("page %d\n", width), nil
	}}
	ex := NewExtractor(rec, stubRasterizer{pages: pages}, 3, logger.NewNop())

	text, err := ex.Extract(context.Background(), Document{Name: "contract.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "page 1 page 2 page 3", text)
}

func TestExtractPDFPageFailureAbortsWholeDocument(t *testing.T) {
	pages := [][]byte{pngOfWidth(t, 1), pngOfWidth(t, 2)}
	rec := &stubRecognizer{fn: func(width int) (string, error) {
		if width == 2 {
			return "", errors.New("tesseract crashed")
		}
		return "page one", nil
	}}
	ex := NewExtractor(rec, stubRasterizer{pages: pages}, 1, logger.NewNop())

	doc := Document{Name: "contract.pdf", MediaType: "application/pdf", Data: []byte("%PDF-1.4")}
	_, err := ex.Extract(context.Background(), doc)
	require.ErrorIs(t, err, ErrPDF)
	assert.Equal(t, SentinelPDF, ex.ExtractText(context.Background(), doc))
}

func TestExtractRasterizeFailure(t *testing.T) {
	ex := NewExtractor(&stubRecognizer{}, stubRasterizer{err: errors.New("corrupt xref")}, 1, logger.NewNop())

	text := ex.ExtractText(context.Background(), Document{Name: "x.pdf", MediaType: "application/pdf", Data: []byte("%PDF")})
	assert.Equal(t, SentinelPDF, text)
}

func TestExtractEmptyRecognition(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) { return " \n \n", nil }}
	ex := NewExtractor(rec, stubRasterizer{}, 1, logger.NewNop())

	_, err := ex.Extract(context.Background(), Document{Name: "blank.jpg", MediaType: "image/png", Data: pngOfWidth(t, 1)})
	require.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, SentinelNoText, Sentinel(err))
}

func TestExtractImageFailureSentinel(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) { return "", errors.New("leptonica: bad image") }}
	ex := NewExtractor(rec, stubRasterizer{}, 1, logger.NewNop())

	text := ex.ExtractText(context.Background(), Document{Name: "a.png", MediaType: "image/png", Data: pngOfWidth(t, 1)})
	assert.Equal(t, SentinelImage, text)
	assert.True(t, IsSentinel(text))
}

func TestExtractTextRecoversFromPanic(t *testing.T) {
	rec := &stubRecognizer{fn: func(int) (string, error) { panic("cgo blew up") }}
	ex := NewExtractor(rec, stubRasterizer{}, 1, logger.NewNop())

	text := ex.ExtractText(context.Background(), Document{Name: "a.png", MediaType: "image/png", Data: pngOfWidth(t, 1)})
	assert.Equal(t, SentinelImage, text)
}
