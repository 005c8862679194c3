package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ledongthuc/pdf"

	"legalease/internal/logger"
)

// Rasterizer renders each page of a PDF as an encoded image, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([][]byte, error)
}

// PopplerRasterizer shells out to pdftoppm.
type PopplerRasterizer struct {
	bin      string
	dpi      int
	maxPages int
	tmpDir   string
	runner   Runner
	log      logger.Logger
}

type RasterizerOption func(*PopplerRasterizer)

// WithScratchDir renders pages under dir instead of the system temp dir.
func WithScratchDir(dir string) RasterizerOption {
	return func(p *PopplerRasterizer) { p.tmpDir = dir }
}

// NewPopplerRasterizer renders at 72*scale DPI, matching a viewport scale
// factor applied to the PDF's native 72 DPI user space.
func NewPopplerRasterizer(bin string, scale float64, maxPages int, log logger.Logger, opts ...RasterizerOption) *PopplerRasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	if scale <= 0 {
		scale = 2.0
	}
	p := &PopplerRasterizer{
		bin:      bin,
		dpi:      int(72 * scale),
		maxPages: maxPages,
		runner:   execRunner{log: log},
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageCount reads the page tree without rendering anything.
func PageCount(data []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return r.NumPage(), nil
}

func (p *PopplerRasterizer) Rasterize(ctx context.Context, data []byte) ([][]byte, error) {
	pages, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	if pages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	if p.tmpDir != "" {
		if err := os.MkdirAll(p.tmpDir, 0o755); err != nil {
			return nil, err
		}
	}
	tmpDir, err := os.MkdirTemp(p.tmpDir, "legalease-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			p.log.Warn("remove temp dir", logger.String("dir", tmpDir), logger.Error(err))
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(p.dpi), "-png"}
	if p.maxPages > 0 && pages > p.maxPages {
		args = append(args, "-l", strconv.Itoa(p.maxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := p.runner.Run(ctx, p.bin, args...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// pdftoppm zero-pads page numbers to equal width, so lexical order is page order.
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}

	images := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		images = append(images, b)
	}
	p.log.Debug("pdf rasterized", logger.Int("pages", pages), logger.Int("rendered", len(images)), logger.Int("dpi", p.dpi))
	return images, nil
}
