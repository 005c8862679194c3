package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer turns one encoded image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// TesseractRecognizer runs tesseract through gosseract with every configured
// language model loaded at once.
type TesseractRecognizer struct {
	languages   []string
	tessdataDir string
}

func NewTesseractRecognizer(languages []string, tessdataDir string) *TesseractRecognizer {
	if len(languages) == 0 {
		languages = []string{"eng", "hin", "kan"}
	}
	return &TesseractRecognizer{languages: languages, tessdataDir: tessdataDir}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// gosseract clients are not safe for concurrent use; one per page.
	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataDir != "" {
		if err := client.SetTessdataPrefix(t.tessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}
