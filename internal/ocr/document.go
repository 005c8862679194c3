package ocr

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Document is an uploaded file awaiting text extraction.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

const mediaPDF = "application/pdf"

var supportedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/tiff": true,
	"image/bmp":  true,
	"image/gif":  true,
	"image/webp": true,
}

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrPDF             = errors.New("pdf extraction failed")
	ErrImage           = errors.New("image extraction failed")
	ErrNoText          = errors.New("no text recognized")
)

// User-visible failure strings returned in place of extracted text.
const (
	SentinelUnsupported = "Unsupported file type. Please upload a PDF or Image."
	SentinelPDF         = "Failed to extract text from PDF."
	SentinelImage       = "Failed to extract text from image."
	SentinelNoText      = "No readable text was found in the document."
)

// Sentinel maps an extraction error to its user-visible string.
func Sentinel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedType):
		return SentinelUnsupported
	case errors.Is(err, ErrNoText):
		return SentinelNoText
	case errors.Is(err, ErrPDF):
		return SentinelPDF
	default:
		return SentinelImage
	}
}

// IsSentinel reports whether s is one of the extraction failure strings.
func IsSentinel(s string) bool {
	switch s {
	case SentinelUnsupported, SentinelPDF, SentinelImage, SentinelNoText:
		return true
	}
	return false
}

// ResolveMediaType returns the declared media type, falling back to content
// sniffing and then the file extension when the client sent nothing useful.
func (d Document) ResolveMediaType() string {
	declared := normalizeMediaType(d.MediaType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(d.Data) > 0 {
		if sniffed := normalizeMediaType(mimetype.Detect(d.Data).String()); sniffed != "application/octet-stream" {
			return sniffed
		}
	}
	if ext := filepath.Ext(d.Name); ext != "" {
		if byExt := normalizeMediaType(mime.TypeByExtension(ext)); byExt != "" {
			return byExt
		}
	}
	return declared
}

func normalizeMediaType(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(v); err == nil {
		v = parsed
	}
	switch v {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp":
		return "image/bmp"
	}
	return v
}

// Supported reports whether mediaType can be extracted.
func Supported(mediaType string) bool {
	return mediaType == mediaPDF || supportedImages[mediaType]
}
