package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"legalease/internal/ocr"
	"legalease/internal/pipeline"
)

var errUploadTooLarge = errors.New("file too large")

// readUpload returns the multipart "file" field as a Document and the
// session id, generating one when the client sent none.
func (h *Handler) readUpload(c *gin.Context) (ocr.Document, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errUploadTooLarge.Error()})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		}
		return ocr.Document{}, "", false
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errUploadTooLarge.Error()})
		return ocr.Document{}, "", false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return ocr.Document{}, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return ocr.Document{}, "", false
	}

	sessionID := strings.TrimSpace(c.PostForm("sessionId"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	doc := ocr.Document{
		Name:      filepath.Base(file.Filename),
		MediaType: file.Header.Get("Content-Type"),
		Data:      data,
	}
	return doc, sessionID, true
}

func (h *Handler) extractDocument(c *gin.Context) {
	doc, sessionID, ok := h.readUpload(c)
	if !ok {
		return
	}
	res, err := h.deps.Pipeline.Extract(c.Request.Context(), sessionID, doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) processDocument(c *gin.Context) {
	doc, sessionID, ok := h.readUpload(c)
	if !ok {
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	res, err := h.deps.Pipeline.Process(ctx, sessionID, doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) documentState(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	st, err := h.deps.Pipeline.State(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) clearDocumentState(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if err := h.deps.Pipeline.Clear(c.Request.Context(), sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var _ Pipeline = (*pipeline.Service)(nil)
