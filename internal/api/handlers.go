package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"

	"legalease/internal/apperr"
	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/ocr"
	"legalease/internal/pipeline"
	"legalease/internal/service/ai"
)

const defaultMaxUploadBytes = 20 << 20

type Pipeline interface {
	Extract(ctx context.Context, sessionID string, doc ocr.Document) (pipeline.Result, error)
	Process(ctx context.Context, sessionID string, doc ocr.Document) (pipeline.Result, error)
	Summarize(ctx context.Context, sessionID, text string) (models.Summary, error)
	Translate(ctx context.Context, sessionID, language string, summary *models.Summary) (models.Translation, error)
	State(ctx context.Context, sessionID string) (*pipeline.State, error)
	Clear(ctx context.Context, sessionID string) error
}

type TextProcessor interface {
	ProcessText(ctx context.Context, text, prompt string) (string, openai.ChatCompletionResponse, error)
}

type RawTranslator interface {
	TranslateRaw(ctx context.Context, text string) (any, error)
}

type Chatter interface {
	Reply(ctx context.Context, sessionID, text string, transcript []ai.ChatMessage) (string, error)
}

type Assistant interface {
	Ask(ctx context.Context, sessionID, question, documentText string) (string, error)
	History(sessionID string) []models.Turn
	Reset(sessionID string)
}

type PromptStore interface {
	Get() (map[string]any, error)
	Save(body map[string]any) (string, error)
}

type FileIDStore interface {
	Raw() (map[string]any, error)
}

type LawyerDirectory interface {
	Search(ctx context.Context, filter models.LawyerFilter) ([]models.Lawyer, error)
	Get(ctx context.Context, id int64) (models.Lawyer, error)
}

// Deps collects the services behind the HTTP routes.
type Deps struct {
	Pipeline   Pipeline
	Processor  TextProcessor
	Translator RawTranslator
	Chat       Chatter
	Assistant  Assistant
	Prompts    PromptStore
	FileIDs    FileIDStore
	Lawyers    LawyerDirectory
	// ReferenceState reports the reference document lifecycle on /health. Optional.
	ReferenceState func() string
}

// Handler wires HTTP routes to the document, chat and directory services.
type Handler struct {
	deps           Deps
	log            logger.Logger
	maxUploadBytes int64
	timeout        time.Duration
}

func NewHandler(deps Deps, log logger.Logger, maxUploadBytes int64, timeout time.Duration) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{deps: deps, log: log.Named("api"), maxUploadBytes: maxUploadBytes, timeout: timeout}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/simplify", h.simplify)
	api.POST("/translate", h.translate)
	api.POST("/translate/summary", h.translateSummary)
	api.POST("/chat", h.chat)
	api.POST("/process-text", h.processText)

	api.POST("/ask-gemini", h.askGemini)
	api.GET("/ask-gemini/history", h.askHistory)
	api.DELETE("/ask-gemini/session", h.resetAsk)

	api.GET("/prompts", h.getPrompts)
	api.POST("/prompts", h.savePrompts)
	api.GET("/fileId", h.getFileID)

	docs := api.Group("/documents")
	docs.POST("/extract", h.extractDocument)
	docs.POST("/process", h.processDocument)
	docs.GET("/state", h.documentState)
	docs.DELETE("/state", h.clearDocumentState)

	api.GET("/lawyer/lawyers", h.searchLawyers)
	api.GET("/lawyer/:id", h.getLawyer)
}

// upstreamContext bounds calls that reach a model provider.
func (h *Handler) upstreamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Int("status", status),
			logger.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.deps.ReferenceState != nil {
		if state := h.deps.ReferenceState(); state != "" {
			body["reference"] = state
		}
	}
	c.JSON(http.StatusOK, body)
}

type textRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) simplify(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	summary, err := h.deps.Pipeline.Summarize(ctx, strings.TrimSpace(req.SessionID), req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) translate(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	out, err := h.deps.Translator.TranslateRaw(ctx, req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type translateSummaryRequest struct {
	SessionID string          `json:"sessionId"`
	Language  string          `json:"language"`
	Summary   *models.Summary `json:"summary"`
}

func (h *Handler) translateSummary(c *gin.Context) {
	var req translateSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	out, err := h.deps.Pipeline.Translate(ctx, strings.TrimSpace(req.SessionID), req.Language, req.Summary)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type chatRequest struct {
	Text      string           `json:"text"`
	Messages  []ai.ChatMessage `json:"messages"`
	SessionID string           `json:"sessionId"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please provide either 'text' or 'messages' array in request body."})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	reply, err := h.deps.Chat.Reply(ctx, req.SessionID, req.Text, req.Messages)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

type processTextRequest struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

func (h *Handler) processText(c *gin.Context) {
	var req processTextRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	reply, raw, err := h.deps.Processor.ProcessText(ctx, req.Text, req.Prompt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "raw": raw})
}

type askRequest struct {
	Question     string `json:"question"`
	SessionID    string `json:"sessionId"`
	DocumentText string `json:"documentText"`
}

func (h *Handler) askGemini(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is required"})
		return
	}
	ctx, cancel := h.upstreamContext(c)
	defer cancel()
	answer, err := h.deps.Assistant.Ask(ctx, req.SessionID, req.Question, req.DocumentText)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": req.Question, "answer": answer})
}

func (h *Handler) askHistory(c *gin.Context) {
	sessionID := c.Query("sessionId")
	history := h.deps.Assistant.History(sessionID)
	if history == nil {
		history = []models.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "history": history})
}

func (h *Handler) resetAsk(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	h.deps.Assistant.Reset(sessionID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) getPrompts(c *gin.Context) {
	prompts, err := h.deps.Prompts.Get()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, prompts)
}

func (h *Handler) savePrompts(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body must include questions array"})
		return
	}
	saved, err := h.deps.Prompts.Save(body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "saved": saved})
}

func (h *Handler) getFileID(c *gin.Context) {
	rec, err := h.deps.FileIDs.Raw()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) searchLawyers(c *gin.Context) {
	filter := models.LawyerFilter{
		Specialization: c.Query("specialization"),
		City:           c.Query("city"),
		Language:       c.Query("language"),
	}
	lawyers, err := h.deps.Lawyers.Search(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lawyers)
}

func (h *Handler) getLawyer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "Lawyer not found"})
		return
	}
	lawyer, err := h.deps.Lawyers.Get(c.Request.Context(), id)
	if err != nil {
		if apperr.StatusOf(err) == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"message": apperr.MessageOf(err)})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lawyer)
}
