package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"legalease/internal/apperr"
	"legalease/internal/config"
	"legalease/internal/logger"
	"legalease/internal/models"
)

const (
	jsonOnlyPrompt     = "You are a JSON-only assistant. Return only valid JSON that matches the provided schema."
	legalAssistPrompt  = "You are a helpful legal assistant."
	defaultProcessTask = "Simplify and summarize this legal text. Focus on obligations, risks, key dates, parties, and termination clauses."

	// go-openai omits a zero temperature from the request body.
	zeroTemperature = math.SmallestNonzeroFloat32
)

// CompletionClient is the part of the OpenAI-compatible client the summarizer needs.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewCompletionClient points go-openai at an OpenAI-compatible provider.
func NewCompletionClient(p config.ProviderConfig, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// Summarizer asks the provider for a schema-constrained Summary.
type Summarizer struct {
	client CompletionClient
	model  string
	log    logger.Logger
}

func NewSummarizer(client CompletionClient, model string, log logger.Logger) *Summarizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Summarizer{client: client, model: model, log: log}
}

// Summarize returns the provider's Summary for text. The reply is decoded but
// not re-validated against the schema.
func (s *Summarizer) Summarize(ctx context.Context, text string) (models.Summary, error) {
	if strings.TrimSpace(text) == "" {
		return models.Summary{}, apperr.InvalidRequest("Text is required")
	}

	schemaJSON, err := json.Marshal(summarySchema)
	if err != nil {
		return models.Summary{}, apperr.Internal("Something went wrong", err)
	}

	prompt := "\nSummarize this legal text in plain English and extract important clauses.\nText:\n" + text + "\n"
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: jsonOnlyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "contract_summary_schema",
				Schema: json.RawMessage(schemaJSON),
			},
		},
		Temperature: zeroTemperature,
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		s.log.Error("summarize request failed", logger.Error(err))
		return models.Summary{}, apperr.Upstream("Failed to summarize document", err)
	}

	reply := firstContent(resp)
	if reply == "" {
		return models.Summary{}, apperr.BadUpstreamPayload("No valid content from API.", nil)
	}
	reply = stripFences(reply)

	var summary models.Summary
	if err := json.Unmarshal([]byte(reply), &summary); err != nil {
		s.log.Warn("summary reply is not json", logger.Error(err), logger.Int("reply_chars", len(reply)))
		return models.Summary{}, apperr.BadUpstreamPayload("Invalid JSON received", err)
	}
	if summary.KeyClauses == nil {
		summary.KeyClauses = []models.Clause{}
	}

	s.log.Info("document summarized",
		logger.Int("clauses", len(summary.KeyClauses)),
		logger.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

// ProcessText asks for a free-form summary with key clauses and returns the
// reply together with the provider's full response.
func (s *Summarizer) ProcessText(ctx context.Context, text, prompt string) (string, openai.ChatCompletionResponse, error) {
	if strings.TrimSpace(text) == "" {
		return "", openai.ChatCompletionResponse{}, apperr.InvalidRequest("Text is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultProcessTask
	}

	content := fmt.Sprintf("\n%s\nExtract key clauses with fields 'title', 'detail', and 'riskLevel'.\nReturn JSON only with 'summary' and 'keyClauses'.\nText:\n%s", prompt, text)
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: legalAssistPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	})
	if err != nil {
		return "", resp, apperr.Upstream("Something went wrong with Perplexity API", err)
	}
	if len(resp.Choices) == 0 {
		return "", resp, apperr.Upstream("Invalid response from Perplexity API", nil)
	}

	reply := firstContent(resp)
	if reply == "" {
		reply = "No reply received"
	}
	return reply, resp, nil
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}
