package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"legalease/internal/apperr"
	"legalease/internal/logger"
	"legalease/internal/models"
)

const translateSystemPrompt = "Translate this text into multiple Indian languages if required."

// Translator renders a Summary in another language while keeping each
// clause's status and alert untouched.
type Translator struct {
	completer Completer
	log       logger.Logger
}

func NewTranslator(completer Completer, log logger.Logger) *Translator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Translator{completer: completer, log: log}
}

// IsSourceLanguage reports whether language asks for no translation at all.
func IsSourceLanguage(language string) bool {
	language = strings.TrimSpace(language)
	return language == "" || strings.EqualFold(language, "english")
}

// Translate returns summary rendered in language. Replies that cannot be
// parsed into a Summary with the same clauses degrade to the raw reply as the
// summary text with the original clauses.
func (t *Translator) Translate(ctx context.Context, summary models.Summary, language string) (models.Translation, error) {
	language = strings.TrimSpace(language)
	if IsSourceLanguage(language) {
		return models.Translation{Language: "english", Summary: summary}, nil
	}

	start := time.Now()
	reply, err := t.completer.Complete(ctx, []*schema.Message{
		{Role: schema.System, Content: translateSystemPrompt},
		{Role: schema.User, Content: buildTranslationPrompt(summary, language)},
	})
	if err != nil {
		t.log.Error("translation request failed", logger.String("language", language), logger.Error(err))
		return models.Translation{}, apperr.Upstream("Failed to translate summary", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return models.Translation{}, apperr.BadUpstreamPayload("No valid content from API.", nil)
	}

	out := models.Translation{Language: language, Translated: true}
	parsed, perr := parseTranslatedSummary(reply, summary)
	if perr != nil {
		t.log.Warn("translation reply degraded", logger.String("language", language), logger.Error(perr))
		out.Degraded = true
		out.Summary = models.Summary{Summary: stripFences(reply), KeyClauses: cloneClauses(summary.KeyClauses)}
	} else {
		out.Summary = parsed
	}

	t.log.Info("summary translated",
		logger.String("language", language),
		logger.Bool("degraded", out.Degraded),
		logger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// TranslateRaw forwards free text and returns the reply as decoded JSON when
// possible, otherwise wrapped as {"translation": reply}.
func (t *Translator) TranslateRaw(ctx context.Context, text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidRequest("Text is required")
	}
	reply, err := t.completer.Complete(ctx, []*schema.Message{
		{Role: schema.System, Content: translateSystemPrompt},
		{Role: schema.User, Content: text},
	})
	if err != nil {
		return nil, apperr.Upstream("Failed to translate text", err)
	}
	reply = stripFences(reply)

	var decoded any
	if err := json.Unmarshal([]byte(reply), &decoded); err == nil {
		return decoded, nil
	}
	return map[string]string{"translation": reply}, nil
}

// parseTranslatedSummary accepts the reply as-is or with code fences removed.
// The result must match the summary schema and keep the clause count; status
// and alert are then copied from the original.
func parseTranslatedSummary(reply string, original models.Summary) (models.Summary, error) {
	candidates := []string{reply}
	if stripped := stripFences(reply); stripped != reply {
		candidates = append(candidates, stripped)
	}

	var lastErr error
	for _, c := range candidates {
		if err := validateSummaryJSON([]byte(c)); err != nil {
			lastErr = err
			continue
		}
		var s models.Summary
		if err := json.Unmarshal([]byte(c), &s); err != nil {
			lastErr = err
			continue
		}
		if len(s.KeyClauses) != len(original.KeyClauses) {
			lastErr = fmt.Errorf("reply has %d clauses, want %d", len(s.KeyClauses), len(original.KeyClauses))
			continue
		}
		for i := range s.KeyClauses {
			s.KeyClauses[i].Status = original.KeyClauses[i].Status
			s.KeyClauses[i].Alert = original.KeyClauses[i].Alert
		}
		return s, nil
	}
	return models.Summary{}, lastErr
}

func buildTranslationPrompt(s models.Summary, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nTranslate the following legal document summary and all key clauses completely into %s language.\n", language)
	b.WriteString(`You MUST return the response in this exact JSON format (no markdown, no code blocks, just raw JSON):

{
  "summary": "translated summary text here",
  "keyClauses": [
    {
      "title": "translated title",
      "detail": "translated detail",
      "status": "keep original English status unchanged",
      "alert": keep original boolean value unchanged
    }
  ]
}

Original Document:
`)
	fmt.Fprintf(&b, "Summary: %s\n\nKey Clauses to translate:\n", s.Summary)
	for i, c := range s.KeyClauses {
		fmt.Fprintf(&b, "\nClause %d:\n- Title: %s\n- Detail: %s\n- Status: %s (DO NOT TRANSLATE)\n- Alert: %t (DO NOT CHANGE)\n",
			i+1, c.Title, c.Detail, c.Status, c.Alert)
	}
	b.WriteString("\nRemember: Return ONLY valid JSON. Translate the \"summary\", \"title\", and \"detail\" fields. Keep \"status\" and \"alert\" values unchanged.\n")
	return b.String()
}

func cloneClauses(in []models.Clause) []models.Clause {
	out := make([]models.Clause, len(in))
	copy(out, in)
	return out
}
