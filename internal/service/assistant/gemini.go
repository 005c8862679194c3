package assistant

import (
	"context"
	"fmt"
	"strings"

	"legalease/internal/config"
	"legalease/internal/models"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// FileService is the part of the Gemini file API the resolver needs.
type FileService interface {
	Get(ctx context.Context, name string) (*genai.File, error)
	Upload(ctx context.Context, path, mimeType, displayName string) (*genai.File, error)
}

// ChatFactory opens provider chats.
type ChatFactory interface {
	NewChat(ctx context.Context, systemInstruction string, history []models.Turn) (ChatSession, error)
}

// ChatSession is one stateful provider chat.
type ChatSession interface {
	Send(ctx context.Context, parts ...*genai.Part) (string, error)
}

// GeminiBackend implements FileService and ChatFactory over one genai client.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, cfg config.ProviderConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiBackend{client: client, model: modelName}, nil
}

func (g *GeminiBackend) Get(ctx context.Context, name string) (*genai.File, error) {
	f, err := g.client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", name, err)
	}
	return f, nil
}

func (g *GeminiBackend) Upload(ctx context.Context, path, mimeType, displayName string) (*genai.File, error) {
	f, err := g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	return f, nil
}

func (g *GeminiBackend) NewChat(ctx context.Context, systemInstruction string, history []models.Turn) (ChatSession, error) {
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	chat, err := g.client.Chats.Create(ctx, g.model, cfg, historyContents(history))
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &geminiChat{chat: chat}, nil
}

func historyContents(history []models.Turn) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(turn.Text, role))
	}
	return out
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, parts ...*genai.Part) (string, error) {
	values := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p != nil {
			values = append(values, *p)
		}
	}
	resp, err := c.chat.SendMessage(ctx, values...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
