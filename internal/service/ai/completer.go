package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"legalease/internal/config"
)

// Completer sends a conversation to a chat model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// ModelOptions tunes sampling for a chat model.
type ModelOptions struct {
	Temperature *float32
	MaxTokens   *int
}

// NewChatModel builds the eino chat model for provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, opts ModelOptions) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "perplexity", "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       provCfg.Model,
			APIKey:      provCfg.APIKey,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := 4096
		if opts.MaxTokens != nil {
			maxTokens = *opts.MaxTokens
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

type modelCompleter struct {
	model model.BaseChatModel
}

// NewModelCompleter adapts a plain chat model.
func NewModelCompleter(m model.BaseChatModel) Completer {
	return &modelCompleter{model: m}
}

func (c *modelCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

type agentCompleter struct {
	agent *react.Agent
}

// NewAgentCompleter adapts a tool-calling react agent.
func NewAgentCompleter(a *react.Agent) Completer {
	return &agentCompleter{agent: a}
}

func (c *agentCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := c.agent.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

func float32Ptr(v float32) *float32 { return &v }
func intPtr(v int) *int             { return &v }

// TranslationModelOptions pins the sampling used for translation.
func TranslationModelOptions() ModelOptions {
	return ModelOptions{Temperature: float32Ptr(0), MaxTokens: intPtr(8000)}
}
