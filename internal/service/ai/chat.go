package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"legalease/internal/apperr"
	"legalease/internal/logger"
)

const chatSystemPrompt = "You are a helpful assistant who understands context from previous messages."

// ChatMessage is one entry of a client-held chat transcript.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ChatService forwards free-form conversations to the chat model.
type ChatService struct {
	completer Completer
	log       logger.Logger
}

func NewChatService(completer Completer, log logger.Logger) *ChatService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ChatService{completer: completer, log: log}
}

// Reply answers text, or the transcript when text is empty. sessionID, when
// set, lets tools read that session's document.
func (c *ChatService) Reply(ctx context.Context, sessionID, text string, transcript []ChatMessage) (string, error) {
	var messages []*schema.Message
	switch {
	case text != "":
		messages = []*schema.Message{{Role: schema.User, Content: text}}
	case transcript != nil:
		messages = make([]*schema.Message, 0, len(transcript))
		for _, m := range transcript {
			role := schema.Assistant
			if m.Sender == "user" {
				role = schema.User
			}
			messages = append(messages, &schema.Message{Role: role, Content: m.Text})
		}
	default:
		return "", apperr.InvalidRequest("Please provide either 'text' or 'messages' array in request body.")
	}
	messages = append([]*schema.Message{{Role: schema.System, Content: chatSystemPrompt}}, messages...)

	if sessionID != "" {
		ctx = WithToolSession(ctx, sessionID)
	}
	reply, err := c.completer.Complete(ctx, messages)
	if err != nil {
		c.log.Error("chat request failed", logger.Error(err))
		return "", apperr.Upstream("Something went wrong", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "No reply received."
	}
	return reply, nil
}
