package assistant

import (
	"context"
	"errors"
	"strings"

	"legalease/internal/apperr"
	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/worker"

	"google.golang.org/genai"
)

const DefaultSessionID = "default-user"

// DocumentSource supplies the extracted text cached for a session.
type DocumentSource interface {
	DocumentText(ctx context.Context, sessionID string) (string, error)
}

// Service answers questions about the reference document, one Gemini chat per session.
type Service struct {
	chats    ChatFactory
	resolver *ReferenceResolver
	prompts  *PromptStore
	docs     DocumentSource
	manager  *worker.Manager
	log      logger.Logger
}

func NewService(chats ChatFactory, resolver *ReferenceResolver, prompts *PromptStore, docs DocumentSource, log logger.Logger, opts ...worker.Option) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		chats:    chats,
		resolver: resolver,
		prompts:  prompts,
		docs:     docs,
		log:      log.Named("assistant"),
	}
	s.manager = worker.NewManager(s.openConversation, s.log, opts...)
	return s
}

func (s *Service) Manager() *worker.Manager { return s.manager }

// Ask sends question on sessionID's chat. When documentText is empty the
// session's cached extraction is attached instead.
func (s *Service) Ask(ctx context.Context, sessionID, question, documentText string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", apperr.InvalidRequest("Question is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = DefaultSessionID
	}
	if documentText == "" && s.docs != nil {
		text, err := s.docs.DocumentText(ctx, sessionID)
		if err != nil {
			s.log.Warn("load cached document text failed", logger.String("session", sessionID), logger.Error(err))
		} else {
			documentText = text
		}
	}

	answer, err := s.manager.Ask(ctx, sessionID, question, documentText)
	if err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			return "", apperr.Busy("server is busy, please retry")
		}
		s.log.Error("ask gemini failed", logger.String("session", sessionID), logger.Error(err))
		return "", apperr.Upstream("Failed to get an answer from the model.", err)
	}
	return answer, nil
}

func (s *Service) History(sessionID string) []models.Turn {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = DefaultSessionID
	}
	return s.manager.History(sessionID)
}

// Reset drops the session's chat and history.
func (s *Service) Reset(sessionID string) {
	s.manager.Purge(sessionID)
}

func (s *Service) Stop() {
	s.manager.Stop()
}

func (s *Service) openConversation(ctx context.Context, sessionID string, history []models.Turn) (worker.Conversation, error) {
	persona := s.prompts.Persona()
	chat, err := s.chats.NewChat(ctx, persona, history)
	if err != nil {
		return nil, err
	}
	s.log.Info("chat session created", logger.String("session", sessionID), logger.Int("history", len(history)))
	return &conversation{
		chat:     chat,
		resolver: s.resolver,
		reminder: PersonaReminder(persona),
	}, nil
}

type conversation struct {
	chat     ChatSession
	resolver *ReferenceResolver
	reminder string
}

func (c *conversation) Send(ctx context.Context, question, documentText string) (string, error) {
	ref, err := c.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	parts := []*genai.Part{ref.Part()}
	if documentText != "" {
		parts = append(parts, genai.NewPartFromText("Document Content: "+documentText))
	}
	parts = append(parts, genai.NewPartFromText(c.reminder+" "+question))
	return c.chat.Send(ctx, parts...)
}
