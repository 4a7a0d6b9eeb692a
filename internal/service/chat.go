// Package service wires conversation persistence around the query pipeline.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
	"github.com/hubdocs/docpilot/internal/pipeline"
	"github.com/hubdocs/docpilot/internal/repository"
)

// Answerer is the pipeline capability the chat service depends on.
type Answerer interface {
	Answer(ctx context.Context, req *domain.ChatRequest) (<-chan domain.Fragment, error)
}

// ChatService resolves the session for a request, runs the query pipeline
// and persists the exchanged turns once the answer stream is exhausted. The
// pipeline itself stays persistence-free.
type ChatService struct {
	sessions *repository.SessionRepository
	pipeline Answerer
	log      *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(sessions *repository.SessionRepository, p Answerer, log *zap.Logger) *ChatService {
	return &ChatService{sessions: sessions, pipeline: p, log: log}
}

var _ Answerer = (*pipeline.Query)(nil)

// Answer handles one chat request. It returns the session id and the answer
// fragment stream. Conversation turns are written only after the stream ends,
// so a consumer that disconnects mid-answer leaves no half-written state.
func (s *ChatService) Answer(ctx context.Context, req *domain.ChatRequest) (string, <-chan domain.Fragment, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}

	sessionID, err := s.resolveSession(req.SessionID)
	if err != nil {
		return "", nil, err
	}

	// Clients may send either the full history or just the newest turn;
	// in the latter case the stored history supplies the prior context.
	run := *req
	if len(req.Messages) == 1 {
		history, err := s.sessions.GetMessages(sessionID)
		if err != nil {
			return "", nil, err
		}
		if len(history) > 0 {
			run.Messages = append(history, req.Messages...)
		}
	}

	fragments, err := s.pipeline.Answer(ctx, &run)
	if err != nil {
		return "", nil, err
	}

	out := make(chan domain.Fragment)
	go func() {
		defer close(out)
		var answer strings.Builder
		var truncated bool
		for f := range fragments {
			if f.Err != nil {
				truncated = true
			}
			answer.WriteString(f.Text)
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if truncated {
			// A partial answer must not be replayed as trusted history;
			// keep the question, drop the assistant turn.
			s.persistTurn(sessionID, req.LastUserMessage(), "")
			return
		}
		s.persistTurn(sessionID, req.LastUserMessage(), answer.String())
	}()

	return sessionID, out, nil
}

func (s *ChatService) resolveSession(id string) (string, error) {
	if id == "" {
		session := &domain.Session{}
		if err := s.sessions.Create(session); err != nil {
			return "", err
		}
		return session.ID, nil
	}

	existing, err := s.sessions.Get(id)
	if err != nil {
		return "", err
	}
	if existing == nil {
		if err := s.sessions.Create(&domain.Session{ID: id}); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (s *ChatService) persistTurn(sessionID, question, answer string) {
	if err := s.sessions.AppendMessage(sessionID, domain.Message{Role: domain.RoleUser, Content: question}); err != nil {
		s.log.Warn("failed to persist user message", zap.Error(err))
		return
	}
	if answer != "" {
		if err := s.sessions.AppendMessage(sessionID, domain.Message{Role: domain.RoleAssistant, Content: answer}); err != nil {
			s.log.Warn("failed to persist assistant message", zap.Error(err))
		}
	}
	if err := s.sessions.Touch(sessionID); err != nil {
		s.log.Warn("failed to update session", zap.Error(err))
	}
}
