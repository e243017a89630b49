// Package message coordinates user prompts across agents, the event bus and
// the session journal. It owns the subscriptions that feed persisted history
// and publishes session status transitions around each turn.
package message

import (
	"context"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events"
	"github.com/agentx/agentx/internal/events/bus"
	"github.com/agentx/agentx/internal/persistence"
)

// Service routes prompts to agents and keeps the journal fed from the bus.
type Service struct {
	bus         bus.EventBus
	manager     *agent.Manager
	persistence *persistence.Service
	logger      *logger.Logger

	subs []bus.Subscription
}

// NewService wires the message service. Call InitPersistence to start
// journaling bus traffic.
func NewService(eventBus bus.EventBus, manager *agent.Manager, persist *persistence.Service, log *logger.Logger) *Service {
	return &Service{
		bus:         eventBus,
		manager:     manager,
		persistence: persist,
		logger:      log.WithFields(zap.String("component", "message-service")),
	}
}

// InitPersistence subscribes the journal to the bus. Session updates use a
// queue subscription so each update is persisted exactly once even with
// multiple daemon instances on a shared NATS; status events trigger flushes.
func (s *Service) InitPersistence() error {
	updateSub, err := s.bus.QueueSubscribe(events.SubjectSessionUpdateAll, "persistence", s.handleSessionUpdate)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session updates: %w", err)
	}
	s.subs = append(s.subs, updateSub)

	statusSub, err := s.bus.Subscribe(events.SubjectSessionStatusAll, s.handleSessionStatus)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session status: %w", err)
	}
	s.subs = append(s.subs, statusSub)

	s.logger.Info("persistence subscriptions active")
	return nil
}

// Close drops the bus subscriptions.
func (s *Service) Close() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	s.subs = nil
}

func (s *Service) handleSessionUpdate(ctx context.Context, event *bus.Event) error {
	payload, err := events.SessionUpdateFromEvent(event)
	if err != nil {
		s.logger.Warn("dropping malformed session update event", zap.Error(err))
		return nil
	}

	if err := s.persistence.SaveUpdate(payload.SessionID, payload.Update); err != nil {
		s.logger.Error("failed to persist session update",
			zap.String("session_id", payload.SessionID), zap.Error(err))
	}
	return nil
}

func (s *Service) handleSessionStatus(ctx context.Context, event *bus.Event) error {
	payload, err := events.SessionStatusFromEvent(event)
	if err != nil {
		s.logger.Warn("dropping malformed session status event", zap.Error(err))
		return nil
	}

	switch payload.Status {
	case events.StatusCompleted, events.StatusFailed, events.StatusIdle:
		if err := s.persistence.FlushSession(payload.SessionID); err != nil {
			s.logger.Error("failed to flush session journal",
				zap.String("session_id", payload.SessionID), zap.Error(err))
		}
	}
	return nil
}

// SendMessage publishes the user's content blocks as session updates, sends
// the prompt to the agent and blocks until the turn completes. Status events
// bracket the turn: active before the prompt, completed or failed after.
func (s *Service) SendMessage(ctx context.Context, agentName, sessionID string, blocks []acp.ContentBlock) (acp.PromptResponse, error) {
	if len(blocks) == 0 {
		return acp.PromptResponse{}, fmt.Errorf("prompt has no content")
	}

	h, err := s.manager.Get(agentName)
	if err != nil {
		return acp.PromptResponse{}, err
	}

	s.PublishUserMessage(ctx, agentName, sessionID, blocks)
	s.publishStatus(ctx, agentName, sessionID, events.StatusActive)

	resp, err := h.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    blocks,
	})
	if err != nil {
		s.publishStatus(ctx, agentName, sessionID, events.StatusFailed)
		return acp.PromptResponse{}, err
	}

	s.logger.Info("turn completed",
		zap.String("agent", agentName),
		zap.String("session_id", sessionID),
		zap.String("stop_reason", string(resp.StopReason)))
	s.publishStatus(ctx, agentName, sessionID, events.StatusCompleted)
	return resp, nil
}

// SendText is SendMessage with a single text block.
func (s *Service) SendText(ctx context.Context, agentName, sessionID, text string) (acp.PromptResponse, error) {
	return s.SendMessage(ctx, agentName, sessionID, []acp.ContentBlock{acp.TextBlock(text)})
}

// Cancel aborts the in-flight turn of a session. The prompt RPC returns with
// a cancelled stop reason, so status transitions are left to SendMessage.
func (s *Service) Cancel(ctx context.Context, agentName, sessionID string) error {
	h, err := s.manager.Get(agentName)
	if err != nil {
		return err
	}
	return h.Cancel(ctx, acp.SessionId(sessionID))
}

// PublishUserMessage fans the user's blocks out as user_message_chunk updates
// so subscribers (journal included) see the user's side of the conversation.
func (s *Service) PublishUserMessage(ctx context.Context, agentName, sessionID string, blocks []acp.ContentBlock) {
	for _, block := range blocks {
		event := events.NewSessionUpdateEvent("message-service", events.SessionUpdatePayload{
			SessionID: sessionID,
			AgentName: agentName,
			Update:    acp.UpdateUserMessage(block),
		})
		if err := s.bus.Publish(ctx, events.SubjectSessionUpdate(sessionID), event); err != nil {
			s.logger.Error("failed to publish user message",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// LoadHistory returns the persisted transcript of a session.
func (s *Service) LoadHistory(sessionID string) ([]persistence.PersistedMessage, error) {
	return s.persistence.LoadMessages(sessionID)
}

// DeleteHistory removes a session's journal.
func (s *Service) DeleteHistory(sessionID string) error {
	return s.persistence.DeleteSession(sessionID)
}

// ListSessions returns the IDs of sessions with persisted history.
func (s *Service) ListSessions() ([]string, error) {
	return s.persistence.ListSessions()
}

// HasHistory reports whether the session has a journal file.
func (s *Service) HasHistory(sessionID string) bool {
	return s.persistence.SessionFileExists(sessionID)
}

func (s *Service) publishStatus(ctx context.Context, agentName, sessionID, status string) {
	event := events.NewSessionStatusEvent("message-service", events.SessionStatusPayload{
		SessionID: sessionID,
		AgentName: agentName,
		Status:    status,
	})
	if err := s.bus.Publish(ctx, events.SubjectSessionStatus(sessionID), event); err != nil {
		s.logger.Error("failed to publish session status",
			zap.String("session_id", sessionID),
			zap.String("status", status),
			zap.Error(err))
	}
}
