package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/metrics"
	"github.com/kailas-cloud/askdex/internal/usecase/citation"
)

// ChatRequest is one conversational turn.
type ChatRequest struct {
	SessionID string
	Message   string
	Items     domain.ContextSelection
	// ModelOverride pins the chat model and disables fallback.
	ModelOverride string
}

// Chat validates req and starts one turn. The stream carries a single
// final_answer or error event. Both the user message and the reply are
// appended to the session before the final answer is emitted.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (<-chan domain.Event, error) {
	if !domain.IsValidID(req.SessionID) {
		return nil, fmt.Errorf("%w: session id must match [a-zA-Z0-9_-]{1,64}", domain.ErrInvalidInput)
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}
	items, err := NormalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	req.Items = items

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		ctx = withUsage(ctx)
		ctx = logger.With(ctx, zap.String("session_id", req.SessionID))
		em := newEmitter(ctx, out)

		err := s.chat(ctx, req, em)
		if err != nil {
			em.fail(err)
			logger.FromContextOr(ctx, s.logger).Warn("Chat turn failed", zap.Error(err), zap.String("stage", string(em.stage)))
		}
		metrics.AnswerRequestsTotal.WithLabelValues("chat", outcome(err)).Inc()
	}()
	return out, nil
}

func (s *Service) chat(ctx context.Context, req ChatRequest, em *emitter) error {
	history, err := s.history.Recent(ctx, req.SessionID, s.opts.HistoryTurns)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if err := em.enter(domain.StageRetrieving); err != nil {
		return err
	}
	strategy := domain.SearchStrategy{}
	strategy.Normalize(req.Message)
	found, payload, err := s.gather(ctx, strategy, req.Items)
	if err != nil {
		return err
	}
	evidence, trimmed := s.evidenceFor(found, nil)

	if err := em.enter(domain.StageFinalSynthesis); err != nil {
		return err
	}
	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: chatSystemPrompt(payload.Render(), citation.Render(evidence))})
	for _, t := range history {
		msgs = append(msgs, domain.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: req.Message})

	res, err := s.gen.Generate(ctx, domain.GenerateRequest{
		Task:      domain.TaskChat,
		Model:     req.ModelOverride,
		Messages:  msgs,
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("chat reply: %w", err)
	}
	cited := s.mapper.Map(ctx, res.Text, evidence)

	warnings := payloadWarnings(payload.Manifest)
	if trimmed {
		warnings = append(warnings, "Evidence was trimmed to fit the token budget.")
	}
	if len(evidence) == 0 {
		warnings = append(warnings, "No relevant evidence was found in the selected sources.")
	}

	if _, err := s.history.Append(ctx, domain.Turn{
		SessionID:     req.SessionID,
		Role:          domain.RoleUser,
		Content:       req.Message,
		ModelOverride: req.ModelOverride,
	}); err != nil {
		return fmt.Errorf("save user turn: %w", err)
	}
	if _, err := s.history.Append(ctx, domain.Turn{
		SessionID:     req.SessionID,
		Role:          domain.RoleAssistant,
		Content:       strings.TrimSpace(cited.Text),
		ServedBy:      res.ServedBy,
		ModelOverride: req.ModelOverride,
		Items:         req.Items,
		Citations:     cited.Citations,
	}); err != nil {
		return fmt.Errorf("save assistant turn: %w", err)
	}

	return em.finish(&domain.FinalAnswer{
		Text:      strings.TrimSpace(cited.Text),
		Citations: cited.Citations,
		ServedBy:  res.ServedBy,
		Manifest:  &payload.Manifest,
		Warnings:  warnings,
		Usage:     usageOf(ctx),
	})
}

// Turns returns the whole history of a session.
func (s *Service) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	if !domain.IsValidID(sessionID) {
		return nil, fmt.Errorf("%w: invalid session id", domain.ErrInvalidInput)
	}
	return s.history.List(ctx, sessionID)
}

// DeleteSession drops a session and its history.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if !domain.IsValidID(sessionID) {
		return fmt.Errorf("%w: invalid session id", domain.ErrInvalidInput)
	}
	if err := s.history.Delete(ctx, sessionID); err != nil {
		return err
	}
	logger.FromContextOr(ctx, s.logger).Info("Chat session deleted", zap.String("session_id", sessionID))
	return nil
}
