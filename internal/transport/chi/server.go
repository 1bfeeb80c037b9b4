package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	domusage "github.com/kailas-cloud/askdex/internal/domain/usage"
	"github.com/kailas-cloud/askdex/internal/logger"
	"github.com/kailas-cloud/askdex/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/askdex/internal/usecase/health"
	"github.com/kailas-cloud/askdex/internal/usecase/ingest"
)

const maxBodyBytes = 16 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers of the API.
type Server struct {
	sources       SourceService
	answers       AnswerService
	models        ModelCatalog
	usage         UsageService
	health        HealthService
	logger        *zap.Logger
	heartbeat     time.Duration
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	sources SourceService,
	answers AnswerService,
	models ModelCatalog,
	usage UsageService,
	health HealthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sources:   sources,
		answers:   answers,
		models:    models,
		usage:     usage,
		health:    health,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
	// Order matters: an unavailability error may wrap the timeout that caused it.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrModelNotFound, http.StatusBadRequest, CodeModelNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrBudgetExceeded, http.StatusPaymentRequired, CodeBudgetExceeded),
		sentinelHandler(domain.ErrProviderError, http.StatusBadGateway, CodeProviderError),
		sentinelHandler(domain.ErrProviderUnavailable, http.StatusServiceUnavailable, CodeProviderUnavailable),
		sentinelHandler(domain.ErrIngestQueueFull, http.StatusServiceUnavailable, CodeQueueFull),
		sentinelHandler(domain.ErrProviderTimeout, http.StatusGatewayTimeout, CodeProviderTimeout),
	}
	return s
}

// IngestSource handles POST /v1/sources.
func (s *Server) IngestSource(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}

	src, err := s.sources.Submit(r.Context(), ingest.SubmitRequest{
		ID:    req.ID,
		Kind:  req.Kind,
		Title: req.Title,
		Text:  req.Text,
		Tags:  req.Tags,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/sources/"+src.ID)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{SourceID: src.ID, Status: src.Status})
}

// GetSource handles GET /v1/sources/{id}.
func (s *Server) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.sources.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// DeleteSource handles DELETE /v1/sources/{id}.
func (s *Server) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.sources.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReembedSource handles POST /v1/sources/{id}/reembed.
func (s *Server) ReembedSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sources.SubmitReembed(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{SourceID: id, Status: domain.StatusProcessing})
}

// Ask handles POST /v1/ask. Validation failures are plain JSON errors;
// everything after that arrives on the event stream.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !s.decode(w, r, &req) {
		return
	}

	events, err := s.answers.Ask(r.Context(), answer.AskRequest{
		Question:         req.Question,
		Items:            selectionFrom(req.Items),
		ModelOverride:    req.Model,
		StrategyModel:    req.StrategyModel,
		AnswerModel:      req.AnswerModel,
		FinalAnswerModel: req.FinalAnswerModel,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.stream(w, r, events)
}

// ChatMessage handles POST /v1/chat/{session_id}/messages.
func (s *Server) ChatMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	events, err := s.answers.Chat(r.Context(), answer.ChatRequest{
		SessionID:     chi.URLParam(r, "session_id"),
		Message:       req.Message,
		Items:         selectionFrom(req.Items),
		ModelOverride: req.Model,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.stream(w, r, events)
}

// ChatTurns handles GET /v1/chat/{session_id}/turns.
func (s *Server) ChatTurns(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	turns, err := s.answers.Turns(r.Context(), sid)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TurnsResponse{SessionID: sid, Turns: turns})
}

// DeleteChat handles DELETE /v1/chat/{session_id}.
func (s *Server) DeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.answers.DeleteSession(r.Context(), chi.URLParam(r, "session_id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListModels handles GET /v1/models.
func (s *Server) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := s.models.Models()
	if models == nil {
		models = []domain.ModelDescriptor{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models})
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, ok := domusage.ParsePeriod(q.Get("period"))
	if !ok {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "period must be one of day, month, total")
		return
	}

	reports, err := s.usage.GetReports(r.Context(), period, q.Get("provider"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := UsageResponse{Period: string(period), Providers: make([]ProviderUsage, 0, len(reports))}
	for i := range reports {
		resp.Providers = append(resp.Providers, usageToDTO(&reports[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func usageToDTO(report *domusage.Report) ProviderUsage {
	b := report.Budget()
	out := ProviderUsage{
		Provider: report.Provider(),
		Usage: UsageMetrics{
			Requests: report.Metrics().Requests(),
			Tokens:   report.Metrics().Tokens(),
		},
		Budget: BudgetStatus{
			TokensLimit:     b.TokensLimit(),
			TokensRemaining: b.TokensRemaining(),
			IsExhausted:     b.IsExhausted(),
		},
	}

	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC()
		end := time.UnixMilli(report.PeriodEnd()).UTC()
		out.PeriodStartAt = &start
		out.PeriodEndAt = &end
	}

	if b.ResetsAt() > 0 {
		resetsAt := time.UnixMilli(b.ResetsAt()).UTC()
		out.Budget.ResetsAt = &resetsAt
	}
	return out
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// Validation errors carry a message written for the caller, so it is passed through.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		if sentinel == domain.ErrInvalidInput || sentinel == domain.ErrModelNotFound {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, fmt.Sprintf("method %s not allowed", r.Method))
}
