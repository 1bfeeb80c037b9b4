package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/askdex/internal/domain"
	domusage "github.com/kailas-cloud/askdex/internal/domain/usage"
	"github.com/kailas-cloud/askdex/internal/domain/usage/budget"
	"github.com/kailas-cloud/askdex/internal/domain/usage/metrics"
	healthuc "github.com/kailas-cloud/askdex/internal/usecase/health"
)

func TestIngestSource_Accepted(t *testing.T) {
	api := newTestAPI()
	rr := api.do("POST", "/v1/sources", `{"id":"doc-1","title":"Guide","text":"hello world","tags":["a"]}`)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/sources/doc-1" {
		t.Errorf("Location = %q", loc)
	}
	var resp AcceptedResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SourceID != "doc-1" || resp.Status != domain.StatusPending {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(api.sources.submitted) != 1 || api.sources.submitted[0].Title != "Guide" {
		t.Errorf("unexpected submission %+v", api.sources.submitted)
	}
}

func TestIngestSource_BadBody(t *testing.T) {
	api := newTestAPI()
	for _, body := range []string{`{`, `{"text":"x","unknown":1}`} {
		rr := api.do("POST", "/v1/sources", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rr.Code)
		}
		if resp := decodeError(t, rr); resp.Code != CodeBadRequest {
			t.Errorf("body %s: code = %s", body, resp.Code)
		}
	}
}

func TestIngestSource_ValidationMessage(t *testing.T) {
	api := newTestAPI()
	api.sources.err = fmt.Errorf("%w: text is required", domain.ErrInvalidInput)

	rr := api.do("POST", "/v1/sources", `{"text":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeValidationFailed || !strings.Contains(resp.Message, "text is required") {
		t.Errorf("unexpected error %+v", resp)
	}
}

func TestSourceLifecycle(t *testing.T) {
	api := newTestAPI()
	api.sources.src = &domain.Source{ID: "doc-1", Status: domain.StatusPartial, ChunkCount: 3, PendingChunks: 1}

	rr := api.do("GET", "/v1/sources/doc-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var src domain.Source
	if err := json.NewDecoder(rr.Body).Decode(&src); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if src.PendingChunks != 1 || src.Status != domain.StatusPartial {
		t.Errorf("unexpected source %+v", src)
	}

	if rr := api.do("GET", "/v1/sources/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing source: status = %d", rr.Code)
	}

	if rr := api.do("POST", "/v1/sources/doc-1/reembed", ""); rr.Code != http.StatusAccepted {
		t.Errorf("reembed: status = %d", rr.Code)
	}
	if len(api.sources.reembedded) != 1 || api.sources.reembedded[0] != "doc-1" {
		t.Errorf("reembed not submitted: %v", api.sources.reembedded)
	}

	if rr := api.do("DELETE", "/v1/sources/doc-1", ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rr.Code)
	}
	if len(api.sources.deleted) != 1 {
		t.Errorf("delete not called")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed},
		{domain.ErrModelNotFound, http.StatusBadRequest, CodeModelNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{domain.ErrBudgetExceeded, http.StatusPaymentRequired, CodeBudgetExceeded},
		{domain.ErrProviderError, http.StatusBadGateway, CodeProviderError},
		{domain.ErrIngestQueueFull, http.StatusServiceUnavailable, CodeQueueFull},
		{domain.ErrProviderTimeout, http.StatusGatewayTimeout, CodeProviderTimeout},
		{fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, domain.ErrProviderTimeout), http.StatusServiceUnavailable, CodeProviderUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			api := newTestAPI()
			api.sources.err = fmt.Errorf("wrapped: %w", tt.err)
			rr := api.do("POST", "/v1/sources", `{"text":"x"}`)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
			resp := decodeError(t, rr)
			if resp.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Code, tt.code)
			}
			if tt.code == CodeInternalError && resp.Message != "internal error" {
				t.Errorf("internal details leaked: %q", resp.Message)
			}
		})
	}
}

func TestAsk_StreamsEvents(t *testing.T) {
	api := newTestAPI()
	api.answers.events = []domain.Event{
		{Type: domain.EventStrategy, Stage: domain.StagePlanning, Strategy: &domain.SearchStrategy{Queries: []domain.SubQuery{{Term: "A"}, {Term: "B"}}}},
		{Type: domain.EventAnswer, Stage: domain.StageAnswering, Answer: &domain.QueryAnswer{Query: domain.SubQuery{Term: "A"}, Text: "a"}},
		{Type: domain.EventAnswer, Stage: domain.StageAnswering, Answer: &domain.QueryAnswer{Query: domain.SubQuery{Term: "B"}, Text: "b"}},
		{Type: domain.EventFinalAnswer, Stage: domain.StageDone, Final: &domain.FinalAnswer{Text: "done", Citations: []domain.Citation{}}},
	}

	rr := api.do("POST", "/v1/ask", `{"question":"Compare A and B","items":[{"id":"a","level":"summary"},{"id":"b"}],"model":"pinned"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseSSE(t, rr.Body.String())
	want := []string{"strategy", "answer", "answer", "final_answer"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.name != want[i] {
			t.Errorf("event %d = %q, want %q", i, ev.name, want[i])
		}
		var decoded domain.Event
		if err := json.Unmarshal([]byte(ev.data), &decoded); err != nil {
			t.Fatalf("event %d data: %v", i, err)
		}
		if string(decoded.Type) != ev.name {
			t.Errorf("event %d type = %q", i, decoded.Type)
		}
	}

	req := api.answers.ask
	if req == nil {
		t.Fatal("Ask not called")
	}
	if req.Question != "Compare A and B" || req.ModelOverride != "pinned" {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.Items) != 2 || req.Items[0].Visibility != domain.VisibilitySummary || req.Items[1].Visibility != "" {
		t.Errorf("unexpected items %+v", req.Items)
	}
}

func TestAsk_ValidationIsPlainJSON(t *testing.T) {
	api := newTestAPI()
	api.answers.err = fmt.Errorf("%w: unknown context level %q", domain.ErrInvalidInput, "everything")

	rr := api.do("POST", "/v1/ask", `{"question":"q","items":[{"id":"a","level":"everything"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp := decodeError(t, rr); !strings.Contains(resp.Message, "everything") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestChatMessage_UsesPathSession(t *testing.T) {
	api := newTestAPI()
	api.answers.events = []domain.Event{{Type: domain.EventError, Stage: domain.StageFailed, Error: &domain.ErrorPayload{Kind: domain.KindProviderUnavailable, Message: "down"}}}

	rr := api.do("POST", "/v1/chat/session-7/messages", `{"message":"hi","model":"m"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	events := parseSSE(t, rr.Body.String())
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("unexpected events %+v", events)
	}
	if api.answers.chat.SessionID != "session-7" || api.answers.chat.ModelOverride != "m" {
		t.Errorf("unexpected chat request %+v", api.answers.chat)
	}
}

func TestChatTurns(t *testing.T) {
	api := newTestAPI()
	api.answers.turns = []domain.Turn{{ID: 1, SessionID: "s1", Role: domain.RoleUser, Content: "hi"}}

	rr := api.do("GET", "/v1/chat/s1/turns", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp TurnsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "s1" || len(resp.Turns) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}

	api.answers.err = domain.ErrNotFound
	if rr := api.do("GET", "/v1/chat/unknown/turns", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d", rr.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	api := newTestAPI()

	rr := api.do("DELETE", "/v1/chat/s1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if api.answers.deleted != "s1" {
		t.Errorf("deleted session = %q", api.answers.deleted)
	}

	api.answers.err = domain.ErrNotFound
	if rr := api.do("DELETE", "/v1/chat/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d", rr.Code)
	}
}

func TestListModels(t *testing.T) {
	rr := newTestAPI().do("GET", "/v1/models", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ModelsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0].Health != domain.HealthHealthy {
		t.Errorf("unexpected models %+v", resp.Models)
	}
}

func TestGetUsage(t *testing.T) {
	api := newTestAPI()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	api.usage.reports = []domusage.Report{
		domusage.NewReport(domusage.PeriodMonth, start.UnixMilli(), end.UnixMilli(), "openai",
			metrics.New(12, 3400), budget.New(10000, 6600, false, end.UnixMilli())),
	}

	rr := api.do("GET", "/v1/usage?provider=openai", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if api.usage.period != domusage.PeriodMonth || api.usage.provider != "openai" {
		t.Errorf("unexpected query %q/%q", api.usage.period, api.usage.provider)
	}
	var resp UsageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Period != "month" || len(resp.Providers) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	p := resp.Providers[0]
	if p.Usage.Tokens != 3400 || p.Budget.TokensRemaining != 6600 {
		t.Errorf("unexpected usage %+v", p)
	}
	if p.Budget.ResetsAt == nil || !p.Budget.ResetsAt.Equal(end) {
		t.Errorf("resets_at = %v", p.Budget.ResetsAt)
	}
	if p.PeriodStartAt == nil || !p.PeriodStartAt.Equal(start) {
		t.Errorf("period_start_at = %v", p.PeriodStartAt)
	}

	if rr := api.do("GET", "/v1/usage?period=week", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad period: status = %d", rr.Code)
	}
}

func TestHealthCheck_Degraded(t *testing.T) {
	api := newTestAPI()
	api.server.health = mockHealth{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"index": healthuc.CheckOK, "models": healthuc.CheckError},
	}

	rr := api.do("GET", "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["models"] != "error" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRouter_AuthAndFallbacks(t *testing.T) {
	api := newTestAPI("secret")

	if rr := api.do("GET", "/v1/models", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /v1/models: status = %d", rr.Code)
	}
	if rr := api.do("GET", "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("/health: status = %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/v1/nope", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown route: status = %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != CodeNotFound {
		t.Errorf("unknown route: code = %s", resp.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}
