package chi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	domusage "github.com/kailas-cloud/askdex/internal/domain/usage"
	"github.com/kailas-cloud/askdex/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/askdex/internal/usecase/health"
	"github.com/kailas-cloud/askdex/internal/usecase/ingest"
)

// --- Mocks ---

type mockSources struct {
	submitted  []ingest.SubmitRequest
	reembedded []string
	deleted    []string
	src        *domain.Source
	err        error
}

func (m *mockSources) Submit(_ context.Context, req ingest.SubmitRequest) (*domain.Source, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.submitted = append(m.submitted, req)
	id := req.ID
	if id == "" {
		id = "generated"
	}
	return &domain.Source{ID: id, Kind: domain.KindSource, Status: domain.StatusPending}, nil
}

func (m *mockSources) Get(_ context.Context, id string) (*domain.Source, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.src == nil || m.src.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.src, nil
}

func (m *mockSources) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSources) SubmitReembed(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.reembedded = append(m.reembedded, id)
	return nil
}

type mockAnswers struct {
	ask     *answer.AskRequest
	chat    *answer.ChatRequest
	events  []domain.Event
	turns   []domain.Turn
	deleted string
	err     error
}

func (m *mockAnswers) replay() <-chan domain.Event {
	ch := make(chan domain.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (m *mockAnswers) Ask(_ context.Context, req answer.AskRequest) (<-chan domain.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.ask = &req
	return m.replay(), nil
}

func (m *mockAnswers) Chat(_ context.Context, req answer.ChatRequest) (<-chan domain.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.chat = &req
	return m.replay(), nil
}

func (m *mockAnswers) Turns(_ context.Context, _ string) ([]domain.Turn, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.turns, nil
}

func (m *mockAnswers) DeleteSession(_ context.Context, sessionID string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = sessionID
	return nil
}

type mockModels []domain.ModelDescriptor

func (m mockModels) Models() []domain.ModelDescriptor { return m }

type mockUsage struct {
	reports  []domusage.Report
	err      error
	period   domusage.Period
	provider string
}

func (m *mockUsage) GetReports(_ context.Context, period domusage.Period, provider string) ([]domusage.Report, error) {
	m.period, m.provider = period, provider
	return m.reports, m.err
}

type mockHealth healthuc.Report

func (m mockHealth) Check(context.Context) healthuc.Report { return healthuc.Report(m) }

// --- Helpers ---

type testAPI struct {
	sources *mockSources
	answers *mockAnswers
	usage   *mockUsage
	server  *Server
	handler http.Handler
}

func newTestAPI(apiKeys ...string) *testAPI {
	a := &testAPI{
		sources: &mockSources{},
		answers: &mockAnswers{},
		usage:   &mockUsage{},
	}
	models := mockModels{{ID: "chat-default", Provider: "openai", Modality: domain.ModalityChat, Health: domain.HealthHealthy}}
	health := mockHealth{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"index": healthuc.CheckOK}}
	a.server = NewServer(a.sources, a.answers, models, a.usage, health, zap.NewNop())
	a.handler = NewRouter(a.server, apiKeys, zap.NewNop())
	return a
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

type sseEvent struct {
	name string
	data string
}

// parseSSE splits a recorded stream into events, skipping comments.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.name != "" || cur.data != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		default:
			t.Fatalf("unexpected stream line %q", line)
		}
	}
	return out
}
