package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fatih/color"

	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

func init() {
	color.NoColor = true
}

// runCLI executes askdexctl against h and returns stdout.
func runCLI(t *testing.T, h http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--server", srv.URL, "--api-key", "k"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeSink records watcher calls.
type fakeSink struct {
	mu      sync.Mutex
	ingests []askdex.IngestRequest
	deletes []string
	notify  chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{notify: make(chan struct{}, 16)}
}

func (f *fakeSink) Ingest(_ context.Context, req askdex.IngestRequest) (askdex.Accepted, error) {
	f.mu.Lock()
	f.ingests = append(f.ingests, req)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return askdex.Accepted{SourceID: req.ID, Status: askdex.StatusPending}, nil
}

func (f *fakeSink) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeSink) snapshot() ([]askdex.IngestRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]askdex.IngestRequest(nil), f.ingests...), append([]string(nil), f.deletes...)
}
