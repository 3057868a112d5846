package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"course-credentials/internal/config"
	"course-credentials/internal/store"
	"course-credentials/internal/worker"
)

type stubRunner struct {
	started chan struct{}
	release chan struct{}
	jobs    []string
	asOf    time.Time
	err     error
	ctxErr  error
}

func (s *stubRunner) RunJob(ctx context.Context, job string, asOf time.Time) (any, error) {
	s.jobs = append(s.jobs, job)
	s.asOf = asOf
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	s.ctxErr = ctx.Err()
	return map[string]int{"succeeded": 1}, s.err
}

func (s *stubRunner) RunAll(ctx context.Context, asOf time.Time) (map[string]any, error) {
	s.jobs = append(s.jobs, "all")
	s.asOf = asOf
	return map[string]any{worker.JobCertificates: nil}, s.err
}

func testOpener(t *testing.T) worker.StoreOpener {
	t.Helper()
	cfg := config.Config{StoreDriver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "certs.db")}
	return func(ctx context.Context) (store.IdentifierStore, error) {
		return store.Open(ctx, cfg)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(&stubRunner{}, testOpener(t), zerolog.Nop())
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRunCertificates(t *testing.T) {
	runner := &stubRunner{}
	srv := New(runner, testOpener(t), zerolog.Nop())

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/certificates?as_of=2024-03-15", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(runner.jobs) != 1 || runner.jobs[0] != worker.JobCertificates {
		t.Fatalf("unexpected jobs %v", runner.jobs)
	}
	if !runner.asOf.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected as_of %s", runner.asOf)
	}
	var resp runResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Job != worker.JobCertificates {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRunRejectsBadDate(t *testing.T) {
	srv := New(&stubRunner{}, testOpener(t), zerolog.Nop())
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/due-dates?as_of=15/03/2024", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRunFailureReturns500(t *testing.T) {
	srv := New(&stubRunner{err: store.ErrStoreUnavailable}, testOpener(t), zerolog.Nop())
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/all", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var resp runResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == "" {
		t.Fatalf("expected error in body, got %s", rr.Body.String())
	}
}

func TestConcurrentRunConflicts(t *testing.T) {
	runner := &stubRunner{started: make(chan struct{}), release: make(chan struct{})}
	srv := New(runner, testOpener(t), zerolog.Nop())
	h := srv.Router()

	done := make(chan int)
	go func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/certificates", nil))
		done <- rr.Code
	}()
	<-runner.started

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/due-dates", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a run is active, got %d", rr.Code)
	}

	close(runner.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first run: expected 200, got %d", code)
	}
}

func TestRunOutlivesClientDisconnect(t *testing.T) {
	runner := &stubRunner{started: make(chan struct{}), release: make(chan struct{})}
	srv := New(runner, testOpener(t), zerolog.Nop())
	h := srv.Router()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/runs/certificates", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()

	<-runner.started
	cancel()
	close(runner.release)
	<-done

	if runner.ctxErr != nil {
		t.Fatalf("run context must survive the request, got %v", runner.ctxErr)
	}
}

func TestLookupCertificate(t *testing.T) {
	open := testOpener(t)
	st, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Allocate(context.Background(), "42"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	_ = st.Close()

	srv := New(&stubRunner{}, open, zerolog.Nop())
	h := srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/certificates/42", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Seq           int64  `json:"seq"`
		CertificateID string `json:"certificate_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.CertificateID != "000-00000-01" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/certificates/99", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLookupStoreUnavailable(t *testing.T) {
	failing := func(context.Context) (store.IdentifierStore, error) {
		return nil, errors.Join(store.ErrStoreUnavailable)
	}
	srv := New(&stubRunner{}, failing, zerolog.Nop())
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/certificates/42", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
