package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"course-credentials/internal/config"
	"course-credentials/internal/crm"
	"course-credentials/internal/documents"
	"course-credentials/internal/models"
	"course-credentials/internal/storage"
	"course-credentials/internal/store"
)

var testAsOf = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		CRMObjectType:       "2-8311962",
		CRMUpdateObjectType: "2-7353817",
		CRMPageLimit:        100,
		StoreDriver:         config.StoreSQLite,
		SQLitePath:          filepath.Join(t.TempDir(), "certs.db"),
		DocProvider:         config.ProviderPDFGen,
		PrimaryTemplateID:   "477969",
		CLECertificateName:  "CLE INFO",
		LinkedInOrgID:       "12958828",
		ResumeAllocated:     true,
	}
}

// opener returns a StoreOpener for cfg, after allocating seed references.
func opener(t *testing.T, cfg config.Config, seed ...string) StoreOpener {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for _, ref := range seed {
		if _, err := st.Allocate(ctx, ref); err != nil {
			t.Fatalf("seed %s: %v", ref, err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close seed store: %v", err)
	}
	return func(ctx context.Context) (store.IdentifierStore, error) {
		return store.Open(ctx, cfg)
	}
}

func record(id, ref, first, last, course string) models.EligibleRecord {
	return models.EligibleRecord{ID: id, Properties: map[string]string{
		models.PropObjectID:   ref,
		models.PropFirstName:  first,
		models.PropLastName:   last,
		models.PropCourseName: course,
		models.PropEmail:      first + "@example.com",
	}}
}

type fakeCRM struct {
	mu        sync.Mutex
	records   []models.EligibleRecord
	searchErr error
	updateErr error
	searches  int
	updates   []models.BatchUpdate
	objects   []string
}

func (f *fakeCRM) Search(_ context.Context, _ string, _ crm.SearchRequest) ([]models.EligibleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.records, f.searchErr
}

func (f *fakeCRM) List(_ context.Context, _ string, _ []string) ([]models.EligibleRecord, error) {
	return f.records, f.searchErr
}

func (f *fakeCRM) BatchUpdate(_ context.Context, objectType string, payload models.BatchUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, payload)
	f.objects = append(f.objects, objectType)
	return f.updateErr
}

// fakeGenerator renders a stub PDF, failing for recipients listed in fail.
type fakeGenerator struct {
	mu       sync.Mutex
	fail     map[string]error
	shareURL string
	calls    []documents.Request
	onCall   func(n int)
}

func (g *fakeGenerator) Generate(_ context.Context, req documents.Request) (models.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.onCall != nil {
		g.onCall(len(g.calls))
	}
	if err := g.fail[req.Fields[documents.FieldRecipientName]]; err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{
		Template:    req.Template.Key,
		Name:        req.Name,
		Content:     []byte("%PDF-" + req.Name),
		ContentType: "application/pdf",
		ShareURL:    g.shareURL,
	}, nil
}

type memPersister struct {
	mu    sync.Mutex
	fail  bool
	saved []string
}

func (m *memPersister) Persist(_ context.Context, content []byte, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || len(content) == 0 {
		return "", &storage.StoreWriteError{Key: storage.ObjectKey(name), Status: 503, Err: errors.New("slow down")}
	}
	m.saved = append(m.saved, name)
	return storage.PublicURL("bucket", "example.com", name), nil
}

// flakyStore fails every allocation after the first okAllocs with a store outage.
type flakyStore struct {
	store.IdentifierStore
	okAllocs int
	allocs   int
}

func (f *flakyStore) Allocate(ctx context.Context, ref string) (models.CertificateIdentifier, error) {
	f.allocs++
	if f.allocs > f.okAllocs {
		return models.CertificateIdentifier{}, errors.Join(store.ErrStoreUnavailable, errors.New("disk I/O error"))
	}
	return f.IdentifierStore.Allocate(ctx, ref)
}

// closeCounter counts how many times the wrapped store is released.
type closeCounter struct {
	store.IdentifierStore
	closes *int
}

func (c closeCounter) Close() error {
	*c.closes++
	return c.IdentifierStore.Close()
}

// countingOpener wraps open so every store it returns records its Close calls.
func countingOpener(open StoreOpener, closes *int) StoreOpener {
	return func(ctx context.Context) (store.IdentifierStore, error) {
		st, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return closeCounter{IdentifierStore: st, closes: closes}, nil
	}
}
