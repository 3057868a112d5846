package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"course-credentials/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// Unique in-memory database per test to avoid state leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := st.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFormatCertificateID(t *testing.T) {
	cases := []struct {
		seq  int64
		want string
	}{
		{1, "000-00000-01"},
		{7, "000-00000-07"},
		{123456789, "012-34567-89"},
		{1234567890, "123-45678-90"},
		{9999999999, "999-99999-99"},
	}
	for _, tc := range cases {
		got, err := FormatCertificateID(tc.seq)
		if err != nil {
			t.Fatalf("format %d: %v", tc.seq, err)
		}
		if got != tc.want {
			t.Fatalf("format %d: expected %s got %s", tc.seq, tc.want, got)
		}
		back, err := ParseCertificateID(got)
		if err != nil || back != tc.seq {
			t.Fatalf("parse %s: expected %d got %d err=%v", got, tc.seq, back, err)
		}
	}
}

func TestFormatCertificateIDOutOfRange(t *testing.T) {
	for _, seq := range []int64{0, -1, 10000000000} {
		if _, err := FormatCertificateID(seq); !errors.Is(err, ErrSequenceOutOfRange) {
			t.Fatalf("seq %d: expected ErrSequenceOutOfRange, got %v", seq, err)
		}
	}
}

func TestParseCertificateIDMalformed(t *testing.T) {
	for _, id := range []string{"", "0000000001", "000-0000-001", "abc-defgh-ij", "000-00000-00"} {
		if _, err := ParseCertificateID(id); err == nil {
			t.Fatalf("expected error for %q", id)
		}
	}
}

func TestAllocateStrictlyIncreasing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := st.Allocate(ctx, fmt.Sprintf("ref-%d", i))
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if id.Seq != prev+1 {
			t.Fatalf("expected gapless sequence %d, got %d", prev+1, id.Seq)
		}
		want, _ := FormatCertificateID(id.Seq)
		if id.Formatted != want {
			t.Fatalf("expected formatted %s, got %s", want, id.Formatted)
		}
		prev = id.Seq
	}
}

func TestAllocateDuplicateDoesNotConsumeSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Allocate(ctx, "42")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := st.Allocate(ctx, "42"); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	next, err := st.Allocate(ctx, "43")
	if err != nil {
		t.Fatalf("allocate next: %v", err)
	}
	if next.Seq != first.Seq+1 {
		t.Fatalf("duplicate attempt consumed a sequence number: first=%d next=%d", first.Seq, next.Seq)
	}

	got, err := st.Lookup(ctx, "42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Seq != first.Seq {
		t.Fatalf("reference reassigned: %d != %d", got.Seq, first.Seq)
	}
}

func TestAllocateEmptyReference(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Allocate(context.Background(), "  "); !errors.Is(err, ErrEmptyReference) {
		t.Fatalf("expected ErrEmptyReference, got %v", err)
	}
}

func TestLookupMissing(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Lookup(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllocateAfterCloseIsUnavailable(t *testing.T) {
	st := newTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := st.Allocate(context.Background(), "1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestOpenSQLiteBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "certs.db")
	if _, err := OpenSQLite(bad); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestOpenSQLiteRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a sqlite database\n", 64)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenSQLite(path); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestOpenFromConfigPersists(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StoreDriver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "certs.db")}

	st, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := st.Allocate(ctx, "100")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Lookup(ctx, "100")
	if err != nil {
		t.Fatalf("lookup after reopen: %v", err)
	}
	if got.Formatted != id.Formatted {
		t.Fatalf("expected %s after reopen, got %s", id.Formatted, got.Formatted)
	}
	if _, err := reopened.Allocate(ctx, "100"); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected duplicate after reopen, got %v", err)
	}
}
