// Package store keeps the permanent certificate identifier history: one row per
// issued certificate, mapping an auto-assigned sequence number to the CRM
// reference it was issued for.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"course-credentials/internal/config"
	"course-credentials/internal/models"
)

var (
	// ErrDuplicateReference means the reference already holds an identifier.
	ErrDuplicateReference = errors.New("reference already has a certificate identifier")
	// ErrStoreUnavailable wraps connection and durability failures.
	ErrStoreUnavailable = errors.New("identifier store unavailable")
	// ErrNotFound is returned by Lookup for unknown references.
	ErrNotFound = errors.New("certificate identifier not found")
	// ErrEmptyReference rejects blank references before touching the store.
	ErrEmptyReference = errors.New("reference is required")
	// ErrSequenceOutOfRange is returned for sequence numbers that do not fit 10 digits.
	ErrSequenceOutOfRange = errors.New("sequence number out of range")
)

const (
	tableName = "cert_id_history"
	maxSeq    = 9_999_999_999
)

// IdentifierStore allocates certificate identifiers. Implementations commit
// each allocation on its own.
type IdentifierStore interface {
	Allocate(ctx context.Context, reference string) (models.CertificateIdentifier, error)
	Lookup(ctx context.Context, reference string) (models.CertificateIdentifier, error)
	Close() error
}

// Open connects the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.Config) (IdentifierStore, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		st, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, unavailable(err)
		}
		return st, nil
	default:
		st, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, unavailable(err)
		}
		return st, nil
	}
}

// FormatCertificateID renders a sequence number as NNN-NNNNN-NN.
func FormatCertificateID(seq int64) (string, error) {
	if seq < 1 || seq > maxSeq {
		return "", fmt.Errorf("%w: %d", ErrSequenceOutOfRange, seq)
	}
	s := fmt.Sprintf("%010d", seq)
	return s[:3] + "-" + s[3:8] + "-" + s[8:], nil
}

// ParseCertificateID recovers the sequence number from a formatted id.
func ParseCertificateID(id string) (int64, error) {
	if len(id) != 12 || id[3] != '-' || id[9] != '-' {
		return 0, fmt.Errorf("malformed certificate id %q", id)
	}
	digits := strings.ReplaceAll(id, "-", "")
	if len(digits) != 10 {
		return 0, fmt.Errorf("malformed certificate id %q", id)
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed certificate id %q: %w", id, err)
	}
	if seq < 1 {
		return 0, fmt.Errorf("%w: %d", ErrSequenceOutOfRange, seq)
	}
	return seq, nil
}

func identifier(seq int64, reference string) (models.CertificateIdentifier, error) {
	formatted, err := FormatCertificateID(seq)
	if err != nil {
		return models.CertificateIdentifier{}, err
	}
	return models.CertificateIdentifier{Seq: seq, Reference: reference, Formatted: formatted}, nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
