// Package storage persists generated certificates and derives their public URLs.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"course-credentials/internal/config"
)

// Persister writes an artifact and returns its public URL. A failed write
// never yields a URL.
type Persister interface {
	Persist(ctx context.Context, content []byte, name string) (string, error)
}

// StoreWriteError reports a write that did not succeed.
type StoreWriteError struct {
	Key    string
	Status int
	Err    error
}

func (e *StoreWriteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store %s: status %d: %v", e.Key, e.Status, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// New picks the S3 persister when a bucket is configured, otherwise the local one.
func New(ctx context.Context, cfg config.Config) (Persister, error) {
	if cfg.S3Bucket != "" {
		return NewS3Persister(ctx, cfg)
	}
	dir := cfg.LocalOutputDir
	if dir == "" {
		dir = "./output"
	}
	return &LocalPersister{BaseDir: dir}, nil
}

// ObjectKey is the storage key for an artifact name.
func ObjectKey(name string) string {
	return name + ".pdf"
}

// PublicURL is https://{bucket}.{domain}/{escaped name}.pdf. Slashes in the
// name are kept as path separators.
func PublicURL(bucket, domain, name string) string {
	return fmt.Sprintf("https://%s.%s/%s.pdf", bucket, domain, escapePath(name))
}

// escapePath percent-encodes every byte of name except unreserved characters
// and '/'. S3 reads a literal '+' in a path as a space.
func escapePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(url.QueryEscape(p), "+", "%20")
	}
	return strings.Join(parts, "/")
}
