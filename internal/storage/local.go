package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalPersister writes certificates under BaseDir, for development runs
// without a bucket.
type LocalPersister struct {
	BaseDir string
}

func (l *LocalPersister) Persist(_ context.Context, content []byte, name string) (string, error) {
	key := sanitizeKey(ObjectKey(name))
	if strings.TrimSpace(name) == "" {
		return "", &StoreWriteError{Key: key, Err: errors.New("artifact name is required")}
	}
	path := filepath.Join(l.BaseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &StoreWriteError{Key: key, Err: fmt.Errorf("create dirs: %w", err)}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &StoreWriteError{Key: key, Err: fmt.Errorf("write file: %w", err)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return key
}
