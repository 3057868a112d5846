package store

import (
	"embed"
	"fmt"
	"path"
	"strings"
)

//go:embed migrations/*/*.sql
var migrationFiles embed.FS

// migrationStatements returns the embedded SQL for a dialect in file order.
func migrationStatements(dialect string) ([]string, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		out = append(out, sql)
	}
	return out, nil
}
