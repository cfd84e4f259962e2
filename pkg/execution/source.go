package execution

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsFileReference reports whether a job's source query names a SQL file
// rather than carrying inline text.
func IsFileReference(query string) bool {
	q := strings.TrimSpace(query)
	return strings.HasPrefix(q, "file:") ||
		strings.HasPrefix(q, "@") ||
		(strings.HasSuffix(strings.ToLower(q), ".sql") && !strings.ContainsAny(q, " \t\n"))
}

// ResolveSource returns the SQL text for query. File references are read
// relative to baseDir unless absolute.
func ResolveSource(query, baseDir string) (string, error) {
	q := strings.TrimSpace(query)
	if !IsFileReference(q) {
		return q, nil
	}

	path := strings.TrimPrefix(strings.TrimPrefix(q, "file:"), "@")
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read sql file %s: %w", path, err)
	}
	sql := strings.TrimSpace(string(b))
	if sql == "" {
		return "", fmt.Errorf("sql file %s is empty", path)
	}
	return sql, nil
}
