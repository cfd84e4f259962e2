// Package dedupe normalizes a job's deduplication ordering spec into the
// column list the worker uses to break ties between duplicate rows.
package dedupe

import "strings"

// Aliases recognized in a tiebreaker spec.
const (
	AliasID        = "id"
	AliasUpdatedAt = "updated_at"
)

// Resolve turns raw (a comma-separated tiebreaker spec) into an ordered,
// duplicate-free column list.
//
// The alias "id" expands to the primary key columns and "updated_at" expands
// to updatedAt when it is non-empty. Expansions are flattened, and the first
// occurrence of a column fixes its precedence. Unknown tokens pass through
// unchanged; there is no error path.
func Resolve(raw string, primaryKey []string, updatedAt string) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})

	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		expanded := token
		switch {
		case token == AliasID:
			expanded = strings.Join(primaryKey, ",")
		case token == AliasUpdatedAt && strings.TrimSpace(updatedAt) != "":
			expanded = updatedAt
		}

		for _, col := range strings.Split(expanded, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			if _, dup := seen[col]; dup {
				continue
			}
			seen[col] = struct{}{}
			out = append(out, col)
		}
	}
	return out
}

// Join renders a resolved list in the worker's --dedupe-tiebreakers format.
func Join(cols []string) string {
	return strings.Join(cols, ",")
}
