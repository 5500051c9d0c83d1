// Package query is the safety gate standing between AI-generated read
// queries and the storage execution path.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"lifelog/app/storage"
)

const DefaultMaxRows = 100

// PolicyError marks a query rejected by the gate, as opposed to a
// query that passed validation but failed at the storage layer.
// Callers message users differently for each.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "query rejected: " + e.Reason
}

var (
	forbiddenKeywords = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|CREATE|TRUNCATE|EXEC|EXECUTE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA)\b`)

	// Statement chaining or comment-based truncation.
	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`;\s*\S`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*`),
		regexp.MustCompile(`(?i)\b(xp_|sp_)`),
	}

	hasLimit = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
)

// Validate rejects anything that is not a single read-only SELECT
// scoped to the calling user.
func Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &PolicyError{Reason: "empty query"}
	}

	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return &PolicyError{Reason: "only SELECT queries are allowed"}
	}

	if match := forbiddenKeywords.FindString(trimmed); match != "" {
		return &PolicyError{Reason: fmt.Sprintf("forbidden keyword detected: %s", strings.ToUpper(match))}
	}

	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(trimmed) {
			return &PolicyError{Reason: "suspicious pattern detected"}
		}
	}

	// Prevents cross-user data leakage from a malformed generated query.
	if !strings.Contains(strings.ToLower(trimmed), "user_id") {
		return &PolicyError{Reason: "query must include a user_id filter"}
	}

	return nil
}

// Execute validates the query, binds it to the calling user, caps the
// row count and runs it against the read store. The returned column
// names follow SELECT order.
func Execute(ctx context.Context, sess *storage.Session, sql, userID string, maxRows int) ([]map[string]any, []string, error) {
	if err := Validate(sql); err != nil {
		return nil, nil, err
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	bound := strings.ReplaceAll(strings.TrimSpace(sql), "{user_id}", quoteLiteral(userID))
	bound = strings.TrimSuffix(bound, ";")

	if !hasLimit.MatchString(bound) {
		bound = fmt.Sprintf("%s LIMIT %d", bound, maxRows)
	}

	return sess.QueryRows(ctx, bound)
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
