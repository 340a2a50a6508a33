package admission

import (
	"fmt"
	"regexp"
	"strings"
)

// Outcome is the result of validating one query text. Rejections are
// fail-fast: the first failed check sets Reason and skips the rest.
// Warnings accumulate across the checks that passed.
type Outcome struct {
	Admitted bool     `json:"admitted"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func reject(reason string) Outcome {
	return Outcome{Admitted: false, Reason: reason}
}

var (
	joinRe   = regexp.MustCompile(`(?i)\bJOIN\b`)
	windowRe = regexp.MustCompile(`(?i)\bWINDOW\b`)
	emitRe   = regexp.MustCompile(`(?i)\bEMIT\s+CHANGES\b`)
)

// ValidateAdHoc decides whether an interactive query may be submitted.
// It is deterministic, has no side effects and is safe for concurrent use.
func ValidateAdHoc(text string, cfg QuotaConfig) Outcome {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reject("query cannot be empty")
	}

	if len(text) > cfg.MaxQueryLength {
		return reject(fmt.Sprintf("query exceeds the maximum length of %d characters", cfg.MaxQueryLength))
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return reject("query must be a SELECT statement")
	}

	for _, kw := range cfg.BlockedKeywords {
		if strings.Contains(upper, strings.ToUpper(kw)) {
			return reject(fmt.Sprintf("query contains blocked keyword: %s", kw))
		}
	}

	var warnings []string

	joins := len(joinRe.FindAllStringIndex(text, -1))
	if joins > cfg.MaxJoins {
		return reject(fmt.Sprintf("query has %d JOINs, the maximum allowed is %d", joins, cfg.MaxJoins))
	}
	if joins > 0 {
		warnings = append(warnings, "query contains JOINs which can be resource intensive")
	}

	windows := len(windowRe.FindAllStringIndex(text, -1))
	if windows > cfg.MaxWindows {
		return reject(fmt.Sprintf("query has %d WINDOW clauses, the maximum allowed is %d", windows, cfg.MaxWindows))
	}
	if windows > 0 {
		warnings = append(warnings, "query uses WINDOW aggregations which can be resource intensive")
	}

	if !strings.Contains(upper, "LIMIT") && !strings.Contains(upper, "WHERE") {
		warnings = append(warnings, "query has no LIMIT or WHERE clause, consider adding one to bound the result set")
	}

	return Outcome{Admitted: true, Warnings: warnings}
}

// ValidatePersistent decides whether a continuously-running query may be
// created. Compared to ad-hoc validation: the stream name is required,
// LIMIT is fatal, join count only warns, and window count is not checked.
// Heavy persistent queries are gated by concurrency admission instead.
func ValidatePersistent(text, name string, cfg QuotaConfig) Outcome {
	if strings.TrimSpace(name) == "" {
		return reject("stream name cannot be empty")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reject("query cannot be empty")
	}

	if len(text) > cfg.MaxQueryLength {
		return reject(fmt.Sprintf("query exceeds the maximum length of %d characters", cfg.MaxQueryLength))
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return reject("query must be a SELECT statement")
	}

	for _, kw := range cfg.BlockedKeywords {
		if strings.Contains(upper, strings.ToUpper(kw)) {
			return reject(fmt.Sprintf("query contains blocked keyword: %s", kw))
		}
	}

	if strings.Contains(upper, "LIMIT") {
		return reject("LIMIT is not allowed in persistent queries, they run continuously")
	}

	var warnings []string

	joins := len(joinRe.FindAllStringIndex(text, -1))
	if joins > cfg.MaxJoins {
		warnings = append(warnings, fmt.Sprintf("query has %d JOINs which can be resource intensive", joins))
	}

	return Outcome{Admitted: true, Warnings: warnings}
}

// HasEmitChanges reports whether the query already carries the streaming
// continuation marker. Its absence never fails validation, the query
// handler appends the marker before dispatch.
func HasEmitChanges(text string) bool {
	return emitRe.MatchString(text)
}
