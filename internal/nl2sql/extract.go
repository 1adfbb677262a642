package nl2sql

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// "SQL Query:" followed by a fenced block, optionally tagged sql. Labels
	// may carry markdown emphasis or heading markers.
	strictStatementPattern = regexp.MustCompile("(?is)SQL\\s*Query\\s*[*_]*\\s*:\\s*[*_]*\\s*```[ \\t]*(?:sql)?[ \\t]*\\r?\\n?(.*?)```")
	// "SQL Query:" up to the next known label or the end of the text.
	looseStatementPattern = regexp.MustCompile(`(?is)SQL\s*Query\s*[*_]*\s*:[*_]*(.*?)(?:\n\s*[#*_]*\s*(?:Explanation|Example\s+Data|SQL\s*Result|Answer|Question)\s*[*_]*\s*:|\z)`)
	fencePattern          = regexp.MustCompile("(?is)^```[ \\t]*(?:sql)?[ \\t]*\\r?\\n?(.*?)\\s*(?:```)?$")
)

// ExtractStatement pulls the single SQL statement out of model output.
// A labeled fenced block wins over the looser labeled section; within each
// form the first match is used. No SQL validation happens here.
func ExtractStatement(text string) (string, error) {
	if m := strictStatementPattern.FindStringSubmatch(text); m != nil {
		if statement := strings.TrimSpace(m[1]); statement != "" {
			return statement, nil
		}
	}
	if m := looseStatementPattern.FindStringSubmatch(text); m != nil {
		if statement := stripFence(m[1]); statement != "" {
			return statement, nil
		}
	}
	return "", fmt.Errorf("%w: no \"SQL Query:\" section found in model output", ErrExtractionFailed)
}

func stripFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(trimmed), "`"))
}
