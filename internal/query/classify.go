package query

import (
	"strings"
	"unicode"
)

// writeKeywords lead statements that never return rows.
var writeKeywords = map[string]struct{}{
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"MERGE":    {},
	"UPSERT":   {},
	"REPLACE":  {},
	"CREATE":   {},
	"ALTER":    {},
	"DROP":     {},
	"TRUNCATE": {},
	"RENAME":   {},
	"COMMENT":  {},
	"GRANT":    {},
	"REVOKE":   {},
	"DENY":     {},
}

// IsWrite reports whether statement is data or schema modification that
// should be run with ExecContext. Anything else goes through QueryContext so
// rows are never dropped. Leading comments and parentheses are skipped.
func IsWrite(statement string) bool {
	_, ok := writeKeywords[LeadingKeyword(statement)]
	return ok
}

// LeadingKeyword returns the first keyword of statement in upper case.
func LeadingKeyword(statement string) string {
	s := skipPreamble(statement)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

func skipPreamble(s string) string {
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		default:
			return s
		}
	}
}

// StripTrailingSemicolons removes statement terminators some drivers reject.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
