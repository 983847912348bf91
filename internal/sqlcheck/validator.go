// Package sqlcheck is the static safety gate for generated SQL. It accepts a
// single read-only SELECT statement scoped to the caller's namespace and
// rejects everything else. It never executes anything.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

type Rule string

const (
	RuleEmptyStatement     Rule = "empty_statement"
	RuleMultipleStatements Rule = "multiple_statements"
	RuleNotSelect          Rule = "not_select"
	RuleForbiddenKeyword   Rule = "forbidden_keyword"
	RuleForeignNamespace   Rule = "foreign_namespace"
)

// RejectionError reports which rule fired. The rule ordering in Validate is
// part of the contract: multi-statement first, then statement head, then
// keyword denylist, then namespace references.
type RejectionError struct {
	Rule   Rule
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("sql rejected (%s): %s", e.Rule, e.Detail)
}

// Keyword matching is defense in depth behind the executor's search_path
// scoping, not the primary isolation boundary.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER",
	"TRUNCATE", "CREATE", "GRANT", "REVOKE", "EXECUTE", "CALL",
}

var qualifiedTablePattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+("?[A-Za-z_][A-Za-z0-9_]*"?)\s*\.\s*"?[A-Za-z_]`)

// Validate returns the normalized statement (whitespace-trimmed, trailing
// semicolon stripped) or a *RejectionError naming the rule that fired.
func Validate(sqlText, namespace string) (string, error) {
	normalized := strings.TrimSpace(stripTrailingSemicolon(sqlText))
	if normalized == "" {
		return "", &RejectionError{Rule: RuleEmptyStatement, Detail: "statement is empty"}
	}

	bare := maskLiterals(normalized)

	if idx := strings.IndexByte(bare, ';'); idx >= 0 {
		if strings.TrimSpace(bare[idx+1:]) != "" {
			return "", &RejectionError{Rule: RuleMultipleStatements, Detail: "only one statement is allowed"}
		}
	}

	head := strings.TrimSpace(stripLeadingComments(bare))
	if !hasKeywordPrefix(head, "SELECT") {
		return "", &RejectionError{Rule: RuleNotSelect, Detail: "statement must begin with SELECT"}
	}

	upper := strings.ToUpper(bare)
	for _, keyword := range forbiddenKeywords {
		if containsWord(upper, keyword) {
			return "", &RejectionError{Rule: RuleForbiddenKeyword, Detail: "forbidden keyword " + keyword}
		}
	}

	for _, match := range qualifiedTablePattern.FindAllStringSubmatch(bare, -1) {
		qualifier := strings.Trim(match[1], `"`)
		if !strings.EqualFold(qualifier, namespace) {
			return "", &RejectionError{Rule: RuleForeignNamespace, Detail: "statement references namespace " + qualifier}
		}
	}

	return normalized, nil
}

// ReferencesForeignNamespace reports whether any schema-qualified table
// reference names a namespace other than the caller's. Used by the executor
// as a cross-check in case the validator was bypassed.
func ReferencesForeignNamespace(sqlText, namespace string) bool {
	bare := maskLiterals(strings.TrimSpace(sqlText))
	for _, match := range qualifiedTablePattern.FindAllStringSubmatch(bare, -1) {
		qualifier := strings.Trim(match[1], `"`)
		if !strings.EqualFold(qualifier, namespace) {
			return true
		}
	}
	return false
}

// maskLiterals blanks the contents of single-quoted literals and
// double-quoted identifiers so semicolons and keywords inside them cannot
// trip the checks. Quote characters themselves are preserved.
func maskLiterals(sqlText string) string {
	out := []byte(sqlText)
	var quote byte
	for i := 0; i < len(out); i++ {
		ch := out[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
				continue
			}
			if ch != '\n' {
				out[i] = ' '
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
		}
	}
	return string(out)
}

func stripLeadingComments(sqlText string) string {
	rest := strings.TrimSpace(sqlText)
	for {
		switch {
		case strings.HasPrefix(rest, "--"):
			idx := strings.IndexByte(rest, '\n')
			if idx < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[idx+1:])
		case strings.HasPrefix(rest, "/*"):
			idx := strings.Index(rest, "*/")
			if idx < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[idx+2:])
		default:
			return rest
		}
	}
}

func stripTrailingSemicolon(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func hasKeywordPrefix(text, keyword string) bool {
	if len(text) < len(keyword) {
		return false
	}
	if !strings.EqualFold(text[:len(keyword)], keyword) {
		return false
	}
	if len(text) == len(keyword) {
		return true
	}
	return !isWordByte(text[len(keyword)])
}

func containsWord(upper, keyword string) bool {
	for start := 0; ; {
		idx := strings.Index(upper[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(keyword)
		beforeOK := idx == 0 || !isWordByte(upper[idx-1])
		afterOK := end == len(upper) || !isWordByte(upper[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(ch byte) bool {
	return ch == '_' || (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}
