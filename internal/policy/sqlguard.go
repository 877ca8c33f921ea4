package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// Argument keys inspected for SQL statements, in order.
var sqlArgKeys = []string{"query", "sql", "statement"}

// Fallback patterns for statements the parser cannot handle. Comments and
// string literals are stripped before matching, but this path is still
// conservative and may over-block.
var (
	destructiveKeywordRe = regexp.MustCompile(`(?is)\b(drop|truncate|alter)\b`)
	deleteKeywordRe      = regexp.MustCompile(`(?is)\bdelete\b`)
	whereKeywordRe       = regexp.MustCompile(`(?is)\bwhere\b`)
	lineCommentRe        = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe       = regexp.MustCompile(`(?s)/\*.*?\*/`)
	stringLiteralRe      = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
)

// sqlGuard rejects destructive SQL. It parses the statement into an AST so
// that keywords inside comments or string literals never trigger; only when
// parsing fails does it fall back to keyword matching.
type sqlGuard struct{}

func newSQLGuard() sqlGuard { return sqlGuard{} }

func (sqlGuard) Name() string                   { return "sql_guard" }
func (sqlGuard) Priority() int                  { return PriorityContent }
func (sqlGuard) AppliesTo() []models.ActionType { return nil }

func (g sqlGuard) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	stmt, ok := extractSQL(req.Args)
	if !ok {
		return nil
	}
	if reason := CheckSQL(stmt); reason != "" {
		return &Decision{Allowed: false, Reason: reason}
	}
	return nil
}

func extractSQL(args map[string]any) (string, bool) {
	for _, key := range sqlArgKeys {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

// CheckSQL returns a non-empty denial reason when the statement is
// destructive: table or database drop, truncate, alter, or a DELETE without
// a WHERE clause. Matching is case- and whitespace-insensitive.
func CheckSQL(stmt string) string {
	parsed, err := sqlparser.Parse(stmt)
	if err != nil {
		return checkSQLFallback(stmt)
	}

	switch s := parsed.(type) {
	case *sqlparser.DDL:
		switch s.Action {
		case sqlparser.DropStr, sqlparser.TruncateStr, sqlparser.AlterStr:
			return fmt.Sprintf("destructive SQL operation %q is not permitted", s.Action)
		}
	case *sqlparser.DBDDL:
		if s.Action == sqlparser.DropStr {
			return "destructive SQL operation \"drop database\" is not permitted"
		}
	case *sqlparser.Delete:
		if s.Where == nil {
			return "DELETE without a WHERE clause is not permitted"
		}
	}
	return ""
}

// checkSQLFallback is the keyword check used when structural parsing is
// unavailable for the statement.
func checkSQLFallback(stmt string) string {
	cleaned := blockCommentRe.ReplaceAllString(stmt, " ")
	cleaned = lineCommentRe.ReplaceAllString(cleaned, " ")
	cleaned = stringLiteralRe.ReplaceAllString(cleaned, "''")

	if m := destructiveKeywordRe.FindString(cleaned); m != "" {
		return fmt.Sprintf("destructive SQL keyword %q is not permitted", strings.ToLower(m))
	}
	if deleteKeywordRe.MatchString(cleaned) && !whereKeywordRe.MatchString(cleaned) {
		return "DELETE without a WHERE clause is not permitted"
	}
	return ""
}
