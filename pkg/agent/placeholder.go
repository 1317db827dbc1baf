package agent

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/openfunnel/maestro/pkg/models"
)

// Placeholder syntax: {{field}} references a field on the current iteration
// item; {{name.field}} references a field on the first record of the named
// result set.
var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// picklistRe matches "dirty" picklist-style values of the form
// "<integer> - <tail>"; resolution reduces them to the integer id prefix.
var picklistRe = regexp.MustCompile(`^(\d+)\s*-\s*.+$`)

// sqlKeywords drive the SQL-context heuristic: when a template string looks
// like a query, plain {{field}} values get single-quoted on substitution.
// {{name.field}} values are not re-quoted; the planner quotes those
// explicitly.
var sqlKeywords = []string{"SELECT", "FROM", "WHERE", "INSERT", "UPDATE"}

// Resolver substitutes placeholders in planned tool arguments against the
// current iteration item and the accumulated named result sets.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// ResolveArgs returns a copy of args with every string leaf resolved.
// Dicts and lists are traversed recursively; non-string leaves pass through.
// Resolving arguments with no placeholders left is a no-op.
func (r *Resolver) ResolveArgs(args map[string]any, item models.Record, resultSets map[string][]models.Record) map[string]any {
	if args == nil {
		return nil
	}
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = r.resolveValue(v, item, resultSets)
	}
	return resolved
}

func (r *Resolver) resolveValue(v any, item models.Record, resultSets map[string][]models.Record) any {
	switch t := v.(type) {
	case string:
		return r.ResolveString(t, item, resultSets)
	case map[string]any:
		return r.ResolveArgs(t, item, resultSets)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = r.resolveValue(elem, item, resultSets)
		}
		return out
	default:
		return v
	}
}

// ResolveString substitutes all placeholders in one string. Missing keys
// leave the placeholder literal intact and log a warning.
func (r *Resolver) ResolveString(s string, item models.Record, resultSets map[string][]models.Record) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	sqlContext := isSQLContext(s)

	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])

		if dot := strings.Index(inner, "."); dot > 0 {
			setName := inner[:dot]
			field := inner[dot+1:]
			value, ok := lookupResultSet(resultSets, setName, field)
			if !ok {
				r.logger.Warn("Unresolved result-set placeholder",
					"placeholder", inner, "set", setName, "field", field)
				return match
			}
			return CleanPicklistValue(models.Stringify(value))
		}

		value, ok := item[inner]
		if !ok {
			r.logger.Warn("Unresolved item placeholder", "placeholder", inner)
			return match
		}
		resolved := CleanPicklistValue(models.Stringify(value))
		if sqlContext {
			return "'" + resolved + "'"
		}
		return resolved
	})
}

// lookupResultSet finds the first record of a named set (case-insensitive
// set name, case-sensitive field) and returns the field value.
func lookupResultSet(resultSets map[string][]models.Record, setName, field string) (any, bool) {
	rows, ok := resultSets[setName]
	if !ok {
		lower := strings.ToLower(setName)
		for name, candidate := range resultSets {
			if strings.ToLower(name) == lower {
				rows = candidate
				ok = true
				break
			}
		}
	}
	if !ok || len(rows) == 0 {
		return nil, false
	}
	value, ok := rows[0][field]
	return value, ok
}

// CleanPicklistValue normalizes a "<integer> - <tail>" value into its
// integer id prefix. Other values pass through unchanged.
func CleanPicklistValue(s string) string {
	if m := picklistRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// isSQLContext reports whether a template string looks like a query.
func isSQLContext(s string) bool {
	upper := strings.ToUpper(s)
	for _, kw := range sqlKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
