package query

import (
	"slices"
	"strings"

	"github.com/kbukum/batchpredict/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Options are raw listing options, typically command-line flags.
type Options struct {
	// Filters are "field=op.value" expressions such as "status=eq.failed".
	Filters []string
	Search  string
	SortBy  string
	// Order is asc or desc, case-insensitive. Anything else means asc.
	Order string
	Page  int
	// Limit is the page size, clamped to MaxPageSize. -1 disables paging.
	Limit int
}

// Parse validates opts against cfg. A filter that is not field=op.value is
// INVALID_FORMAT; one on a field outside cfg.AllowedFilters is INVALID_INPUT.
func Parse(opts Options, cfg Config) (Params, error) {
	p := Params{
		Page:     max(opts.Page, 1),
		PageSize: DefaultPageSize,
		Search:   strings.TrimSpace(opts.Search),
		SortBy:   opts.SortBy,
		Desc:     strings.EqualFold(opts.Order, "desc"),
	}
	switch {
	case opts.Limit < 0:
		p.PageSize = 0
	case opts.Limit > 0:
		p.PageSize = min(opts.Limit, MaxPageSize)
	}
	for _, expr := range opts.Filters {
		field, value, ok := strings.Cut(expr, "=")
		if !ok || field == "" {
			return Params{}, errors.InvalidFormat("filter", "field=op.value").WithDetail("filter", expr)
		}
		if len(cfg.AllowedFilters) > 0 && !slices.Contains(cfg.AllowedFilters, field) {
			return Params{}, errors.InvalidInput("filter", "field "+field+" is not filterable").WithDetail("filter", expr)
		}
		p.Conditions = append(p.Conditions, parseCondition(field, value))
	}
	return p, nil
}

// parseCondition reads "op.value", "op.(a,b)", "is.null" or "not.is.null".
// A value without a known operator prefix is an equality test on the whole
// value. Backslash escapes the next character.
func parseCondition(field, value string) Condition {
	switch value {
	case "is.null":
		return Condition{Field: field, Operator: OpNull}
	case "not.is.null":
		return Condition{Field: field, Operator: OpNotNull}
	}
	prefix, operand, ok := strings.Cut(value, ".")
	op := Operator(prefix)
	if !ok || !op.IsValid() {
		return Condition{Field: field, Operator: OpEq, Value: value}
	}
	if list, ok := strings.CutPrefix(operand, "("); ok && strings.HasSuffix(list, ")") {
		return Condition{Field: field, Operator: op, Values: split(strings.TrimSuffix(list, ")"), ',')}
	}
	return Condition{Field: field, Operator: op, Value: unescape(operand)}
}

// split cuts s at unescaped sep, unescapes and trims every item and drops
// empty ones.
func split(s string, sep rune) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if item := strings.TrimSpace(b.String()); item != "" {
			out = append(out, item)
		}
		b.Reset()
	}
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == sep:
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
