// Package query lists records through GORM with PostgREST-style filters,
// sorting, pagination and facet counts.
//
//	params, err := query.Parse(query.Options{Filters: []string{"status=eq.failed"}}, cfg)
//	page, err := query.ApplyToGorm[Run](db.Model(&Run{}), params, cfg)
package query

// Operator is a filter operator in PostgREST notation.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNin     Operator = "nin"
	OpLike    Operator = "like"
	OpIlike   Operator = "ilike"
	OpNull    Operator = "null"
	OpNotNull Operator = "notNull"
)

// IsValid reports whether o is a known operator.
func (o Operator) IsValid() bool {
	_, ok := operatorSQL[o]
	return ok
}

// Condition restricts one column. List operands ("in.(a,b)") are in Values.
type Condition struct {
	Field    string
	Operator Operator
	Value    string
	Values   []string
}

// Params is a validated listing request.
type Params struct {
	Conditions []Condition
	Search     string
	// Page is 1-based. PageSize 0 returns every row on one page.
	Page     int
	PageSize int
	SortBy   string
	Desc     bool
}

// Paged reports whether the listing is split into pages.
func (p Params) Paged() bool { return p.PageSize > 0 }

// Config declares the columns of a table that may be searched, sorted,
// filtered and faceted. An empty AllowedFilters allows every column.
type Config struct {
	SearchFields      []string
	AllowedSortFields []string
	AllowedFilters    []string
	// DefaultSort is the ORDER BY clause used when no allowed sort is requested.
	DefaultSort string
	FacetFields []string
}

// Pagination describes the returned page.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Result is one page of records. Facets count rows per value of each facet
// field.
type Result[T any] struct {
	Data       []T                       `json:"data"`
	Pagination Pagination                `json:"pagination"`
	Facets     map[string]map[string]int `json:"facets,omitempty"`
}
