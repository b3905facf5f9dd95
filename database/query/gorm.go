package query

import (
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"
)

// operatorSQL maps single-value operators to their WHERE template.
var operatorSQL = map[Operator]string{
	OpEq:      "%s = ?",
	OpNeq:     "%s != ?",
	OpGt:      "%s > ?",
	OpGte:     "%s >= ?",
	OpLt:      "%s < ?",
	OpLte:     "%s <= ?",
	OpIn:      "%s IN ?",
	OpNin:     "%s NOT IN ?",
	OpLike:    "%s LIKE ?",
	OpIlike:   "LOWER(%s) LIKE ?",
	OpNull:    "%s IS NULL",
	OpNotNull: "%s IS NOT NULL",
}

// ApplyToGorm runs the listing described by params on db, which must
// already select the model, and returns one page with facet counts.
func ApplyToGorm[T any](db *gorm.DB, params Params, config Config) (*Result[T], error) {
	q := filtered(db, params.Conditions, "")
	if params.Search != "" && len(config.SearchFields) > 0 {
		q = search(q, params.Search, config.SearchFields)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	facets, err := countFacets(db, params.Conditions, config.FacetFields)
	if err != nil {
		return nil, err
	}

	q = order(q, params, config)
	page := Pagination{Page: params.Page, Total: int(total), TotalPages: 1, PageSize: int(total)}
	if params.Paged() {
		page.PageSize = params.PageSize
		page.TotalPages = max(1, (page.Total+params.PageSize-1)/params.PageSize)
		q = q.Offset((params.Page - 1) * params.PageSize).Limit(params.PageSize)
	}

	var data []T
	if err := q.Find(&data).Error; err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &Result[T]{Data: data, Pagination: page, Facets: facets}, nil
}

// filtered applies every condition except those on skip.
func filtered(db *gorm.DB, conditions []Condition, skip string) *gorm.DB {
	q := db.Session(&gorm.Session{})
	for _, c := range conditions {
		if c.Field != skip {
			q = where(q, c)
		}
	}
	return q
}

func where(db *gorm.DB, c Condition) *gorm.DB {
	op := c.Operator
	list := c.Values
	switch op {
	case OpIn, OpNin:
		if len(list) == 0 {
			if c.Value == "" {
				return db
			}
			list = strings.Split(c.Value, ",")
		}
	case OpEq, OpNeq:
		if len(list) > 0 {
			op = map[Operator]Operator{OpEq: OpIn, OpNeq: OpNin}[op]
		}
	}

	tmpl, ok := operatorSQL[op]
	if !ok {
		return db
	}
	clause := fmt.Sprintf(tmpl, c.Field)
	switch op {
	case OpNull, OpNotNull:
		return db.Where(clause)
	case OpIn, OpNin:
		return db.Where(clause, list)
	case OpLike:
		return db.Where(clause, "%"+c.Value+"%")
	case OpIlike:
		return db.Where(clause, "%"+strings.ToLower(c.Value)+"%")
	default:
		return db.Where(clause, c.Value)
	}
}

func search(db *gorm.DB, text string, fields []string) *gorm.DB {
	pattern := "%" + strings.ToLower(text) + "%"
	clauses := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		clauses[i] = fmt.Sprintf("LOWER(%s) LIKE ?", f)
		args[i] = pattern
	}
	return db.Where(strings.Join(clauses, " OR "), args...)
}

func order(db *gorm.DB, params Params, config Config) *gorm.DB {
	if params.SortBy != "" && slices.Contains(config.AllowedSortFields, params.SortBy) {
		if params.Desc {
			return db.Order(params.SortBy + " DESC")
		}
		return db.Order(params.SortBy)
	}
	if config.DefaultSort != "" {
		return db.Order(config.DefaultSort)
	}
	return db
}

// countFacets counts rows per value of each facet field. The filter on a
// field itself is ignored so every value of that field stays visible.
func countFacets(db *gorm.DB, conditions []Condition, fields []string) (map[string]map[string]int, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	facets := make(map[string]map[string]int, len(fields))
	for _, field := range fields {
		var rows []struct {
			Value string
			Count int
		}
		err := filtered(db, conditions, field).
			Select(fmt.Sprintf("%s AS value, COUNT(*) AS count", field)).
			Group(field).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", field, err)
		}
		counts := make(map[string]int, len(rows))
		for _, r := range rows {
			counts[r.Value] = r.Count
		}
		facets[field] = counts
	}
	return facets, nil
}
