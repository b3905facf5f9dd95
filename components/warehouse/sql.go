package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kbukum/batchpredict/database"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
)

// DefaultRowsPerShard is the number of rows written to each export shard.
const DefaultRowsPerShard = 10000

// maxBoundVars keeps insert statements below the SQLite bound-variable limit.
const maxBoundVars = 900

// Option configures a SQLWarehouse.
type Option func(*SQLWarehouse)

// WithRowsPerShard sets the default export shard size.
func WithRowsPerShard(n int) Option {
	return func(w *SQLWarehouse) {
		if n > 0 {
			w.rowsPerShard = n
		}
	}
}

// SQLWarehouse implements Warehouse on a gorm database. Tables are stored
// under their full project.dataset.table identifier.
type SQLWarehouse struct {
	db           *database.DB
	store        *storage.Resolver
	log          *logger.Logger
	rowsPerShard int
}

var _ Warehouse = (*SQLWarehouse)(nil)

// NewSQLWarehouse creates a warehouse over db that exports to and loads from store.
func NewSQLWarehouse(db *database.DB, store *storage.Resolver, log *logger.Logger, opts ...Option) *SQLWarehouse {
	w := &SQLWarehouse{
		db:           db,
		store:        store,
		log:          log.WithComponent("warehouse"),
		rowsPerShard: DefaultRowsPerShard,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// QueryToTable materialises the query result into the destination table.
func (w *SQLWarehouse) QueryToTable(ctx context.Context, job QueryJob) (TableRef, error) {
	if strings.TrimSpace(job.Query) == "" {
		return TableRef{}, errors.MissingField("query")
	}
	if err := job.Destination.validate(); err != nil {
		return TableRef{}, err
	}
	disposition, err := ParseWriteDisposition(string(job.WriteDisposition))
	if err != nil {
		return TableRef{}, err
	}

	name := quoteIdent(job.Destination.ID())
	start := time.Now()
	err = w.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		exists := tx.Migrator().HasTable(job.Destination.ID())
		switch {
		case !exists:
			return tx.Exec("CREATE TABLE " + name + " AS " + job.Query).Error
		case disposition == WriteTruncate:
			if err := tx.Exec("DROP TABLE " + name).Error; err != nil {
				return err
			}
			return tx.Exec("CREATE TABLE " + name + " AS " + job.Query).Error
		case disposition == WriteEmpty:
			if err := requireEmpty(tx, job.Destination); err != nil {
				return err
			}
		}
		return tx.Exec("INSERT INTO " + name + " " + job.Query).Error
	})
	if err != nil {
		return TableRef{}, wrapDBError(err, job.Destination)
	}

	w.log.WithContext(ctx).Info("query written to table", logger.Fields(
		logger.FieldTable, job.Destination.ID(),
		"write_disposition", string(disposition),
		"location", job.Location,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return job.Destination, nil
}

// Rows returns every row of a table, columns as returned by the driver.
func (w *SQLWarehouse) Rows(ctx context.Context, table TableRef) ([]map[string]any, error) {
	var out []map[string]any
	_, err := scanTable(w.db.WithContext(ctx), table, func(columns []string, values []any) error {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasTable reports whether a table exists.
func (w *SQLWarehouse) HasTable(ctx context.Context, table TableRef) bool {
	return w.db.WithContext(ctx).Migrator().HasTable(table.ID())
}

// LoadRows writes rows into table using the given disposition. Columns are
// the union of the row keys; types are inferred from the values. Loading no
// rows leaves an existing table empty under WRITE_TRUNCATE and untouched
// otherwise; no table is created.
func (w *SQLWarehouse) LoadRows(ctx context.Context, table TableRef, rows []map[string]any, disposition WriteDisposition) error {
	if err := table.validate(); err != nil {
		return err
	}
	disposition, err := ParseWriteDisposition(string(disposition))
	if err != nil {
		return err
	}
	name := quoteIdent(table.ID())
	columns := inferColumns(rows)
	if len(columns) == 0 {
		if disposition != WriteTruncate || !w.HasTable(ctx, table) {
			return nil
		}
		if err := w.db.WithContext(ctx).Exec("DELETE FROM " + name).Error; err != nil {
			return wrapDBError(err, table)
		}
		return nil
	}

	err = w.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		exists := tx.Migrator().HasTable(table.ID())
		if exists && disposition == WriteEmpty {
			if err := requireEmpty(tx, table); err != nil {
				return err
			}
		}
		if exists && disposition == WriteTruncate {
			if err := tx.Exec("DROP TABLE " + name).Error; err != nil {
				return err
			}
			exists = false
		}
		if !exists {
			if err := tx.Exec(createTableSQL(name, columns)).Error; err != nil {
				return err
			}
		} else if err := addMissingColumns(tx, table, columns); err != nil {
			return err
		}
		return insertRows(tx, name, columns, rows)
	})
	if err != nil {
		return wrapDBError(err, table)
	}
	return nil
}

type column struct {
	name    string
	sqlType string
}

func inferColumns(rows []map[string]any) []column {
	types := make(map[string]string)
	for _, row := range rows {
		for k, v := range row {
			t := sqlType(v)
			switch prev, seen := types[k]; {
			case !seen || prev == "":
				types[k] = t
			case t == "" || t == prev:
			case (prev == "INTEGER" && t == "REAL") || (prev == "REAL" && t == "INTEGER"):
				types[k] = "REAL"
			default:
				types[k] = "TEXT"
			}
		}
	}
	cols := make([]column, 0, len(types))
	for name, t := range types {
		if t == "" {
			t = "TEXT"
		}
		cols = append(cols, column{name: name, sqlType: t})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].name < cols[j].name })
	return cols
}

func sqlType(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int, int32, int64, bool:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "INTEGER"
		}
		return "REAL"
	default:
		return "TEXT"
	}
}

func createTableSQL(name string, columns []column) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c.name) + " " + c.sqlType
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
}

func addMissingColumns(tx *gorm.DB, table TableRef, columns []column) error {
	existing, err := tableColumns(tx, table)
	if err != nil {
		return err
	}
	for _, c := range columns {
		if _, ok := existing[c.name]; ok {
			continue
		}
		if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table.ID()), quoteIdent(c.name), c.sqlType)).Error; err != nil {
			return err
		}
	}
	return nil
}

func tableColumns(tx *gorm.DB, table TableRef) (map[string]struct{}, error) {
	rows, err := tx.Raw("SELECT * FROM " + quoteIdent(table.ID()) + " LIMIT 0").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

func insertRows(tx *gorm.DB, name string, columns []column, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c.name)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	batch := max(1, maxBoundVars/len(columns))

	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(columns))
		for _, row := range rows[start:end] {
			values = append(values, placeholder)
			for _, c := range columns {
				args = append(args, bindValue(row[c.name]))
			}
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", name, strings.Join(quoted, ", "), strings.Join(values, ", "))
		if err := tx.Exec(stmt, args...).Error; err != nil {
			return err
		}
	}
	return nil
}

func bindValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case time.Time:
		return x.UTC().Format(time.DateTime)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

func requireEmpty(tx *gorm.DB, table TableRef) error {
	var n int64
	if err := tx.Raw("SELECT count(*) FROM " + quoteIdent(table.ID())).Scan(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return errors.AlreadyExists("table").WithDetail("table_id", table.ID()).WithDetail("rows", n)
	}
	return nil
}

// scanTable streams every row of table to fn and returns the column names,
// also for a table without rows. values is reused between calls.
func scanTable(db *gorm.DB, table TableRef, fn func(columns []string, values []any) error) ([]string, error) {
	if !db.Migrator().HasTable(table.ID()) {
		return nil, errors.NotFound("table", table.ID())
	}
	rows, err := db.Raw("SELECT * FROM " + quoteIdent(table.ID())).Rows()
	if err != nil {
		return nil, wrapDBError(err, table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, wrapDBError(err, table)
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapDBError(err, table)
		}
		if err := fn(columns, values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err, table)
	}
	return columns, nil
}

// normalize converts driver values into JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.DateTime)
	default:
		return x
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func wrapDBError(err error, table TableRef) error {
	if errors.IsAppError(err) {
		return err
	}
	return database.FromDatabase(err, table.ID())
}
