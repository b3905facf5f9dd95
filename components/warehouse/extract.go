package warehouse

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
)

// ExtractTable writes the table to shard files below job.Destination.
// Existing objects under the destination are removed first so a rerun
// replaces the previous export.
func (w *SQLWarehouse) ExtractTable(ctx context.Context, job ExtractJob) (Dataset, error) {
	if err := job.Source.validate(); err != nil {
		return Dataset{}, err
	}
	if job.Destination == "" {
		return Dataset{}, errors.MissingField("destination")
	}
	format, err := ParseFormat(string(job.Format))
	if err != nil {
		return Dataset{}, err
	}
	perShard := job.RowsPerShard
	if perShard <= 0 {
		perShard = w.rowsPerShard
	}

	prefix := storage.Join(job.Destination)
	if err := w.store.DeletePrefix(ctx, prefix+"/"); err != nil {
		return Dataset{}, err
	}

	start := time.Now()
	enc := newShardEncoder(format)
	ds := Dataset{Prefix: prefix, Format: format}
	flush := func() error {
		if enc.rows == 0 && len(ds.Files) > 0 {
			return nil
		}
		uri := storage.Join(prefix, ShardName(len(ds.Files), format))
		data, err := enc.bytes()
		if err != nil {
			return err
		}
		if err := w.store.WriteBytes(ctx, uri, data); err != nil {
			return err
		}
		ds.Files = append(ds.Files, uri)
		enc.reset()
		return nil
	}

	columns, err := scanTable(w.db.WithContext(ctx), job.Source, func(columns []string, values []any) error {
		if err := enc.write(columns, values); err != nil {
			return err
		}
		ds.Rows++
		if enc.rows >= perShard {
			return flush()
		}
		return nil
	})
	if err != nil {
		return Dataset{}, err
	}
	enc.columns = columns
	if err := flush(); err != nil {
		return Dataset{}, err
	}

	pattern := job.FilePattern
	if pattern == "" {
		pattern = "files-*." + format.Extension()
	}
	ds.URI = storage.Join(prefix, pattern)

	w.log.WithContext(ctx).Info("table extracted", logger.Fields(
		logger.FieldTable, job.Source.ID(),
		logger.FieldURI, ds.URI,
		"format", string(format),
		"rows", ds.Rows,
		"shards", len(ds.Files),
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return ds, nil
}

// shardEncoder buffers one shard in the export format. Every CSV shard
// starts with the header, an empty one included.
type shardEncoder struct {
	format  Format
	buf     bytes.Buffer
	csv     *csv.Writer
	columns []string
	header  bool
	rows    int
}

func newShardEncoder(format Format) *shardEncoder {
	e := &shardEncoder{format: format}
	e.reset()
	return e
}

func (e *shardEncoder) reset() {
	e.buf.Reset()
	e.rows = 0
	e.header = false
	if e.format == FormatCSV {
		e.csv = csv.NewWriter(&e.buf)
	}
}

func (e *shardEncoder) write(columns []string, values []any) error {
	e.rows++
	if e.format != FormatCSV {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return errors.Internal(err)
		}
		e.buf.Write(raw)
		e.buf.WriteByte('\n')
		return nil
	}

	e.columns = columns
	if err := e.writeHeader(); err != nil {
		return err
	}
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = csvValue(normalize(v))
	}
	return e.csv.Write(record)
}

func (e *shardEncoder) writeHeader() error {
	if e.header || len(e.columns) == 0 {
		return nil
	}
	if err := e.csv.Write(e.columns); err != nil {
		return errors.Internal(err)
	}
	e.header = true
	return nil
}

func (e *shardEncoder) bytes() ([]byte, error) {
	if e.csv == nil {
		return e.buf.Bytes(), nil
	}
	if err := e.writeHeader(); err != nil {
		return nil, err
	}
	e.csv.Flush()
	if err := e.csv.Error(); err != nil {
		return nil, errors.Internal(err)
	}
	return e.buf.Bytes(), nil
}

func csvValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
