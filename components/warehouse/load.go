package warehouse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
)

// instanceKey is the field batch prediction output nests input rows under.
const instanceKey = "instance"

// LoadDataset loads every JSONL file matching job.Source into the destination table.
func (w *SQLWarehouse) LoadDataset(ctx context.Context, job LoadJob) (TableRef, error) {
	if job.Source == "" {
		return TableRef{}, errors.MissingField("source")
	}
	uris, err := w.store.Glob(ctx, job.Source)
	if err != nil {
		return TableRef{}, err
	}
	if len(uris) == 0 {
		return TableRef{}, errors.NotFound("dataset", job.Source)
	}

	start := time.Now()
	var rows []map[string]any
	for _, uri := range uris {
		data, err := w.store.ReadAll(ctx, uri)
		if err != nil {
			return TableRef{}, err
		}
		parsed, perr := parseJSONL(data)
		if perr != nil {
			return TableRef{}, perr.WithDetail("uri", uri)
		}
		rows = append(rows, parsed...)
	}

	if err := w.LoadRows(ctx, job.Destination, rows, job.WriteDisposition); err != nil {
		return TableRef{}, err
	}

	w.log.WithContext(ctx).Info("dataset loaded", logger.Fields(
		logger.FieldTable, job.Destination.ID(),
		logger.FieldURI, job.Source,
		"files", len(uris),
		"rows", len(rows),
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return job.Destination, nil
}

func parseJSONL(data []byte) ([]map[string]any, *errors.AppError) {
	var rows []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return nil, errors.InvalidFormat("dataset", "newline-delimited JSON objects").WithCause(err).WithDetail("line", line)
		}
		rows = append(rows, flatten(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Internal(err)
	}
	return rows, nil
}

func flatten(row map[string]any) map[string]any {
	instance, ok := row[instanceKey].(map[string]any)
	if !ok {
		return row
	}
	out := make(map[string]any, len(row)+len(instance))
	for k, v := range instance {
		out[k] = v
	}
	for k, v := range row {
		if k != instanceKey {
			out[k] = v
		}
	}
	return out
}
