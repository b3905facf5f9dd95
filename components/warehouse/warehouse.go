// Package warehouse provides the data connectors of the prediction pipeline:
// running a query into a table, exporting a table to object storage and
// loading storage files back into a table.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/batchpredict/errors"
)

// WriteDisposition controls what happens to an existing destination table.
type WriteDisposition string

const (
	// WriteTruncate replaces the table contents.
	WriteTruncate WriteDisposition = "WRITE_TRUNCATE"
	// WriteAppend adds rows to the table.
	WriteAppend WriteDisposition = "WRITE_APPEND"
	// WriteEmpty writes only when the table is missing or has no rows.
	WriteEmpty WriteDisposition = "WRITE_EMPTY"
)

// Format is the file format of an exported dataset.
type Format string

const (
	FormatJSONL Format = "NEWLINE_DELIMITED_JSON"
	FormatCSV   Format = "CSV"
)

// Extension returns the shard file extension for the format.
func (f Format) Extension() string {
	if f == FormatCSV {
		return "csv"
	}
	return "jsonl"
}

// ParseFormat accepts the canonical names and the short forms jsonl/json/csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(FormatJSONL), "JSONL", "JSON":
		return FormatJSONL, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", errors.InvalidInput("destination_format", fmt.Sprintf("unsupported format %q", s))
	}
}

// ParseWriteDisposition defaults to WRITE_TRUNCATE.
func ParseWriteDisposition(s string) (WriteDisposition, error) {
	switch d := WriteDisposition(strings.ToUpper(strings.TrimSpace(s))); d {
	case "":
		return WriteTruncate, nil
	case WriteTruncate, WriteAppend, WriteEmpty:
		return d, nil
	default:
		return "", errors.InvalidInput("write_disposition", fmt.Sprintf("unsupported write disposition %q", s))
	}
}

// TableRef identifies a table as project.dataset.table.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// ID returns project.dataset.table.
func (t TableRef) ID() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

func (t TableRef) validate() error {
	for _, f := range [][2]string{{"project", t.Project}, {"dataset", t.Dataset}, {"table", t.Table}} {
		field, v := f[0], f[1]
		if v == "" {
			return errors.MissingField(field)
		}
		if strings.ContainsAny(v, ".`\"") {
			return errors.InvalidInput(field, fmt.Sprintf("%q contains a reserved character", v))
		}
	}
	return nil
}

// ParseTableRef parses project.dataset.table.
func ParseTableRef(id string) (TableRef, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return TableRef{}, errors.InvalidFormat("table", "project.dataset.table").WithDetail("table_id", id)
	}
	ref := TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	return ref, ref.validate()
}

// QueryJob runs Query into Destination.
type QueryJob struct {
	Query            string
	Destination      TableRef
	Location         string
	WriteDisposition WriteDisposition
}

// ExtractJob exports Source into shard files below Destination.
type ExtractJob struct {
	Source   TableRef
	Location string
	Format   Format
	// Destination is the storage URI prefix the shards are written under.
	Destination string
	// FilePattern is the shard file glob; empty means files-*.<ext>.
	FilePattern string
	// RowsPerShard overrides the warehouse default when positive.
	RowsPerShard int
}

// Dataset describes exported shard files.
type Dataset struct {
	// URI is a glob matching every shard.
	URI    string   `json:"uri"`
	Prefix string   `json:"prefix"`
	Format Format   `json:"format"`
	Files  []string `json:"files"`
	Rows   int      `json:"rows"`
}

// LoadJob loads newline-delimited JSON files matching Source into Destination.
// Rows carrying an "instance" object are flattened: its fields become
// columns next to the remaining top-level fields.
type LoadJob struct {
	Source           string
	Destination      TableRef
	Location         string
	WriteDisposition WriteDisposition
}

// Warehouse is the connector surface the pipeline calls.
type Warehouse interface {
	QueryToTable(ctx context.Context, job QueryJob) (TableRef, error)
	ExtractTable(ctx context.Context, job ExtractJob) (Dataset, error)
	LoadDataset(ctx context.Context, job LoadJob) (TableRef, error)
}

// ShardName returns the file name of shard i.
func ShardName(i int, f Format) string {
	return fmt.Sprintf("files-%012d.%s", i, f.Extension())
}
