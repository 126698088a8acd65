// Package export writes query results to the object store as parquet.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querybridge/querybridge/internal/results"
	"github.com/querybridge/querybridge/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

// Cell is one value of one record. Results have no fixed schema, so exports
// use a long layout with one parquet row per cell.
type Cell struct {
	RowIndex    int64    `parquet:"row_index"`
	Position    int32    `parquet:"position"`
	Column      string   `parquet:"column"`
	Kind        string   `parquet:"kind"`
	IntValue    *int64   `parquet:"int_value,optional"`
	FloatValue  *float64 `parquet:"float_value,optional"`
	StringValue *string  `parquet:"string_value,optional"`
}

type Request struct {
	QueryID   string
	Identity  string
	CreatedAt time.Time
	Result    results.Result
}

type Exporter struct {
	store  storage.ObjectStore
	prefix string
}

func NewExporter(store storage.ObjectStore, prefix string) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Exporter{store: store, prefix: prefix}, nil
}

// Export encodes the result and uploads it, returning the object key.
func (e *Exporter) Export(ctx context.Context, req Request) (string, error) {
	key, err := storage.BuildExportKey(e.prefix, req.Identity, req.QueryID, req.CreatedAt)
	if err != nil {
		return "", err
	}
	data, err := Encode(req.Result.Records)
	if err != nil {
		return "", err
	}
	_, err = e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"query-id": req.QueryID,
			"records":  strconv.Itoa(len(req.Result.Records)),
			"dropped":  strconv.Itoa(req.Result.Dropped),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload export %q: %w", key, err)
	}
	return key, nil
}

func Encode(records []results.Record) ([]byte, error) {
	cells := make([]Cell, 0, len(records)*4)
	for rowIndex, record := range records {
		for position, column := range record.Columns {
			cell := Cell{RowIndex: int64(rowIndex), Position: int32(position), Column: column}
			switch value := record.Values[position].(type) {
			case nil:
				cell.Kind = "null"
			case int64:
				cell.Kind = "int64"
				cell.IntValue = &value
			case float64:
				cell.Kind = "float64"
				cell.FloatValue = &value
			case string:
				cell.Kind = "string"
				cell.StringValue = &value
			default:
				text := fmt.Sprint(value)
				cell.Kind = "string"
				cell.StringValue = &text
			}
			cells = append(cells, cell)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Cell](buf)
	if _, err := writer.Write(cells); err != nil {
		return nil, fmt.Errorf("write parquet cells: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
