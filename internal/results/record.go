package results

import (
	"bytes"
	"encoding/json"
)

// Record is one output row. Columns and Values are parallel and keep the
// header's left-to-right order.
type Record struct {
	Columns []string
	Values  []any
}

func (r Record) Get(column string) (any, bool) {
	for i, name := range r.Columns {
		if name == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map copies the record into an unordered map.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.Columns))
	for i, name := range r.Columns {
		out[name] = r.Values[i]
	}
	return out
}

// MarshalJSON encodes the record as a JSON object whose keys follow column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Result struct {
	Columns []string
	Records []Record
	// Dropped counts data rows whose token count did not match the header.
	Dropped int
}
