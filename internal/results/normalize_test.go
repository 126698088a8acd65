package results

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		got := Normalize(input)
		if len(got.Records) != 0 {
			t.Fatalf("Normalize(%q) records = %d", input, len(got.Records))
		}
		if got.Records == nil {
			t.Fatalf("Normalize(%q) records should be empty, not nil", input)
		}
		if got.Dropped != 0 {
			t.Fatalf("Normalize(%q) dropped = %d", input, got.Dropped)
		}
	}
}

func TestNormalizeSingleRow(t *testing.T) {
	got := Normalize("name email\nJohnDoe john@example.com\n")

	want := Result{
		Columns: []string{"name", "email"},
		Records: []Record{{
			Columns: []string{"name", "email"},
			Values:  []any{"JohnDoe", "john@example.com"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeDropsMalformedRowsAndKeepsOthers(t *testing.T) {
	input := "name email\n" +
		"JohnDoe john@example.com\n" +
		"Jane Smith jane@example.com\n" +
		"Alice alice@example.com\n" +
		"lonely\n"

	got := Normalize(input)
	if got.Dropped != 2 {
		t.Fatalf("Dropped = %d, want 2", got.Dropped)
	}
	names := make([]any, 0, len(got.Records))
	for _, record := range got.Records {
		value, _ := record.Get("name")
		names = append(names, value)
	}
	if diff := cmp.Diff([]any{"JohnDoe", "Alice"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeDiscardsLeadingRowIndex(t *testing.T) {
	input := "      name                email\n" +
		"0  JohnDoe  john@example.com\n" +
		"1  JaneRoe  jane@example.com\n"

	got := Normalize(input)
	if got.Dropped != 0 {
		t.Fatalf("Dropped = %d", got.Dropped)
	}
	if len(got.Records) != 2 {
		t.Fatalf("records = %d", len(got.Records))
	}
	if diff := cmp.Diff(map[string]any{"name": "JaneRoe", "email": "jane@example.com"}, got.Records[1].Map()); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeInfersColumnTypes(t *testing.T) {
	input := "id price label score\n" +
		"1 9.5 a NaN\n" +
		"2 10 b 3\n"

	got := Normalize(input)
	want := [][]any{
		{int64(1), 9.5, "a", nil},
		{int64(2), float64(10), "b", int64(3)},
	}
	values := make([][]any, 0, len(got.Records))
	for _, record := range got.Records {
		values = append(values, record.Values)
	}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeEmptyDataFrameBanner(t *testing.T) {
	got := Normalize("Empty DataFrame\nColumns: [name, email]\nIndex: []\n")
	if len(got.Records) != 0 {
		t.Fatalf("records = %d", len(got.Records))
	}
	if diff := cmp.Diff([]string{"name", "email"}, got.Columns); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeDisambiguatesDuplicateColumns(t *testing.T) {
	got := Normalize("id name id\n1 a 2\n")
	if diff := cmp.Diff([]string{"id", "name", "id.1"}, got.Columns); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordMarshalJSONKeepsColumnOrder(t *testing.T) {
	record := Record{
		Columns: []string{"zeta", "alpha", "mid"},
		Values:  []any{"z", int64(1), nil},
	}
	raw, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(raw) != `{"zeta":"z","alpha":1,"mid":null}` {
		t.Fatalf("json = %s", raw)
	}
}

func TestNormalizeUnindexedFrameDropsRowWithExtraIntegerToken(t *testing.T) {
	got := Normalize("name email\nJohnDoe john@example.com\n7 Jane jane@x.com\n")

	if got.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", got.Dropped)
	}
	if len(got.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(got.Records))
	}
	if diff := cmp.Diff(map[string]any{"name": "JohnDoe", "email": "john@example.com"}, got.Records[0].Map()); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeIndexedFrameDropsRowsWithoutIndexShape(t *testing.T) {
	input := "   id   name\n" +
		"0   1  alice\n" +
		"1   2  Jane Smith\n" +
		"2   3\n" +
		"3   4  bob\n"

	got := Normalize(input)
	if got.Dropped != 2 {
		t.Fatalf("Dropped = %d, want 2", got.Dropped)
	}
	ids := make([]any, 0, len(got.Records))
	for _, record := range got.Records {
		value, _ := record.Get("id")
		ids = append(ids, value)
	}
	if diff := cmp.Diff([]any{int64(1), int64(4)}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}
