package sqlextract

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantMatcher string
		wantOK      bool
	}{
		{
			name:        "fenced block with commentary",
			input:       "Here you go:\n```sql\nSELECT * FROM customers\n```\nHope that helps!",
			want:        "SELECT * FROM customers;",
			wantMatcher: "fenced",
			wantOK:      true,
		},
		{
			name:        "fenced block keeps single semicolon",
			input:       "```sql\nSELECT name, email FROM customers WHERE id = 1;\n```",
			want:        "SELECT name, email FROM customers WHERE id = 1;",
			wantMatcher: "fenced",
			wantOK:      true,
		},
		{
			name:        "fenced block without language tag",
			input:       "```\nselect count(*) from orders\n```",
			want:        "select count(*) from orders;",
			wantMatcher: "fenced",
			wantOK:      true,
		},
		{
			name:        "fenced block collapses repeated semicolons",
			input:       "```sql\nSELECT 1;;\n```",
			want:        "SELECT 1;",
			wantMatcher: "fenced",
			wantOK:      true,
		},
		{
			name:        "label up to semicolon",
			input:       "SQL: SELECT id FROM orders; -- done",
			want:        "SELECT id FROM orders;",
			wantMatcher: "label",
			wantOK:      true,
		},
		{
			name:        "label up to end of string",
			input:       "Answer\nSQL:   SELECT id\nFROM orders",
			want:        "SELECT id\nFROM orders;",
			wantMatcher: "label",
			wantOK:      true,
		},
		{
			name:        "bare select",
			input:       "The query is SELECT name FROM customers; it returns names.",
			want:        "SELECT name FROM customers;",
			wantMatcher: "bare",
			wantOK:      true,
		},
		{
			name:        "bare select at end of output",
			input:       "SELECT name FROM customers ORDER BY name",
			want:        "SELECT name FROM customers ORDER BY name;",
			wantMatcher: "bare",
			wantOK:      true,
		},
		{
			name:   "no select anywhere",
			input:  "I cannot answer that question with this schema.",
			wantOK: false,
		},
		{
			name:   "fenced non-select statement",
			input:  "```sql\nDELETE FROM customers;\n```",
			wantOK: false,
		},
		{
			name:   "empty output",
			input:  "",
			wantOK: false,
		},
		{
			name:   "second statement in fenced block is rejected",
			input:  "```sql\nSELECT 1;\nDROP TABLE customers;\n```",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Extract() ok = %v, want %v (got %q)", ok, tt.wantOK, got.Statement)
			}
			if !ok {
				if got != (Candidate{}) {
					t.Fatalf("expected zero candidate, got %+v", got)
				}
				return
			}
			if got.Statement != tt.want {
				t.Fatalf("Statement = %q, want %q", got.Statement, tt.want)
			}
			if got.Matcher != tt.wantMatcher {
				t.Fatalf("Matcher = %q, want %q", got.Matcher, tt.wantMatcher)
			}
		})
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	inputs := []string{
		"Here you go:\n```sql\nSELECT * FROM customers\n```\nHope that helps!",
		"SQL: SELECT id, total FROM orders WHERE total > 10",
		"select name from customers;",
		"```sql\nSELECT c.name\nFROM customers c\nJOIN orders o ON o.customer_id = c.id\n```",
	}
	for _, input := range inputs {
		first, ok := Extract(input)
		if !ok {
			t.Fatalf("Extract(%q) failed", input)
		}
		second, ok := Extract(first.Statement)
		if !ok {
			t.Fatalf("Extract(%q) failed on own output", first.Statement)
		}
		if second.Statement != first.Statement {
			t.Fatalf("not idempotent: %q -> %q", first.Statement, second.Statement)
		}
	}
}

func TestExtractAlwaysEndsWithExactlyOneSemicolon(t *testing.T) {
	commentary := []string{"", "Sure!\n", "Of course, here is the query:\n\n"}
	trailers := []string{"", "\nLet me know.", "\n\nThis lists all rows."}
	bodies := []string{"SELECT 1", "SELECT 1;", "SELECT *\nFROM t\nWHERE a = 'x'"}
	for _, before := range commentary {
		for _, after := range trailers {
			for _, body := range bodies {
				input := before + "```sql\n" + body + "\n```" + after
				got, ok := Extract(input)
				if !ok {
					t.Fatalf("Extract(%q) failed", input)
				}
				n := len(got.Statement)
				if got.Statement[n-1] != ';' || (n > 1 && got.Statement[n-2] == ';') {
					t.Fatalf("Statement %q does not end with exactly one semicolon", got.Statement)
				}
			}
		}
	}
}
