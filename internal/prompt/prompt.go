package prompt

import "strings"

const instruction = "Translate the following user question into a single, valid PostgreSQL SELECT query. " +
	"**Use only the exact table and column names provided in the schema.** Only output the SQL query."

// Build renders the completion prompt. The schema and question are embedded
// verbatim; the question is not validated.
func Build(schema, question string) string {
	var b strings.Builder
	b.WriteString("Given the following PostgreSQL database schema:\n\n")
	b.WriteString("```sql\n")
	b.WriteString(schema)
	if !strings.HasSuffix(schema, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
	b.WriteString(instruction)
	b.WriteString("\n\nUser Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}
