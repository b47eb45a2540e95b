package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// SanitizeTable quotes a possibly schema-qualified table name like
// "public.field_notes".
func SanitizeTable(table string) string {
	schema, name := SplitTable(table)
	if schema != "" {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{name}.Sanitize()
}

// SplitTable splits "schema.table" into its parts. Schema is empty for an
// unqualified name.
func SplitTable(table string) (schema, name string) {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", table
}

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
