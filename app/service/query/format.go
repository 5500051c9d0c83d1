package query

import (
	"fmt"
	"strings"
)

const maxDisplayRows = 20

// FormatRows renders query results as markdown: a bare value for a
// single aggregate, a table otherwise. Table headers follow the given
// column order, which Execute reports in SELECT order.
func FormatRows(rows []map[string]any, columns []string, summary string) string {
	if len(rows) == 0 {
		if summary == "" {
			summary = "no matching records"
		}
		return fmt.Sprintf("📊 %s\n\n(no results)", summary)
	}

	var builder strings.Builder

	if summary != "" {
		builder.WriteString(fmt.Sprintf("📊 %s\n\n", summary))
	}

	if len(rows) == 1 && len(rows[0]) == 1 {
		for _, value := range rows[0] {
			builder.WriteString(fmt.Sprintf("**%s**", formatValue(value)))
		}
		return builder.String()
	}

	builder.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	builder.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")

	display := rows
	if len(display) > maxDisplayRows {
		display = display[:maxDisplayRows]
	}

	for _, row := range display {
		values := make([]string, 0, len(columns))
		for _, col := range columns {
			values = append(values, formatValue(row[col]))
		}
		builder.WriteString("| " + strings.Join(values, " | ") + " |\n")
	}

	if len(rows) > maxDisplayRows {
		builder.WriteString(fmt.Sprintf("\n... %d more rows\n", len(rows)-maxDisplayRows))
	}

	return builder.String()
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "N/A"
	case float64:
		return fmt.Sprintf("%.2f", v)
	default:
		text := fmt.Sprint(v)
		if len(text) > 50 {
			return text[:47] + "..."
		}
		return text
	}
}
