package sandbox

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// renderFrame prints rows the way pandas prints a DataFrame: a right-aligned
// header line and one line per row prefixed with its integer index.
func renderFrame(columns []string, rows [][]string) string {
	if len(rows) == 0 {
		return fmt.Sprintf("Empty DataFrame\nColumns: [%s]\nIndex: []\n", strings.Join(columns, ", "))
	}

	indexWidth := len(strconv.Itoa(len(rows) - 1))
	widths := make([]int, len(columns))
	for i, column := range columns {
		widths[i] = utf8.RuneCountInString(column)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", indexWidth))
	for i, column := range columns {
		b.WriteString("  ")
		b.WriteString(padLeft(column, widths[i]))
	}
	b.WriteByte('\n')
	for index, row := range rows {
		b.WriteString(padRight(strconv.Itoa(index), indexWidth))
		for i, cell := range row {
			b.WriteString("  ")
			b.WriteString(padLeft(cell, widths[i]))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatValues(values []any) []string {
	cells := make([]string, len(values))
	for i, value := range values {
		cells[i] = formatValue(value)
	}
	return cells
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "None"
	case []byte:
		return string(typed)
	case string:
		if typed == "" {
			return "None"
		}
		return typed
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format("2006-01-02T15:04:05")
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

func padLeft(value string, width int) string {
	if n := utf8.RuneCountInString(value); n < width {
		return strings.Repeat(" ", width-n) + value
	}
	return value
}

func padRight(value string, width int) string {
	if n := utf8.RuneCountInString(value); n < width {
		return value + strings.Repeat(" ", width-n)
	}
	return value
}
