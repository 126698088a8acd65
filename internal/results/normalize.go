package results

import (
	"math"
	"strconv"
	"strings"
)

const emptyFrameBanner = "Empty DataFrame"

var nullTokens = map[string]struct{}{
	"NaN":  {},
	"nan":  {},
	"None": {},
	"NULL": {},
	"null": {},
	"<NA>": {},
	"NaT":  {},
}

// Normalize parses whitespace-aligned tabular text into records. The first
// non-empty line names the columns. Rows that cannot be zipped against the
// header are skipped and counted in Result.Dropped; normalization never fails.
func Normalize(text string) Result {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return Result{Records: []Record{}}
	}
	if strings.TrimSpace(lines[0]) == emptyFrameBanner {
		return Result{Columns: emptyFrameColumns(lines[1:]), Records: []Record{}}
	}

	columns := dedupeColumns(strings.Fields(lines[0]))
	width := len(columns)

	indexed := hasRowIndex(lines[1:], width)
	rows := make([][]string, 0, len(lines)-1)
	dropped := 0
	for _, line := range lines[1:] {
		tokens := strings.Fields(line)
		switch {
		case indexed && len(tokens) == width+1 && isIndexToken(tokens[0]):
			rows = append(rows, tokens[1:])
		case !indexed && len(tokens) == width:
			rows = append(rows, tokens)
		default:
			dropped++
		}
	}

	converters := make([]func(string) any, width)
	for col := range columns {
		converters[col] = inferColumn(rows, col)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		values := make([]any, width)
		for col, token := range row {
			values[col] = converters[col](token)
		}
		records = append(records, Record{Columns: columns, Values: values})
	}
	return Result{Columns: columns, Records: records, Dropped: dropped}
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// emptyFrameColumns reads the "Columns: [a, b]" line that follows the banner.
func emptyFrameColumns(lines []string) []string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "Columns:") {
			continue
		}
		inner := strings.TrimSpace(strings.TrimPrefix(trimmed, "Columns:"))
		inner = strings.TrimSuffix(strings.TrimPrefix(inner, "["), "]")
		if strings.TrimSpace(inner) == "" {
			return nil
		}
		parts := strings.Split(inner, ",")
		columns := make([]string, 0, len(parts))
		for _, part := range parts {
			columns = append(columns, strings.TrimSpace(part))
		}
		return dedupeColumns(columns)
	}
	return nil
}

func dedupeColumns(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		count, ok := seen[name]
		if !ok {
			seen[name] = 1
			out[i] = name
			continue
		}
		candidate := name + "." + strconv.Itoa(count)
		for {
			if _, taken := seen[candidate]; !taken {
				break
			}
			count++
			candidate = name + "." + strconv.Itoa(count)
		}
		seen[name] = count + 1
		seen[candidate] = 1
		out[i] = candidate
	}
	return out
}

// hasRowIndex decides once per frame whether rows carry a leading integer
// index. The first row with a plausible token count decides.
func hasRowIndex(lines []string, width int) bool {
	for _, line := range lines {
		tokens := strings.Fields(line)
		switch {
		case len(tokens) == width:
			return false
		case len(tokens) == width+1:
			return isIndexToken(tokens[0])
		}
	}
	return false
}

func isIndexToken(token string) bool {
	_, err := strconv.ParseInt(token, 10, 64)
	return err == nil
}

func isNullToken(token string) bool {
	_, ok := nullTokens[token]
	return ok
}

// inferColumn picks the narrowest scalar type every non-null cell of the
// column fits: int64, then float64, then string.
func inferColumn(rows [][]string, col int) func(string) any {
	allInt, allFloat := true, true
	for _, row := range rows {
		token := row[col]
		if isNullToken(token) {
			continue
		}
		if allInt {
			if _, err := strconv.ParseInt(token, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			f, err := strconv.ParseFloat(token, 64)
			if err != nil || math.IsInf(f, 0) {
				allFloat = false
			}
		}
		if !allInt && !allFloat {
			break
		}
	}

	switch {
	case allInt:
		return func(token string) any {
			if isNullToken(token) {
				return nil
			}
			v, _ := strconv.ParseInt(token, 10, 64)
			return v
		}
	case allFloat:
		return func(token string) any {
			if isNullToken(token) {
				return nil
			}
			v, _ := strconv.ParseFloat(token, 64)
			return v
		}
	default:
		return func(token string) any {
			if isNullToken(token) {
				return nil
			}
			return token
		}
	}
}
