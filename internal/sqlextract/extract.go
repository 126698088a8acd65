package sqlextract

import (
	"regexp"
	"strings"
)

// Candidate is a statement that passed the SELECT-only shape gate. It has not
// been checked against the schema.
type Candidate struct {
	Statement string
	// Matcher names the matcher that produced the statement.
	Matcher string
}

type matcher struct {
	name  string
	match func(text string) (string, bool)
}

const fence = "```"

var (
	fencedPattern = regexp.MustCompile("(?is)" + fence + `(?:sql)?[ \t]*\r?\n\s*(SELECT\b.*?)\s*` + fence)
	labelPattern  = regexp.MustCompile(`(?is)SQL:\s*(SELECT\b.*?)(?:;|$|\n` + fence + `)`)
	barePattern   = regexp.MustCompile(`(?is)\b(SELECT\s+.*?)(?:;|$)`)
)

// matchers are tried in order; the first one that matches decides the outcome.
var matchers = []matcher{
	{name: "fenced", match: submatch(fencedPattern)},
	{name: "label", match: submatch(labelPattern)},
	{name: "bare", match: submatch(barePattern)},
}

func submatch(pattern *regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		groups := pattern.FindStringSubmatch(text)
		if len(groups) < 2 {
			return "", false
		}
		return groups[1], true
	}
}

// Extract pulls a single SELECT statement out of free-form model output. It
// returns false when no matcher fires or when the matched text fails the gate;
// a failed gate never falls through to a later matcher.
func Extract(modelOutput string) (Candidate, bool) {
	for _, m := range matchers {
		raw, ok := m.match(modelOutput)
		if !ok {
			continue
		}
		statement, ok := clean(raw)
		if !ok {
			return Candidate{}, false
		}
		return Candidate{Statement: statement, Matcher: m.name}, true
	}
	return Candidate{}, false
}

func clean(raw string) (string, bool) {
	statement := strings.TrimSpace(raw)
	statement = strings.TrimSpace(strings.ReplaceAll(statement, fence, ""))
	for strings.HasSuffix(statement, ";") {
		statement = strings.TrimSpace(strings.TrimSuffix(statement, ";"))
	}
	if !hasSelectPrefix(statement) {
		return "", false
	}
	// A remaining semicolon means a second statement rode along.
	if strings.Contains(statement, ";") {
		return "", false
	}
	return statement + ";", true
}

func hasSelectPrefix(statement string) bool {
	const keyword = "SELECT"
	if len(statement) < len(keyword) {
		return false
	}
	return strings.EqualFold(statement[:len(keyword)], keyword)
}
