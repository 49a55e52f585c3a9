package topology

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

// SearchMode selects how the query is compared against each line.
type SearchMode string

const (
	SearchSubstring SearchMode = "substring" // case-insensitive
	SearchRegex     SearchMode = "regex"
)

// LineMatch is one matched line of a raw search.
type LineMatch struct {
	Number int    `json:"number"` // 1-based
	Text   string `json:"text"`
}

// SearchLines scans content line by line and returns every line the
// query matches, each expanded by the context window. Lines inside an
// already emitted window are not emitted again.
func SearchLines(content, query string, mode SearchMode, window int) ([]LineMatch, error) {
	matcher, err := compileMatcher(query, mode)
	if err != nil {
		return nil, err
	}
	if window < 0 {
		window = 0
	}

	lines := strings.Split(content, "\n")
	visited := map[int]bool{}
	var matches []LineMatch
	for i, line := range lines {
		if !matcher(line) {
			continue
		}
		lo, hi := clampWindow(i, window, len(lines))
		for j := lo; j <= hi; j++ {
			if visited[j] {
				continue
			}
			visited[j] = true
			matches = append(matches, LineMatch{Number: j + 1, Text: lines[j]})
		}
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Number < matches[b].Number })
	return matches, nil
}

// RawResults formats matches the way the terse device view renders
// them, one "L<number>: <text>" entry per line.
func RawResults(matches []LineMatch) []string {
	results := make([]string, len(matches))
	for i, m := range matches {
		results[i] = fmt.Sprintf("L%d: %s", m.Number, m.Text)
	}
	return results
}

// SearchBlocks returns HTML blocks, one per contiguous run of matched
// context lines, with the query occurrences wrapped in <mark> tags.
// Overlapping or adjacent windows from multiple matches merge into a
// single block.
func SearchBlocks(content, query string, mode SearchMode, window int) ([]string, error) {
	matches, err := SearchLines(content, query, mode, window)
	if err != nil {
		return nil, err
	}
	highlighter, err := compileHighlighter(query, mode)
	if err != nil {
		return nil, err
	}

	var blocks []string
	var current []string
	last := -2
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "<br>"))
			current = nil
		}
	}
	for _, m := range matches {
		if m.Number != last+1 {
			flush()
		}
		current = append(current, highlighter(m.Text))
		last = m.Number
	}
	flush()
	return blocks, nil
}

func compileMatcher(query string, mode SearchMode) (func(string) bool, error) {
	if mode == SearchRegex {
		re, err := regexp.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("invalid search pattern: %w", err)
		}
		return re.MatchString, nil
	}
	lowered := strings.ToLower(query)
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), lowered)
	}, nil
}

func compileHighlighter(query string, mode SearchMode) (func(string) string, error) {
	var re *regexp.Regexp
	var err error
	if mode == SearchRegex {
		re, err = regexp.Compile(query)
	} else {
		re, err = regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}
	return func(line string) string {
		escaped := html.EscapeString(line)
		return re.ReplaceAllStringFunc(escaped, func(hit string) string {
			return "<mark>" + hit + "</mark>"
		})
	}, nil
}

func clampWindow(center, window, length int) (int, int) {
	lo := center - window
	if lo < 0 {
		lo = 0
	}
	hi := center + window
	if hi > length-1 {
		hi = length - 1
	}
	return lo, hi
}
