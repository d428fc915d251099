package ranges

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ParseError reports a malformed token in a range expression.
type ParseError struct {
	Token  string
	Reason string
}

// Error formats the offending token for user-facing output.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid range %q: %s", e.Token, e.Reason)
}

// openEnd marks an interval whose upper bound resolves against the catalog length.
const openEnd = -1

// interval is a half-open [start, end) slice of sequence numbers.
type interval struct {
	start int
	end   int
}

// Selection is a parsed range expression, not yet bound to a catalog length.
type Selection struct {
	intervals []interval
	all       bool
}

// tokenPat matches one trimmed comma-separated token: digits, optionally a
// colon and digits. Whitespace is tolerated around the colon only; a blank
// inside a digit run does not join the runs into one number.
var tokenPat = regexp.MustCompile(`^(\d*)(?:[ \t]*(:)[ \t]*(\d*))?$`)

// Parse converts a range expression into a Selection.
//
// Each comma-separated token is either a bare number n (selects n only) or a
// slice a:b selecting [a, b) with either side optional. An empty expression
// selects the whole catalog.
func Parse(expr string) (Selection, error) {
	if strings.TrimSpace(expr) == "" {
		return Selection{all: true}, nil
	}

	var sel Selection
	for _, token := range strings.Split(expr, ",") {
		trimmed := strings.TrimSpace(token)
		m := tokenPat.FindStringSubmatch(trimmed)
		if m == nil {
			return Selection{}, &ParseError{Token: trimmed, Reason: "not a number or slice"}
		}

		left, colon, right := m[1], m[2], m[3]
		if colon == "" {
			if left == "" {
				return Selection{}, &ParseError{Token: trimmed, Reason: "empty token"}
			}
			n, err := strconv.Atoi(left)
			if err != nil {
				return Selection{}, &ParseError{Token: trimmed, Reason: "not a number"}
			}
			sel.intervals = append(sel.intervals, interval{start: n, end: n + 1})
			continue
		}

		start := 0
		if left != "" {
			n, err := strconv.Atoi(left)
			if err != nil {
				return Selection{}, &ParseError{Token: trimmed, Reason: "bad lower bound"}
			}
			start = n
		}

		end := openEnd
		if right != "" {
			n, err := strconv.Atoi(right)
			if err != nil {
				return Selection{}, &ParseError{Token: trimmed, Reason: "bad upper bound"}
			}
			if start >= n {
				return Selection{}, &ParseError{Token: trimmed, Reason: "start not below end"}
			}
			end = n
		}
		sel.intervals = append(sel.intervals, interval{start: start, end: end})
	}

	return sel, nil
}

// IsAll reports whether the expression was empty, selecting the whole catalog.
func (s Selection) IsAll() bool {
	return s.all
}

// Resolve binds the selection to a catalog of total lectures and returns the
// selected sequence numbers sorted ascending without duplicates. Out-of-range
// bounds are clipped, never an error.
func (s Selection) Resolve(total int) []int {
	if total <= 0 {
		return nil
	}
	if s.all {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	picked := make(map[int]struct{})
	for _, iv := range s.intervals {
		start := iv.start
		if start < 1 {
			start = 1
		}
		end := iv.end
		if end == openEnd || end > total+1 {
			end = total + 1
		}
		for n := start; n < end; n++ {
			picked[n] = struct{}{}
		}
	}

	out := make([]int, 0, len(picked))
	for n := range picked {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
