package courses

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultSimilarity is the sequence-matcher ratio over characters, the same
// measure the interactive course picker has always used.
func DefaultSimilarity(a, b string) float64 {
	matcher := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return matcher.Ratio()
}
