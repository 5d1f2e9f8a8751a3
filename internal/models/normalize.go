package models

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize derives the correlation value of a raw entity value: NFKC,
// trimmed, internal whitespace collapsed to single spaces and case-folded.
// An all-whitespace input yields "".
func Normalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	// Casers are stateful; one per call keeps Normalize safe for concurrent use.
	return cases.Fold().String(s)
}
