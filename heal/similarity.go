// Package heal resolves previously observed UI elements against newer
// screen snapshots. When an element id from an earlier UIMap no longer
// exists, the resolver scores every element of the current map against a
// portable signature captured at observation time and either heals the
// reference to the best candidate or reports it gone.
//
// Everything here is a pure computation over in-memory values: no I/O, no
// blocking, no shared state beyond the resolver configuration, which is
// snapshot-read at the start of every call.
package heal

import "strings"

// TextSimilarity scores two strings in [0,1]. Both strings are trimmed and
// case-folded first. Two empty strings are trivially equal (1); exactly one
// empty string is a total mismatch (0). Otherwise the score is
// 1 − levenshtein/maxLen. Symmetric in its arguments.
func TextSimilarity(a, b string) float64 {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))

	if na == "" && nb == "" {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	ra, rb := []rune(na), []rune(nb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	score := 1 - float64(levenshtein(ra, rb))/float64(maxLen)
	// The max-length normalisation already bounds the result; the clamp
	// only guards against float error.
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// levenshtein computes edit distance with unit costs for substitution,
// insertion, and deletion. Two-row rolling buffer, O(len(a)·len(b)) time.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
