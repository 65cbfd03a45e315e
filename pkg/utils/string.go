package utils

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
)

// Truncate is a simple string truncate
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "could": {}, "does": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "more": {}, "much": {}, "only": {},
	"other": {}, "over": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "very": {}, "want": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"with": {}, "would": {}, "your": {}, "you're": {}, "it's": {},
}

// Terms lowercases text and splits it into words of at least four letters
// or digits, dropping common stopwords. Order of first appearance is kept
// and duplicates are preserved.
func Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-' && r != '_'
	})

	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'-_")
		if len([]rune(w)) < 4 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TopTerms returns the n most frequent terms across texts. Ties keep the
// order of first appearance. n <= 0 returns every distinct term.
func TopTerms(n int, texts ...string) []string {
	type counted struct {
		term  string
		count int
		first int
	}

	index := map[string]*counted{}
	var all []*counted
	for _, text := range texts {
		for _, t := range Terms(text) {
			c, ok := index[t]
			if !ok {
				c = &counted{term: t, first: len(all)}
				index[t] = c
				all = append(all, c)
			}
			c.count++
		}
	}

	slices.SortStableFunc(all, func(a, b *counted) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.first, b.first)
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}

	out := make([]string, len(all))
	for i, c := range all {
		out[i] = c.term
	}
	return out
}

// TermSet returns the distinct terms of text.
func TermSet(text string) map[string]struct{} {
	terms := Terms(text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// Overlap returns the share of query terms present in doc, in [0,1].
func Overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
