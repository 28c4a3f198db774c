// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"strings"

	"github.com/samber/lo"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"for": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"with": {}, "about": {}, "into": {}, "from": {}, "by": {},
	"i": {}, "me": {}, "my": {}, "we": {}, "our": {}, "you": {},
	"it": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "been": {}, "do": {},
	"does": {}, "can": {}, "could": {}, "would": {}, "will": {},
	"want": {}, "need": {}, "please": {}, "some": {}, "using": {},
}

// Tokenize lowercases the text, splits on non-alphanumeric runes, and drops
// stop-words. The result keeps first-occurrence order and is deduped, so the
// same text always yields the same term list.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlnum(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return lo.Uniq(terms)
}

// normalizeTag rewrites a scope tag's separators to spaces so it can be
// phrase-matched against normalized intent text.
func normalizeTag(tag string) string {
	return strings.Join(tagTokens(tag), " ")
}

func tagTokens(tag string) []string {
	return strings.FieldsFunc(strings.ToLower(tag), func(r rune) bool {
		return !isAlnum(r)
	})
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
