package policy

import (
	"strings"
	"unicode"
)

// Normalize lowercases a term and collapses surrounding whitespace so list
// entries and message tokens compare consistently.
func Normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Tokenize splits text into lowercase word tokens. Punctuation separates
// tokens; apostrophes inside a word are kept so contractions survive as a
// single token.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// WordList is a compiled custom word list. Single words are matched per
// token; multi-word entries are matched as consecutive token runs, so
// "badwording" never matches "badword" and "kill yourselves" never matches
// "kill yourself".
type WordList struct {
	words   map[string]string
	phrases [][]string
}

// CompileWordList builds a matcher from raw list entries. Empty entries are
// dropped; duplicates collapse.
func CompileWordList(terms []string) *WordList {
	l := &WordList{words: make(map[string]string)}
	for _, term := range terms {
		norm := Normalize(term)
		if norm == "" {
			continue
		}
		parts := strings.Fields(norm)
		if len(parts) == 1 {
			l.words[parts[0]] = norm
		} else {
			l.phrases = append(l.phrases, parts)
		}
	}
	return l
}

// Empty reports whether the list has no entries.
func (l *WordList) Empty() bool {
	return len(l.words) == 0 && len(l.phrases) == 0
}

// Match scans tokens for the first list hit and returns the matching list
// entry. Single words win over phrases starting at a later position.
func (l *WordList) Match(tokens []string) (string, bool) {
	for i, tok := range tokens {
		if term, ok := l.words[tok]; ok {
			return term, true
		}
		for _, phrase := range l.phrases {
			if matchesAt(tokens, i, phrase) {
				return strings.Join(phrase, " "), true
			}
		}
	}
	return "", false
}

func matchesAt(tokens []string, start int, phrase []string) bool {
	if start+len(phrase) > len(tokens) {
		return false
	}
	for j, word := range phrase {
		if tokens[start+j] != word {
			return false
		}
	}
	return true
}
