package storage

import (
	"strings"
	"unicode"
)

// Tokenize derives extra lexical terms from identifiers in text. The FTS
// unicode61 tokenizer splits on punctuation but not on case boundaries, so
// getUserID never matches a query for "user" without this pass. The result
// is a space-joined string for the tokens column: split parts of every
// compound identifier, plus the lowercased compound itself when
// keepCompound is set.
func Tokenize(text string, keepCompound bool) string {
	seen := make(map[string]struct{})
	var out []string

	add := func(tok string) {
		if len(tok) < 2 {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, word := range splitWords(text) {
		parts := splitIdentifier(word)
		if len(parts) < 2 {
			continue
		}
		for _, p := range parts {
			add(strings.ToLower(p))
		}
		if keepCompound {
			add(strings.ToLower(word))
		}
	}
	return strings.Join(out, " ")
}

// splitWords breaks text on everything that is not a letter, digit, or
// underscore, keeping identifiers whole.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// splitIdentifier breaks one identifier on underscores and case
// boundaries. Acronym runs stay together: parseHTTPResponse yields
// [parse, HTTP, Response].
func splitIdentifier(word string) []string {
	var parts []string
	runes := []rune(word)
	start := 0

	flush := func(end int) {
		if end > start {
			parts = append(parts, string(runes[start:end]))
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '_' {
			flush(i)
			start = i + 1
			continue
		}
		if i == 0 {
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			// camelCase boundary: getUser -> get|User
			flush(i)
		case unicode.IsUpper(prev) && unicode.IsLower(r) && i-1 > start:
			// acronym end: HTTPServer -> HTTP|Server
			flush(i - 1)
		case unicode.IsDigit(r) && unicode.IsLetter(prev):
			flush(i)
		case unicode.IsLetter(r) && unicode.IsDigit(prev):
			flush(i)
		}
	}
	flush(len(runes))
	return parts
}
