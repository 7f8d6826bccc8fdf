// Package query holds the SQL text helpers used when a chart query moves
// between dialects: identifier quoting translation, placeholder
// renumbering, table extraction for cache dependencies, and identifier
// validation.
package query

import "strings"

type tokenType int

const (
	tokSpace        tokenType = iota
	tokWord                   // bare identifier, keyword, or number
	tokBacktick               // `ident`
	tokDoubleQuoted           // "ident"
	tokString                 // 'literal'
	tokComment                // -- line or /* block */
	tokPlaceholder            // ?
	tokPunct                  // any other single character
)

type token struct {
	typ   tokenType
	value string // original text, quotes included
	pos   int    // byte offset in the input
}

// ident returns the identifier a word or quoted token names. Bare words
// fold to lower case the way PostgreSQL folds them.
func (t token) ident() string {
	switch t.typ {
	case tokWord:
		return strings.ToLower(t.value)
	case tokBacktick:
		return unquote(t.value, '`')
	case tokDoubleQuoted:
		return unquote(t.value, '"')
	}
	return ""
}

func (t token) isIdent() bool {
	return t.typ == tokWord || t.typ == tokBacktick || t.typ == tokDoubleQuoted
}

func (t token) is(word string) bool {
	return t.typ == tokWord && strings.EqualFold(t.value, word)
}

func unquote(s string, q byte) string {
	if len(s) >= 2 && s[0] == q && s[len(s)-1] == q {
		s = s[1 : len(s)-1]
	} else if len(s) >= 1 && s[0] == q {
		s = s[1:] // unterminated
	}
	return strings.ReplaceAll(s, string([]byte{q, q}), string(q))
}

// tokenize splits SQL into tokens whose values concatenate back to the
// input exactly. It never fails: an unterminated literal or comment runs
// to the end of the input.
func tokenize(input string) []token {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		start := i
		ch := input[i]

		switch {
		case isSpace(ch):
			for i < n && isSpace(input[i]) {
				i++
			}
			tokens = append(tokens, token{typ: tokSpace, value: input[start:i], pos: start})

		case ch == '-' && i+1 < n && input[i+1] == '-':
			for i < n && input[i] != '\n' {
				i++
			}
			tokens = append(tokens, token{typ: tokComment, value: input[start:i], pos: start})

		case ch == '/' && i+1 < n && input[i+1] == '*':
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += 2 + end + 2
			}
			tokens = append(tokens, token{typ: tokComment, value: input[start:i], pos: start})

		case ch == '\'':
			i = scanQuoted(input, i, '\'', true)
			tokens = append(tokens, token{typ: tokString, value: input[start:i], pos: start})

		case ch == '`':
			i = scanQuoted(input, i, '`', false)
			tokens = append(tokens, token{typ: tokBacktick, value: input[start:i], pos: start})

		case ch == '"':
			i = scanQuoted(input, i, '"', false)
			tokens = append(tokens, token{typ: tokDoubleQuoted, value: input[start:i], pos: start})

		case ch == '?':
			i++
			tokens = append(tokens, token{typ: tokPlaceholder, value: "?", pos: start})

		case isWordByte(ch):
			for i < n && isWordByte(input[i]) {
				i++
			}
			tokens = append(tokens, token{typ: tokWord, value: input[start:i], pos: start})

		default:
			i++
			tokens = append(tokens, token{typ: tokPunct, value: input[start:i], pos: start})
		}
	}
	return tokens
}

// scanQuoted returns the offset just past the quoted run starting at i.
// A doubled quote is an escaped quote. Backslash escapes apply to string
// literals only, matching MySQL's default mode.
func scanQuoted(input string, i int, q byte, backslash bool) int {
	n := len(input)
	i++ // opening quote
	for i < n {
		switch input[i] {
		case '\\':
			if backslash {
				i += 2
				continue
			}
		case q:
			if i+1 < n && input[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return n
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isWordByte(ch byte) bool {
	return ch == '_' || ch == '$' || ch >= 0x80 ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func join(tokens []token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.value)
	}
	return sb.String()
}
