// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package dsl

import (
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Parse turns raw agent file text into an ordered block list. A line whose
// first column is '#' opens a block header:
//
//	#kind key=value key2="quoted value" -> output_var
//
// Body lines run to the next header. Lines starting with // are comments.
// All syntax errors in the file are collected and returned together.
func Parse(src string) ([]*Block, error) {
	lines := strings.Split(src, "\n")

	var (
		blocks []*Block
		errs   ParseErrors
		cur    *Block
		body   []string
	)

	flush := func(endLine int) {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimRight(strings.Join(body, "\n"), "\n")
		cur.EndLine = endLine
		blocks = append(blocks, cur)
		cur = nil
		body = nil
	}

	for i, raw := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(raw, "#"):
			flush(lineNo - 1)
			b, err := parseHeader(raw, lineNo)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cur = b
		case strings.HasPrefix(trimmed, "//"):
			// comment
		case cur != nil:
			body = append(body, raw)
		case trimmed != "":
			errs = append(errs, &ParseError{StartLine: lineNo, EndLine: lineNo,
				Msg: "content outside any block: " + truncateForError(trimmed)})
		}
	}
	flush(len(lines))

	if len(errs) > 0 {
		return nil, errs
	}
	return blocks, nil
}

func parseHeader(line string, lineNo int) (*Block, *ParseError) {
	rest := strings.TrimPrefix(line, "#")
	tokens, err := tokenize(rest)
	if err != nil {
		return nil, &ParseError{StartLine: lineNo, EndLine: lineNo, Msg: err.Error()}
	}
	if len(tokens) == 0 {
		return nil, &ParseError{StartLine: lineNo, EndLine: lineNo, Msg: "empty block header"}
	}

	kind := BlockKind(tokens[0])
	if !knownKinds[kind] {
		return nil, &ParseError{StartLine: lineNo, EndLine: lineNo,
			Msg: "unknown block kind: " + tokens[0]}
	}

	b := &Block{Kind: kind, Params: map[string]interface{}{}, StartLine: lineNo, EndLine: lineNo}

	i := 1
	for i < len(tokens) {
		tok := tokens[i]
		if tok == "->" {
			if i != len(tokens)-2 {
				return nil, &ParseError{StartLine: lineNo, EndLine: lineNo,
					Msg: "'->' must be followed by exactly one output variable name"}
			}
			name := tokens[i+1]
			if !validVarName(name) {
				return nil, &ParseError{StartLine: lineNo, EndLine: lineNo,
					Msg: "invalid output variable name: " + name}
			}
			b.Output = name
			return b, nil
		}

		key, value, found := strings.Cut(tok, "=")
		if !found || key == "" {
			return nil, &ParseError{StartLine: lineNo, EndLine: lineNo,
				Msg: "expected key=value, got: " + truncateForError(tok)}
		}
		b.Params[key] = scalarValue(value)
		i++
	}
	return b, nil
}

// tokenize splits a header on whitespace, keeping double-quoted spans
// (including around '=') intact and unescaping \" and \\.
func tokenize(s string) ([]string, error) {
	var (
		tokens   []string
		sb       strings.Builder
		inQuote  bool
		hasToken bool
	)
	flush := func() {
		if hasToken {
			tokens = append(tokens, sb.String())
			sb.Reset()
			hasToken = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\'):
			sb.WriteByte(s[i+1])
			i++
		case c == '"':
			inQuote = !inQuote
			hasToken = true
		case !inQuote && unicode.IsSpace(rune(c)):
			flush()
		default:
			sb.WriteByte(c)
			hasToken = true
		}
	}
	if inQuote {
		return nil, errUnterminatedQuote
	}
	flush()
	return tokens, nil
}

var errUnterminatedQuote = &headerError{"unterminated quoted value"}

type headerError struct{ msg string }

func (e *headerError) Error() string { return e.msg }

// scalarValue parses a parameter value as a YAML scalar so numbers and
// booleans keep their type; anything unparseable stays a string.
func scalarValue(raw string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case string, bool, int, int64, float64, nil:
		if v == nil {
			return raw
		}
		return v
	default:
		return raw
	}
}

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '.':
		case unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}

func truncateForError(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
