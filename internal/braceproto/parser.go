// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package braceproto decodes the brace-delimited key/value text format
// used by entity-state producers: a sequence of `{KEY}{VALUE}` pairs,
// with VALUE blocks allowed to nest braces.
//
// The grammar is strict about framing (missing braces are fatal) but
// lenient about an empty key, which is skipped rather than aborting
// the whole payload - producers occasionally emit one under load.
package braceproto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValueKind tags which variant of Value is populated.
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueFloat
	ValueText
)

// Value is a tagged union over the three field value kinds the format
// can produce: integer, floating point, or text.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
}

func IntValue(v int64) Value   { return Value{Kind: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: ValueFloat, Float: v} }
func TextValue(v string) Value { return Value{Kind: ValueText, Text: v} }

// String renders the value the way it would appear in a log line.
func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Text
	}
}

// MarshalJSON emits the value as a bare JSON number or string per its
// kind, matching the wire encoding in spec.md §6.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueInt:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case ValueFloat:
		return []byte(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
	default:
		return strconv.AppendQuote(nil, v.Text), nil
	}
}

// Fields is the decoded key/value mapping for one entity payload.
type Fields map[string]Value

// Clone returns a shallow copy safe to hand to another goroutine.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ParseErrorKind identifies which framing rule was violated. Only
// framing failures are fatal - see package doc.
type ParseErrorKind int

const (
	ErrExpectedKeyOpenBrace ParseErrorKind = iota
	ErrMissingKeyCloseBrace
	ErrUnexpectedEndAfterKey
	ErrExpectedValueOpenBrace
	ErrMissingValueCloseBrace
	ErrInvalidUTF8
)

// ParseError is returned for any fatal framing violation. No partial
// result is returned alongside it.
type ParseError struct {
	Kind  ParseErrorKind
	Index int
	Key   string
	Found byte
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrExpectedKeyOpenBrace:
		return fmt.Sprintf("expected '{' at index %d, found %q", e.Index, string(rune(e.Found)))
	case ErrMissingKeyCloseBrace:
		return fmt.Sprintf("missing closing '}' for key starting at brace %d", e.Index)
	case ErrUnexpectedEndAfterKey:
		return fmt.Sprintf("input ended prematurely after key %q", e.Key)
	case ErrExpectedValueOpenBrace:
		return fmt.Sprintf("expected '{' for value of key %q at index %d, found %q", e.Key, e.Index, string(rune(e.Found)))
	case ErrMissingValueCloseBrace:
		return fmt.Sprintf("missing matching '}' for value block of key %q starting at %d", e.Key, e.Index)
	case ErrInvalidUTF8:
		return fmt.Sprintf("invalid UTF-8 at index %d", e.Index)
	default:
		return "unknown parse error"
	}
}

// Parse decodes a brace-delimited payload into a field map. A fatal
// framing error returns (nil, err) with no partial result. A
// non-fatal issue (an empty key that could not be reliably skipped)
// stops parsing early but still returns everything found so far
// alongside a warning message.
func Parse(input string) (Fields, string, error) {
	text := strings.TrimSpace(input)
	data := make(Fields)
	if text == "" {
		return data, "", nil
	}

	b := []byte(text)
	n := len(b)
	i := 0
	var warning string

	for i < n {
		for i < n && isASCIISpace(b[i]) {
			i++
		}
		if i >= n {
			break
		}

		if b[i] != '{' {
			return nil, "", &ParseError{Kind: ErrExpectedKeyOpenBrace, Index: i, Found: b[i]}
		}
		keyStart := i
		keyEnd := i + 1
		for keyEnd < n && b[keyEnd] != '}' {
			keyEnd++
		}
		if keyEnd >= n {
			return nil, "", &ParseError{Kind: ErrMissingKeyCloseBrace, Index: keyStart}
		}

		keySlice := b[keyStart+1 : keyEnd]
		if !utf8.Valid(keySlice) {
			return nil, "", &ParseError{Kind: ErrInvalidUTF8, Index: keyStart + 1}
		}
		key := strings.TrimSpace(string(keySlice))

		if key == "" {
			// Lenient: try to skip the value block that follows an
			// empty key and keep going with the pair after it.
			j := keyEnd + 1
			for j < n && isASCIISpace(b[j]) {
				j++
			}
			if j >= n || b[j] != '{' {
				warning = "empty key with no following value block to skip"
				break
			}
			level := 1
			k := j + 1
			skipped := false
			for k < n {
				switch b[k] {
				case '{':
					level++
				case '}':
					level--
					if level == 0 {
						i = k + 1
						skipped = true
					}
				}
				if skipped {
					break
				}
				k++
			}
			if !skipped {
				warning = "could not find matching brace to skip value after empty key"
				break
			}
			continue
		}

		i = keyEnd + 1
		for i < n && isASCIISpace(b[i]) {
			i++
		}
		if i >= n {
			return nil, "", &ParseError{Kind: ErrUnexpectedEndAfterKey, Key: key}
		}
		if b[i] != '{' {
			return nil, "", &ParseError{Kind: ErrExpectedValueOpenBrace, Key: key, Index: i, Found: b[i]}
		}

		valueStart := i
		level := 1
		j := valueStart + 1
		found := false
		for j < n {
			switch b[j] {
			case '{':
				level++
			case '}':
				level--
				if level == 0 {
					raw := b[valueStart : j+1]
					if !utf8.Valid(raw) {
						return nil, "", &ParseError{Kind: ErrInvalidUTF8, Index: valueStart}
					}
					data[key] = parseFinalValue(string(raw))
					i = j + 1
					found = true
				}
			}
			if found {
				break
			}
			j++
		}
		if !found {
			return nil, "", &ParseError{Kind: ErrMissingValueCloseBrace, Key: key, Index: valueStart}
		}
	}

	return data, warning, nil
}

func isASCIISpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// parseFinalValue interprets the trimmed, brace-stripped content of a
// value block per the rules in spec.md §4.1.
func parseFinalValue(raw string) Value {
	v := strings.TrimSpace(raw)
	var inner string
	if len(v) >= 2 && strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
		inner = strings.TrimSpace(v[1 : len(v)-1])
	} else {
		inner = v
	}

	if inner == "" {
		return TextValue("")
	}

	stripped := strings.ReplaceAll(inner, ",", "")
	if i, err := strconv.ParseInt(stripped, 10, 64); err == nil {
		return IntValue(i)
	}
	if f, err := strconv.ParseFloat(stripped, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return IntValue(0)
		}
		return FloatValue(f)
	}
	return TextValue(inner)
}
