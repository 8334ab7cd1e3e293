// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package braceproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWellFormed(t *testing.T) {
	fields, warning, err := Parse("{CHARACTER_NAME}{Alice}{HP}{100}")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, TextValue("Alice"), fields["CHARACTER_NAME"])
	assert.Equal(t, IntValue(100), fields["HP"])
}

func TestParseArbitraryWhitespaceBetweenPairs(t *testing.T) {
	fields, _, err := Parse("  {CHARACTER_NAME} \t{Alice}\n\n{HP}  {100}  ")
	require.NoError(t, err)
	assert.Equal(t, TextValue("Alice"), fields["CHARACTER_NAME"])
	assert.Equal(t, IntValue(100), fields["HP"])
}

func TestParseIntegerWithCommasRoundTrips(t *testing.T) {
	fields, _, err := Parse("{GOLD}{1,234,567}")
	require.NoError(t, err)
	assert.Equal(t, IntValue(1234567), fields["GOLD"])
}

func TestParseFloatValue(t *testing.T) {
	fields, _, err := Parse("{SPEED}{3.5}")
	require.NoError(t, err)
	assert.Equal(t, FloatValue(3.5), fields["SPEED"])
}

func TestParseNonFiniteFloatNormalizesToZero(t *testing.T) {
	fields, _, err := Parse("{SPEED}{NaN}")
	require.NoError(t, err)
	assert.Equal(t, IntValue(0), fields["SPEED"])
}

func TestParseTextFallback(t *testing.T) {
	fields, _, err := Parse("{ZONE}{forest-01}")
	require.NoError(t, err)
	assert.Equal(t, TextValue("forest-01"), fields["ZONE"])
}

func TestParseEmptyValueYieldsEmptyText(t *testing.T) {
	fields, _, err := Parse("{NOTE}{}")
	require.NoError(t, err)
	assert.Equal(t, TextValue(""), fields["NOTE"])
}

func TestParseNestedBraceValue(t *testing.T) {
	fields, _, err := Parse("{BLOB}{ { a } }")
	require.NoError(t, err)
	assert.Equal(t, TextValue("{ a }"), fields["BLOB"])
}

func TestParseEmptyInput(t *testing.T) {
	fields, warning, err := Parse("   ")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Empty(t, fields)
}

func TestParseTruncatedInsideValueFails(t *testing.T) {
	_, _, err := Parse("{CHARACTER_NAME}{Alice")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrMissingValueCloseBrace, pe.Kind)
}

func TestParseMissingKeyCloseBrace(t *testing.T) {
	_, _, err := Parse("{CHARACTER_NAME")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrMissingKeyCloseBrace, pe.Kind)
}

func TestParseExpectedKeyOpenBrace(t *testing.T) {
	_, _, err := Parse("CHARACTER_NAME}{Alice}")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrExpectedKeyOpenBrace, pe.Kind)
}

func TestParseUnexpectedEndAfterKey(t *testing.T) {
	_, _, err := Parse("{CHARACTER_NAME}")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrUnexpectedEndAfterKey, pe.Kind)
}

func TestParseEmptyKeySkipsFollowingValue(t *testing.T) {
	fields, warning, err := Parse("{}{skipped}{HP}{100}")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, IntValue(100), fields["HP"])
	assert.NotContains(t, fields, "")
}

func TestParseEmptyKeyWithUnmatchedValueStopsWithWarning(t *testing.T) {
	fields, warning, err := Parse("{HP}{100}{  }{unterminated")
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, IntValue(100), fields["HP"])
}
