// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	minUnicodeRuneValue   = 0            // U+0000
	maxUnicodeRuneValue   = utf8.MaxRune // U+10FFFF - maximum (and unallocated) code point
	compositeKeyNamespace = "\x00"
	emptyKeySubstitute    = "\x01"
)

// createCompositeKey encodes objectType and attributes into the single
// opaque key string the peer's range/query state space indexes on:
// \x00 objectType \x00 attr1 \x00 ... attrN \x00. An empty attribute is
// written as emptyKeySubstitute rather than the empty string, so an empty
// attribute never collapses two adjacent \x00 separators into a component
// splitCompositeKey cannot tell apart from a missing one.
func createCompositeKey(objectType string, attributes []string) (string, error) {
	if err := validateCompositeKeyAttribute(objectType); err != nil {
		return "", err
	}
	var ck strings.Builder
	ck.WriteString(compositeKeyNamespace)
	ck.WriteString(objectType)
	ck.WriteByte(minUnicodeRuneValue)
	for _, att := range attributes {
		if err := validateCompositeKeyAttribute(att); err != nil {
			return "", err
		}
		if att == "" {
			att = emptyKeySubstitute
		}
		ck.WriteString(att)
		ck.WriteByte(minUnicodeRuneValue)
	}
	return ck.String(), nil
}

// splitCompositeKey reverses createCompositeKey, undoing the
// emptyKeySubstitute swap on the way out.
func splitCompositeKey(compositeKey string) (string, []string, error) {
	if len(compositeKey) == 0 || compositeKey[0] != compositeKeyNamespace[0] {
		return "", nil, errors.New("invalid composite key - missing namespace prefix")
	}

	componentIndex := 1
	var components []string
	for i := 1; i < len(compositeKey); i++ {
		if compositeKey[i] == minUnicodeRuneValue {
			component := compositeKey[componentIndex:i]
			if component == emptyKeySubstitute {
				component = ""
			}
			components = append(components, component)
			componentIndex = i + 1
		}
	}
	if len(components) < 1 {
		return "", nil, errors.New("invalid composite key - no components found")
	}
	return components[0], components[1:], nil
}

// validateCompositeKeyAttribute rejects attributes containing the namespace
// or separator bytes, which would make the encoding ambiguous to decode.
func validateCompositeKeyAttribute(str string) error {
	if !utf8.ValidString(str) {
		return errors.Errorf("not a valid utf8 string: %q", str)
	}
	for index, runeValue := range str {
		if runeValue == minUnicodeRuneValue || runeValue == maxUnicodeRuneValue {
			return errors.Errorf(
				"input contains unicode %#U starting at position %d, which is not allowed",
				runeValue, index,
			)
		}
	}
	return nil
}
