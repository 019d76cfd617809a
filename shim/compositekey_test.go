// Copyright the Hyperledger Fabric contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeKeyRoundTrip(t *testing.T) {
	key, err := createCompositeKey("marble", []string{"blue", "large"})
	require.NoError(t, err)
	assert.True(t, len(key) > 0)
	assert.Equal(t, byte(0x00), key[0])

	objType, attrs, err := splitCompositeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "marble", objType)
	assert.Equal(t, []string{"blue", "large"}, attrs)
}

func TestCompositeKeyNoAttributes(t *testing.T) {
	key, err := createCompositeKey("marble", nil)
	require.NoError(t, err)

	objType, attrs, err := splitCompositeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "marble", objType)
	assert.Empty(t, attrs)
}

func TestCompositeKeyRejectsNullByte(t *testing.T) {
	_, err := createCompositeKey("mar\x00ble", nil)
	assert.Error(t, err)
}

func TestSplitCompositeKeyRejectsMissingNamespace(t *testing.T) {
	_, _, err := splitCompositeKey("not-a-composite-key")
	assert.Error(t, err)
}
