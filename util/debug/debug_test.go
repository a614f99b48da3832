/*
 * tlibcore - Debug tracing tests.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package debug

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetMaskUnknownComponent(t *testing.T) {
	err := SetMask("NOSUCH", "ANYTHING")
	require.Error(t, err)
}

func TestSetMaskUnknownName(t *testing.T) {
	RegisterMasks("TRANSLATOR", map[string]int{"DISPATCH": 1})
	defer ClearMasks()

	err := SetMask("translator", "nosuchmask")
	require.Error(t, err)
}

func TestSetMaskAndEnabled(t *testing.T) {
	RegisterMasks("TRANSLATOR", map[string]int{"DISPATCH": 1, "CHAIN": 2})
	defer ClearMasks()

	require.False(t, Enabled("translator", 1))
	require.NoError(t, SetMask("translator", "dispatch"))
	require.True(t, Enabled("translator", 1))
	require.False(t, Enabled("translator", 2))
}

func TestClearMasksResetsActiveOnly(t *testing.T) {
	RegisterMasks("TB", map[string]int{"BLOCKS": 1})
	require.NoError(t, SetMask("tb", "blocks"))
	require.True(t, Enabled("tb", 1))

	ClearMasks()
	require.False(t, Enabled("tb", 1))

	// Registered mask table itself survives ClearMasks.
	require.NoError(t, SetMask("tb", "blocks"))
}
