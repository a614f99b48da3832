/*
 * tlibcore - Debug options configuration tests.
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

package debugconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openhw-tlib/tlibcore/config/configparser"
	"github.com/openhw-tlib/tlibcore/util/debug"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tlibcore.cfg")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDebugDirectiveSetsRegisteredMask(t *testing.T) {
	debug.RegisterMasks("TB", map[string]int{"BLOCKS": 1, "CHAINING": 2})
	defer debug.ClearMasks()

	path := writeConfig(t, "debug tb blocks,chaining\n")
	require.NoError(t, configparser.LoadConfigFile(path))

	require.True(t, debug.Enabled("TB", 1))
	require.True(t, debug.Enabled("TB", 2))
}

func TestDebugDirectiveUnknownComponentErrors(t *testing.T) {
	path := writeConfig(t, "debug nosuchcomponent blocks\n")
	require.Error(t, configparser.LoadConfigFile(path))
}

func TestDebugDirectiveUnknownMaskErrors(t *testing.T) {
	debug.RegisterMasks("TB", map[string]int{"BLOCKS": 1})
	defer debug.ClearMasks()

	path := writeConfig(t, "debug tb nosuchmask\n")
	require.Error(t, configparser.LoadConfigFile(path))
}
