/*
 * tlibcore - Sequential guest image loader tests.
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

package image

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestAttachDetach(t *testing.T) {
	path := writeImage(t, []byte("hello"))
	var l Loader
	require.False(t, l.Attached())
	require.NoError(t, l.Attach(path))
	require.True(t, l.Attached())
	require.Equal(t, path, l.FileName())
	require.NoError(t, l.Detach())
	require.False(t, l.Attached())
}

func TestReadByteSequential(t *testing.T) {
	path := writeImage(t, []byte{1, 2, 3})
	var l Loader
	require.NoError(t, l.Attach(path))
	defer l.Detach()

	for _, want := range []byte{1, 2, 3} {
		got, err := l.ReadByte()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := l.ReadByte()
	require.ErrorIs(t, err, io.EOF)
	require.True(t, l.AtEOF())
}

func TestReadRecordSpansBufferRefill(t *testing.T) {
	data := make([]byte, bufferSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeImage(t, data)
	var l Loader
	require.NoError(t, l.Attach(path))
	defer l.Detach()

	dest := make([]byte, len(data))
	n, err := l.ReadRecord(dest)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, dest)
}

func TestRewind(t *testing.T) {
	path := writeImage(t, []byte{9, 8, 7})
	var l Loader
	require.NoError(t, l.Attach(path))
	defer l.Detach()

	b, err := l.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(9), b)

	require.NoError(t, l.Rewind())
	require.False(t, l.AtEOF())
	b, err = l.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(9), b)
}

func TestLoadIntoStopsAtEOF(t *testing.T) {
	path := writeImage(t, []byte{1, 2, 3})
	var l Loader
	require.NoError(t, l.Attach(path))
	defer l.Detach()

	ram := make([]byte, 10)
	n, err := l.LoadInto(ram, 2)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, ram[2:5])
	require.Equal(t, []byte{0, 0, 0, 0, 0}, ram[5:])
}

func TestLoadIntoOffsetOutOfRangeErrors(t *testing.T) {
	path := writeImage(t, []byte{1})
	var l Loader
	require.NoError(t, l.Attach(path))
	defer l.Detach()

	_, err := l.LoadInto(make([]byte, 4), 10)
	require.Error(t, err)
}

func TestReadOnUnattachedLoaderErrors(t *testing.T) {
	var l Loader
	_, err := l.ReadByte()
	require.Error(t, err)
	_, err = l.ReadRecord(make([]byte, 1))
	require.Error(t, err)
	require.Error(t, l.Rewind())
	require.Error(t, l.Detach())
}
