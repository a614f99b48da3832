/*
 * tlibcore - Sequential guest image loader.
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

// Package image reads a flat guest binary image sequentially, the way
// an embedder seeds a demo or test guest's RAM before the first
// TlibExecute: open, read fixed-size records until EOF, rewind to
// start over.
package image

import (
	"errors"
	"io"
	"os"
)

var errNotAttached = errors.New("image: not attached")

const bufferSize = 32 * 1024

// Loader sequentially reads a flat guest image file through an
// internal buffer, refilling from disk only when the buffer runs dry.
type Loader struct {
	file     *os.File
	position int64 // position of head of buffer in the file
	bufPos   int   // read position within buffer
	bufLen   int   // valid bytes in buffer
	eof      bool  // true once the last readBuffer hit EOF
	buffer   [bufferSize]byte
}

// Attach opens fileName for sequential reading, discarding any
// previous attachment's state.
func (l *Loader) Attach(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	l.file = file
	l.position = 0
	l.bufPos = 0
	l.bufLen = 0
	l.eof = false
	return nil
}

// Detach closes the underlying file.
func (l *Loader) Detach() error {
	if l.file == nil {
		return errNotAttached
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Attached reports whether a file is currently open.
func (l *Loader) Attached() bool {
	return l.file != nil
}

// FileName returns the attached file's name, or "" if not attached.
func (l *Loader) FileName() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// AtEOF reports whether the last read reached end of file.
func (l *Loader) AtEOF() bool {
	return l.eof
}

// Rewind seeks back to the start of the image, clearing EOF.
func (l *Loader) Rewind() error {
	if l.file == nil {
		return errNotAttached
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	l.position = 0
	l.bufPos = 0
	l.bufLen = 0
	l.eof = false
	return nil
}

// readBuffer refills the internal buffer once its contents are
// exhausted, advancing position by the amount just consumed.
func (l *Loader) readBuffer() error {
	if l.bufPos < l.bufLen {
		return nil
	}
	l.position += int64(l.bufLen)
	if _, err := l.file.Seek(l.position, io.SeekStart); err != nil {
		return err
	}
	n, err := l.file.Read(l.buffer[:])
	l.bufLen = n
	l.bufPos = 0
	if errors.Is(err, io.EOF) || n == 0 {
		l.eof = true
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

// ReadByte returns the next byte of the image, or io.EOF once exhausted.
func (l *Loader) ReadByte() (byte, error) {
	if l.file == nil {
		return 0, errNotAttached
	}
	if err := l.readBuffer(); err != nil {
		return 0, err
	}
	b := l.buffer[l.bufPos]
	l.bufPos++
	return b, nil
}

// ReadRecord reads up to len(dest) bytes, stopping early only at EOF,
// and returns the number of bytes actually read. A zero return with a
// nil error never happens; io.EOF is returned once nothing more is
// available.
func (l *Loader) ReadRecord(dest []byte) (int, error) {
	if l.file == nil {
		return 0, errNotAttached
	}
	n := 0
	for n < len(dest) {
		if err := l.readBuffer(); err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		copied := copy(dest[n:], l.buffer[l.bufPos:l.bufLen])
		l.bufPos += copied
		n += copied
	}
	return n, nil
}

// LoadInto reads the whole image sequentially into ram starting at
// offset, returning the total number of bytes copied. It stops at
// EOF or once ram[offset:] is exhausted, whichever comes first.
func (l *Loader) LoadInto(ram []byte, offset int) (int, error) {
	if l.file == nil {
		return 0, errNotAttached
	}
	if offset < 0 || offset > len(ram) {
		return 0, errors.New("image: offset out of range")
	}
	total := 0
	for offset+total < len(ram) {
		n, err := l.ReadRecord(ram[offset+total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
