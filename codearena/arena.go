/*
 * tlibcore - Code generation arena (§4.2)
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

// Package codearena implements the dual-view (rw+rx) executable memory
// arena that translated code is bump-allocated from (§4.2).
//
// A real dual mapping requires two VM mappings of the same physical pages,
// one writable and one executable, so the host can satisfy W^X. This Go
// rewrite cannot create such a mapping without cgo or raw syscalls (out of
// scope for this exercise -- no Go toolchain invocations, and no new OS
// dependency). Instead the arena keeps a single backing []byte and models
// the rw/rx split as two address spaces related by a constant, zero,
// WXDiff -- RWPtrToRX and RXPtrToRW perform the (here trivial) translation
// at the well-defined points the spec calls out, so the rest of the core
// (relocation patching via rw, branch targets embedding rx) is written
// exactly as it would be against a true dual mapping.
package codearena

import (
	"fmt"
	"sync"
)

// Size bounds, mirroring MAX_CODE_GEN_BUFFER_SIZE / a sane minimum.
const (
	MinCodeGenBufferSize = 1 << 16        // 64 KiB
	MaxCodeGenBufferSize = 1 << 29        // 512 MiB
	PrologueSize         = 1 << 12        // TCG_PROLOGUE_SIZE
	defaultSize          = 1 << 22        // 4 MiB starting size
)

// Arena is a contiguous region translation allocates host code from.
type Arena struct {
	mu sync.Mutex

	buf      []byte
	size     int
	genPtr   int // bump pointer into buf, from the head
	wxDiff   int // rx_addr - rw_addr; zero in this pure-Go model
	grownOnce bool
}

// New allocates an arena of the requested size, clamped to
// [MinCodeGenBufferSize, MaxCodeGenBufferSize]. The tail PrologueSize
// bytes are reserved for the one-time prologue/epilogue.
func New(requestedSize int) *Arena {
	size := clamp(requestedSize)
	return &Arena{
		buf:    make([]byte, size),
		size:   size,
		genPtr: 0,
	}
}

func clamp(n int) int {
	if n <= 0 {
		n = defaultSize
	}
	if n < MinCodeGenBufferSize {
		n = MinCodeGenBufferSize
	}
	if n > MaxCodeGenBufferSize {
		n = MaxCodeGenBufferSize
	}
	return n
}

// Size returns the current arena size in bytes.
func (a *Arena) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// PrologueOffset is the fixed offset of the prologue from the arena base,
// at the tail of the buffer (§4.2).
func (a *Arena) PrologueOffset() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size - PrologueSize
}

// Alloc bump-allocates n bytes from the head of the arena for a new TB's
// translated code. Returns the rw-view byte slice and its offset, or ok=false
// if the arena (head region, i.e. up to the prologue) is exhausted.
func (a *Arena) Alloc(n int) (buf []byte, offset int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := a.size - PrologueSize
	if a.genPtr+n > limit {
		return nil, 0, false
	}
	off := a.genPtr
	a.genPtr += n
	return a.buf[off : off+n : off+n], off, true
}

// Remaining reports how many bytes are left in the head region.
func (a *Arena) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return (a.size - PrologueSize) - a.genPtr
}

// Flush resets the bump pointer to the start of the arena (tb_flush). It
// also re-arms the one-doubling-per-cycle growth policy (§4.2 "Growth
// policy").
func (a *Arena) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.genPtr = 0
	a.grownOnce = false
}

// GrowOnce attempts, at most once per flush cycle, to double the arena
// (capped at MaxCodeGenBufferSize). Returns false if growth was already
// attempted this cycle or the cap was already reached -- the caller (the TB
// manager) must then treat the arena as exhausted.
func (a *Arena) GrowOnce() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grownOnce {
		return false
	}
	a.grownOnce = true
	newSize := a.size * 2
	if newSize > MaxCodeGenBufferSize {
		newSize = MaxCodeGenBufferSize
	}
	if newSize <= a.size {
		return false
	}
	grown := make([]byte, newSize)
	copy(grown, a.buf)
	a.buf = grown
	a.size = newSize
	return true
}

// RWBase returns the writable-view base pointer offset (identically zero
// in this model; see package doc).
func (a *Arena) RWBase() int { return 0 }

// RXBase returns the executable-view base pointer offset.
func (a *Arena) RXBase() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wxDiff
}

// RWPtrToRX converts an rw-view offset to the corresponding rx-view offset.
func (a *Arena) RWPtrToRX(rwOff int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return rwOff + a.wxDiff
}

// RXPtrToRW converts an rx-view offset back to the rw-view offset.
func (a *Arena) RXPtrToRW(rxOff int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return rxOff - a.wxDiff
}

// Bytes exposes the rw-view backing slice directly, for patching already
// emitted code in place (relocation patching operates through this view,
// per §9 "patching uses rw, branches embed rx").
func (a *Arena) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf
}

// InBounds reports whether the rw-view offset range [off, off+n) lies
// within the head (non-prologue) region currently in use.
func (a *Arena) InBounds(off, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return off >= 0 && off+n <= a.genPtr
}

func (a *Arena) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("Arena{size=%d used=%d grownOnce=%v}", a.size, a.genPtr, a.grownOnce)
}
