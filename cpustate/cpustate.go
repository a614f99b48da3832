/*
 * tlibcore - CPU state contract (§3 DATA MODEL)
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

// Package cpustate holds the small, architecture-neutral contract the core
// exposes about guest CPU state: the per-CPU TB jump cache, interrupt/exit
// request flags, the currently executing TB, and breakpoints. The core never
// interprets architectural registers; everything arch-specific lives behind
// the opaque Env pointer, passed through untouched to helpers.
package cpustate

import (
	"errors"
	"sync"
	"sync/atomic"
)

// JumpCacheSize is the number of entries in the per-CPU guest-PC to TB
// jump cache (TB_JMP_CACHE_SIZE).
const JumpCacheSize = 1 << 12

// ErrLoopExit is the sentinel non-local exit used in place of the C
// longjmp-style cpu_loop_exit (§5, §7, §9 "Non-local control flow").
// Any helper that would call cpu_loop_exit returns this (or a wrapped
// form of it) instead of panicking; callers up to the dispatcher must
// propagate it unchanged and release only arena-scoped resources.
var ErrLoopExit = errors.New("cpustate: cpu_loop_exit")

// Breakpoint is a (pc, flags) pair on a per-CPU intrusive list.
type Breakpoint struct {
	PC    uint64
	Flags uint32
}

// TBHandle is the minimal view of a translation block the CPU state needs
// without importing package tb, so cpustate stays free of tb and its
// dependencies (package translator imports both). Package tb's
// *TranslationBlock satisfies this interface.
type TBHandle interface {
	Pc() uint64
}

// CPUState is one guest CPU context. Exactly one Translator (package
// translator) drives one CPUState at a time (§5 "single executing CPU
// context per translator instance").
type CPUState struct {
	// Env is the opaque architectural register file; the core never
	// looks inside it, only forwards the pointer to helpers and the
	// prologue (§3 "CPU state").
	Env any

	jumpCache [JumpCacheSize]TBHandle
	jumpMu    sync.RWMutex

	// interruptRequest and exitRequest use acquire/release semantics:
	// a request set-before-check pair is guaranteed visible no later
	// than the next block entry (§5 "Ordering").
	interruptRequest atomic.Bool
	exitRequest      atomic.Bool

	currentTB TBHandle
	curMu     sync.RWMutex

	breakpoints []Breakpoint
	bpMu        sync.Mutex

	// InsnCount is the running count of guest instructions retired,
	// updated only on real event delivery, never speculatively
	// (§4.1 "Executed-instruction counts").
	InsnCount uint64
}

// New creates a CPUState wrapping an opaque architectural register file.
func New(env any) *CPUState {
	return &CPUState{Env: env}
}

// JumpCacheIndex hashes a guest PC into the jump-cache index space.
func JumpCacheIndex(pc uint64) uint32 {
	return uint32(pc) & (JumpCacheSize - 1)
}

// JumpCacheGet returns the cached TB for pc, or nil on a miss.
func (c *CPUState) JumpCacheGet(pc uint64) TBHandle {
	c.jumpMu.RLock()
	defer c.jumpMu.RUnlock()
	return c.jumpCache[JumpCacheIndex(pc)]
}

// JumpCachePut installs tb in the jump cache for pc.
func (c *CPUState) JumpCachePut(pc uint64, tb TBHandle) {
	c.jumpMu.Lock()
	defer c.jumpMu.Unlock()
	c.jumpCache[JumpCacheIndex(pc)] = tb
}

// JumpCacheFlushAll clears every entry (full tb_flush).
func (c *CPUState) JumpCacheFlushAll() {
	c.jumpMu.Lock()
	defer c.jumpMu.Unlock()
	for i := range c.jumpCache {
		c.jumpCache[i] = nil
	}
}

// JumpCacheEvict removes tb from the cache if present at its natural slot.
func (c *CPUState) JumpCacheEvict(tb TBHandle) {
	c.jumpMu.Lock()
	defer c.jumpMu.Unlock()
	idx := JumpCacheIndex(tb.Pc())
	if c.jumpCache[idx] == tb {
		c.jumpCache[idx] = nil
	}
}

// SetInterruptPending records an asynchronous interrupt request.
func (c *CPUState) SetInterruptPending(v bool) { c.interruptRequest.Store(v) }

// InterruptPending reports whether an interrupt is pending, observed with
// acquire semantics relative to SetInterruptPending's release.
func (c *CPUState) InterruptPending() bool { return c.interruptRequest.Load() }

// SetExitRequest records a request to leave generated code at the next
// block-header check.
func (c *CPUState) SetExitRequest(v bool) { c.exitRequest.Store(v) }

// ExitRequested reports whether an exit has been requested.
func (c *CPUState) ExitRequested() bool { return c.exitRequest.Load() }

// CurrentTB returns the TB presently executing on this CPU, if any.
func (c *CPUState) CurrentTB() TBHandle {
	c.curMu.RLock()
	defer c.curMu.RUnlock()
	return c.currentTB
}

// SetCurrentTB records the TB about to be entered (or nil on exit).
func (c *CPUState) SetCurrentTB(tb TBHandle) {
	c.curMu.Lock()
	defer c.curMu.Unlock()
	c.currentTB = tb
}

// AddBreakpoint inserts a breakpoint, keyed by (pc, flags), if not already
// present.
func (c *CPUState) AddBreakpoint(pc uint64, flags uint32) {
	c.bpMu.Lock()
	defer c.bpMu.Unlock()
	for _, bp := range c.breakpoints {
		if bp.PC == pc && bp.Flags == flags {
			return
		}
	}
	c.breakpoints = append(c.breakpoints, Breakpoint{PC: pc, Flags: flags})
}

// RemoveBreakpoint removes a previously added breakpoint. No-op if absent.
func (c *CPUState) RemoveBreakpoint(pc uint64, flags uint32) {
	c.bpMu.Lock()
	defer c.bpMu.Unlock()
	for i, bp := range c.breakpoints {
		if bp.PC == pc && bp.Flags == flags {
			c.breakpoints = append(c.breakpoints[:i], c.breakpoints[i+1:]...)
			return
		}
	}
}

// BreakpointAt reports whether any breakpoint matches pc (any flags).
func (c *CPUState) BreakpointAt(pc uint64) bool {
	c.bpMu.Lock()
	defer c.bpMu.Unlock()
	for _, bp := range c.breakpoints {
		if bp.PC == pc {
			return true
		}
	}
	return false
}

// Breakpoints returns a snapshot copy of the current breakpoint list.
func (c *CPUState) Breakpoints() []Breakpoint {
	c.bpMu.Lock()
	defer c.bpMu.Unlock()
	out := make([]Breakpoint, len(c.breakpoints))
	copy(out, c.breakpoints)
	return out
}

// AddInsnCount adds to the running retired-instruction count. Called only
// on real event delivery (fault, interrupt, normal block completion), never
// speculatively, per §4.1.
func (c *CPUState) AddInsnCount(n uint64) {
	c.InsnCount += n
}
