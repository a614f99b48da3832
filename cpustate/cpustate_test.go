/*
 * tlibcore - CPU state contract tests
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

package cpustate

import "testing"

// fakeTB is a minimal TBHandle for exercising the jump cache and
// CurrentTB without pulling in package tb.
type fakeTB struct {
	pc uint64
}

func (f *fakeTB) Pc() uint64 { return f.pc }

func TestJumpCacheGetMissReturnsNil(t *testing.T) {
	c := New(nil)
	if got := c.JumpCacheGet(0x1000); got != nil {
		t.Fatalf("JumpCacheGet on empty cache = %v, want nil", got)
	}
}

func TestJumpCachePutThenGet(t *testing.T) {
	c := New(nil)
	tb := &fakeTB{pc: 0x4000}
	c.JumpCachePut(tb.pc, tb)
	if got := c.JumpCacheGet(tb.pc); got != tb {
		t.Fatalf("JumpCacheGet = %v, want %v", got, tb)
	}
}

// TestJumpCacheIndexCollisionLastWriteWins exercises the hash itself: two
// PCs that land on the same slot (pc and pc+JumpCacheSize share the low
// bits JumpCacheIndex masks on) must alias in the cache, matching the
// fixed-size direct-mapped design of TB_JMP_CACHE_SIZE.
func TestJumpCacheIndexCollisionLastWriteWins(t *testing.T) {
	c := New(nil)
	a := &fakeTB{pc: 0x1000}
	b := &fakeTB{pc: 0x1000 + JumpCacheSize}
	if JumpCacheIndex(a.pc) != JumpCacheIndex(b.pc) {
		t.Fatalf("expected pc and pc+JumpCacheSize to collide in the jump cache index space")
	}
	c.JumpCachePut(a.pc, a)
	c.JumpCachePut(b.pc, b)
	if got := c.JumpCacheGet(a.pc); got != b {
		t.Fatalf("JumpCacheGet = %v, want the last entry written to the shared slot (%v)", got, b)
	}
}

func TestJumpCacheFlushAllClearsEveryEntry(t *testing.T) {
	c := New(nil)
	tbs := []*fakeTB{{pc: 0x1000}, {pc: 0x2000}, {pc: 0x3000}}
	for _, tb := range tbs {
		c.JumpCachePut(tb.pc, tb)
	}
	c.JumpCacheFlushAll()
	for _, tb := range tbs {
		if got := c.JumpCacheGet(tb.pc); got != nil {
			t.Fatalf("JumpCacheGet(%#x) after FlushAll = %v, want nil", tb.pc, got)
		}
	}
}

// TestJumpCacheEvictOnlyRemovesAtNaturalSlot covers the doc'd semantics:
// JumpCacheEvict must not clear a slot a collision has since overwritten
// with a different TB -- only remove tb if it is still the occupant.
func TestJumpCacheEvictOnlyRemovesAtNaturalSlot(t *testing.T) {
	c := New(nil)
	stale := &fakeTB{pc: 0x1000}
	fresh := &fakeTB{pc: 0x1000 + JumpCacheSize}

	c.JumpCachePut(stale.pc, stale)
	c.JumpCacheEvict(stale)
	if got := c.JumpCacheGet(stale.pc); got != nil {
		t.Fatalf("JumpCacheGet after evicting the sole occupant = %v, want nil", got)
	}

	c.JumpCachePut(stale.pc, stale)
	c.JumpCachePut(fresh.pc, fresh) // overwrites stale's slot, same index
	c.JumpCacheEvict(stale)
	if got := c.JumpCacheGet(fresh.pc); got != fresh {
		t.Fatalf("JumpCacheEvict(stale) clobbered a slot fresh now occupies: got %v, want %v", got, fresh)
	}
}

func TestInterruptPendingRoundTrips(t *testing.T) {
	c := New(nil)
	if c.InterruptPending() {
		t.Fatalf("expected no interrupt pending on a fresh CPUState")
	}
	c.SetInterruptPending(true)
	if !c.InterruptPending() {
		t.Fatalf("expected InterruptPending true after SetInterruptPending(true)")
	}
	c.SetInterruptPending(false)
	if c.InterruptPending() {
		t.Fatalf("expected InterruptPending false after SetInterruptPending(false)")
	}
}

func TestExitRequestedRoundTrips(t *testing.T) {
	c := New(nil)
	if c.ExitRequested() {
		t.Fatalf("expected no exit requested on a fresh CPUState")
	}
	c.SetExitRequest(true)
	if !c.ExitRequested() {
		t.Fatalf("expected ExitRequested true after SetExitRequest(true)")
	}
}

// TestCurrentTBDefaultsNilAndRoundTrips exercises the §4.1/§8 scenario E2
// wiring: translator.Dispatch sets/clears CurrentTB around each runOnce so
// softtlb's notifyWrite can tell a self-modifying write on the block
// presently executing apart from one on some other block sharing a page.
func TestCurrentTBDefaultsNilAndRoundTrips(t *testing.T) {
	c := New(nil)
	if got := c.CurrentTB(); got != nil {
		t.Fatalf("CurrentTB on a fresh CPUState = %v, want nil", got)
	}
	tb := &fakeTB{pc: 0x7000}
	c.SetCurrentTB(tb)
	if got := c.CurrentTB(); got != tb {
		t.Fatalf("CurrentTB = %v, want %v", got, tb)
	}
	c.SetCurrentTB(nil)
	if got := c.CurrentTB(); got != nil {
		t.Fatalf("CurrentTB after SetCurrentTB(nil) = %v, want nil", got)
	}
}

func TestAddBreakpointDeduplicates(t *testing.T) {
	c := New(nil)
	c.AddBreakpoint(0x1000, 0)
	c.AddBreakpoint(0x1000, 0)
	if got := c.Breakpoints(); len(got) != 1 {
		t.Fatalf("Breakpoints() after duplicate AddBreakpoint = %d entries, want 1", len(got))
	}
}

func TestAddBreakpointDistinguishesFlags(t *testing.T) {
	c := New(nil)
	c.AddBreakpoint(0x1000, 0)
	c.AddBreakpoint(0x1000, 1)
	if got := c.Breakpoints(); len(got) != 2 {
		t.Fatalf("Breakpoints() with distinct flags at the same pc = %d entries, want 2", len(got))
	}
}

func TestRemoveBreakpointIsNoopWhenAbsent(t *testing.T) {
	c := New(nil)
	c.RemoveBreakpoint(0x1000, 0)
	if got := c.Breakpoints(); len(got) != 0 {
		t.Fatalf("Breakpoints() after removing from an empty list = %d entries, want 0", len(got))
	}
}

func TestRemoveBreakpointRemovesOnlyMatchingEntry(t *testing.T) {
	c := New(nil)
	c.AddBreakpoint(0x1000, 0)
	c.AddBreakpoint(0x2000, 0)
	c.RemoveBreakpoint(0x1000, 0)

	if c.BreakpointAt(0x1000) {
		t.Fatalf("expected 0x1000 to no longer have a breakpoint")
	}
	if !c.BreakpointAt(0x2000) {
		t.Fatalf("expected 0x2000's breakpoint to survive removing 0x1000's")
	}
}

func TestBreakpointAtMatchesAnyFlags(t *testing.T) {
	c := New(nil)
	c.AddBreakpoint(0x1000, 7)
	if !c.BreakpointAt(0x1000) {
		t.Fatalf("expected BreakpointAt to match regardless of flags")
	}
}

func TestBreakpointsReturnsASnapshotCopy(t *testing.T) {
	c := New(nil)
	c.AddBreakpoint(0x1000, 0)
	snap := c.Breakpoints()
	snap[0].PC = 0xDEAD

	if got := c.Breakpoints(); got[0].PC != 0x1000 {
		t.Fatalf("mutating a Breakpoints() snapshot leaked into CPUState: got %#x, want 0x1000", got[0].PC)
	}
}

func TestAddInsnCountAccumulates(t *testing.T) {
	c := New(nil)
	c.AddInsnCount(3)
	c.AddInsnCount(4)
	if c.InsnCount != 7 {
		t.Fatalf("InsnCount = %d, want 7", c.InsnCount)
	}
}
