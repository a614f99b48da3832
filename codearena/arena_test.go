package codearena

import "testing"

func TestAllocBumpsPointer(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	_, off1, ok := a.Alloc(64)
	if !ok || off1 != 0 {
		t.Fatalf("first alloc: off=%d ok=%v", off1, ok)
	}
	_, off2, ok := a.Alloc(64)
	if !ok || off2 != 64 {
		t.Fatalf("second alloc: off=%d ok=%v", off2, ok)
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	head := a.Remaining()
	_, _, ok := a.Alloc(head + 1)
	if ok {
		t.Fatalf("expected exhaustion to fail the allocation")
	}
	_, _, ok = a.Alloc(head)
	if !ok {
		t.Fatalf("expected exact-fit allocation to succeed")
	}
}

func TestGrowOnceOnlyOncePerFlushCycle(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	if !a.GrowOnce() {
		t.Fatalf("first growth attempt should succeed")
	}
	if a.GrowOnce() {
		t.Fatalf("second growth attempt in same cycle must fail")
	}
	a.Flush()
	if !a.GrowOnce() {
		t.Fatalf("growth should be re-armed after Flush")
	}
}

func TestGrowOnceCapsAtMax(t *testing.T) {
	a := New(MaxCodeGenBufferSize)
	if a.GrowOnce() {
		t.Fatalf("growth at the cap must fail")
	}
}

func TestFlushResetsBumpPointer(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	a.Alloc(128)
	a.Flush()
	if a.Remaining() != a.Size()-PrologueSize {
		t.Fatalf("flush did not reset bump pointer")
	}
}

func TestRWRXRoundTrip(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	_, off, _ := a.Alloc(16)
	rx := a.RWPtrToRX(off)
	if got := a.RXPtrToRW(rx); got != off {
		t.Fatalf("round trip mismatch: got %d want %d", got, off)
	}
}

func TestPrologueReservedFromAlloc(t *testing.T) {
	a := New(MinCodeGenBufferSize)
	// Allocating the entire head region must leave the prologue untouched.
	n := a.Remaining()
	buf, off, ok := a.Alloc(n)
	if !ok {
		t.Fatalf("expected full-head allocation to succeed")
	}
	if off+len(buf) > a.PrologueOffset() {
		t.Fatalf("allocation encroached on the prologue region")
	}
}
