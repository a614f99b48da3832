/*
 * tlibcore - translation block manager tests
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

package tb

import (
	"testing"

	"github.com/openhw-tlib/tlibcore/codearena"
	"github.com/openhw-tlib/tlibcore/ir"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(codearena.New(0))
}

// buildTrivialBlock emits insn_start(pc) -> ld -> add -> st -> exit_tb, a
// minimal but realistic single-instruction TB body.
func buildTrivialBlock(pc uint64) func(*ir.Builder) error {
	return func(b *ir.Builder) error {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		a := b.NewTemp(ir.I64, "a")
		c := b.NewTemp(ir.I64, "c")
		d := b.NewTemp(ir.I64, "d")
		b.EmitInsnStart(pc, pc)
		b.EmitLd(a, base, 0)
		b.EmitLd(c, base, 8)
		b.EmitBinOp(ir.OpAdd, d, a, c)
		b.EmitSt(d, base, 16)
		b.EmitExitTB(0)
		return nil
	}
}

func TestGenCodeThenFindByPC(t *testing.T) {
	m := newTestManager(t)
	pc := uint64(0x1000)

	t1, err := m.GenCode(pc, 0, 0, 0, pageNum(pc), PageAddrNone, buildTrivialBlock(pc))
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}

	got, ok := m.FindByPC(pc, 0, 0, pageNum(pc))
	if !ok {
		t.Fatalf("expected FindByPC to find the block just generated")
	}
	if got != t1 {
		t.Fatalf("FindByPC returned a different block than GenCode produced")
	}

	if _, ok := m.FindByPC(pc+4, 0, 0, pageNum(pc)); ok {
		t.Fatalf("FindByPC matched a pc nothing was generated for")
	}
}

// TestHashBucketDeterministic: two blocks sharing a page land in the same
// physical hash bucket and both remain reachable via the chain (§8
// property 1, "hash determinism").
func TestHashBucketDeterministic(t *testing.T) {
	m := newTestManager(t)
	page := uint64(7)
	pcA := page<<PageBits + 0x10
	pcB := page<<PageBits + 0x20

	ta, err := m.GenCode(pcA, 0, 0, 0, page, PageAddrNone, buildTrivialBlock(pcA))
	if err != nil {
		t.Fatalf("GenCode a: %v", err)
	}
	tb2, err := m.GenCode(pcB, 0, 0, 0, page, PageAddrNone, buildTrivialBlock(pcB))
	if err != nil {
		t.Fatalf("GenCode b: %v", err)
	}

	idx := physHashIndex(page, pcA)
	if physHashIndex(page, pcB) != idx {
		t.Skip("pcA/pcB happened not to collide; hash determinism is exercised either way below")
	}

	found := 0
	for i := m.physHash[idx]; i != NoTB; i = m.tbs[i].PhysHashNext {
		if m.tbs[i] == ta || m.tbs[i] == tb2 {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected both blocks reachable from bucket %d, found %d", idx, found)
	}
}

func TestFindByHostWord(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.GenCode(0x100, 0, 0, 0, pageNum(0x100), PageAddrNone, buildTrivialBlock(0x100))
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}
	t2, err := m.GenCode(0x200, 0, 0, 0, pageNum(0x200), PageAddrNone, buildTrivialBlock(0x200))
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}

	got, ok := m.FindByHostWord(t1.TCOffset)
	if !ok || got != t1 {
		t.Fatalf("expected FindByHostWord(t1.TCOffset) to resolve to t1")
	}
	got, ok = m.FindByHostWord(t2.TCOffset + t2.CodeSize - 1)
	if !ok || got != t2 {
		t.Fatalf("expected FindByHostWord to resolve the last byte of t2 to t2")
	}
	if _, ok := m.FindByHostWord(t2.TCOffset + t2.CodeSize); ok {
		t.Fatalf("expected FindByHostWord past the end of the arena's used region to miss")
	}
}

// TestJumpChainingAndReversal: AddJump records both the outbound link and
// dst's inbound edge; invalidating dst unchains src (§8 property 2, "chain
// reversibility").
func TestJumpChainingAndReversal(t *testing.T) {
	m := newTestManager(t)
	src, err := m.GenCode(0x100, 0, 0, 0, pageNum(0x100), PageAddrNone, buildTrivialBlock(0x100))
	if err != nil {
		t.Fatalf("GenCode src: %v", err)
	}
	dst, err := m.GenCode(0x200, 0, 0, 0, pageNum(0x200), PageAddrNone, buildTrivialBlock(0x200))
	if err != nil {
		t.Fatalf("GenCode dst: %v", err)
	}

	if err := m.AddJump(src, 0, dst); err != nil {
		t.Fatalf("AddJump: %v", err)
	}
	if src.OutJump[0] != dst.Index {
		t.Fatalf("expected src.OutJump[0] == dst.Index")
	}
	if len(dst.Inbound) != 1 || dst.Inbound[0] != (InboundLink{Src: src.Index, Slot: 0}) {
		t.Fatalf("expected dst.Inbound to record (src, 0), got %v", dst.Inbound)
	}

	// re-adding the same edge is a no-op, not a duplicate.
	if err := m.AddJump(src, 0, dst); err != nil {
		t.Fatalf("AddJump (repeat): %v", err)
	}
	if len(dst.Inbound) != 1 {
		t.Fatalf("expected AddJump to stay idempotent, got %d inbound edges", len(dst.Inbound))
	}

	m.PhysInvalidate(dst)
	if src.OutJump[0] != NoTB {
		t.Fatalf("expected invalidating dst to unchain src's outbound slot")
	}
	if len(dst.Inbound) != 0 {
		t.Fatalf("expected dst.Inbound cleared once dst itself is invalidated")
	}
}

// TestPhysInvalidateIdempotent: invalidating an already-invalid block is a
// no-op (§8 property 3).
func TestPhysInvalidateIdempotent(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.GenCode(0x100, 0, 0, 0, pageNum(0x100), PageAddrNone, buildTrivialBlock(0x100))
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}

	m.PhysInvalidate(t1)
	if t1.Valid {
		t.Fatalf("expected t1 invalid after PhysInvalidate")
	}
	if _, ok := m.FindByPC(0x100, 0, 0, pageNum(0x100)); ok {
		t.Fatalf("expected FindByPC to miss an invalidated block")
	}

	// second call must not panic or double-unlink.
	m.PhysInvalidate(t1)
}

// TestInvalidatePhysPageRangeRemovesBlocksOnPage exercises the SMC entry
// point: a write into a page invalidates every block resident there.
func TestInvalidatePhysPageRangeRemovesBlocksOnPage(t *testing.T) {
	m := newTestManager(t)
	page := pageNum(0x3000)
	pcA := uint64(0x3000)
	pcB := uint64(0x3010)

	ta, err := m.GenCode(pcA, 0, 0, 0, page, PageAddrNone, buildTrivialBlock(pcA))
	if err != nil {
		t.Fatalf("GenCode a: %v", err)
	}
	tb2, err := m.GenCode(pcB, 0, 0, 0, page, PageAddrNone, buildTrivialBlock(pcB))
	if err != nil {
		t.Fatalf("GenCode b: %v", err)
	}

	m.InvalidatePhysPageRange(0x3000, 0x3020, true)

	if ta.Valid || tb2.Valid {
		t.Fatalf("expected both same-page blocks invalidated by the write")
	}
	desc, _ := m.pages.Get(page, false)
	if desc == nil {
		t.Fatalf("expected page descriptor to still exist after invalidation")
	}
	if desc.TBHead != NoTB {
		t.Fatalf("expected page's TB list cleared, got head=%d", desc.TBHead)
	}
	if desc.CodeWrites != 1 {
		t.Fatalf("expected one recorded code write, got %d", desc.CodeWrites)
	}
}

func TestWriteThresholdBuildsCodeBitmap(t *testing.T) {
	m := newTestManager(t)
	page := pageNum(0x4000)

	for i := 0; i < WriteThreshold; i++ {
		m.InvalidatePhysPageRange(0x4000, 0x4001, true)
	}
	desc, _ := m.pages.Get(page, false)
	if desc == nil {
		t.Fatalf("expected page descriptor to exist")
	}
	if desc.CodeBitmap == nil {
		t.Fatalf("expected code bitmap built after %d writes", WriteThreshold)
	}
}

// TestArenaExhaustionFlushesAndRetriesAcrossMultipleCycles: GenCode's
// exhaustion path must perform a full tb_flush before each doubling
// attempt, so the arena can grow more than once across a Manager's
// lifetime (spec.md "tb_gen_code ... performs a full tb_flush, attempts to
// double the arena ..., and retries exactly once", §8 property 7).
func TestArenaExhaustionFlushesAndRetriesAcrossMultipleCycles(t *testing.T) {
	arena := codearena.New(codearena.MinCodeGenBufferSize)
	m := NewManager(arena)

	// exhaust pre-consumes the arena's head region directly, leaving too
	// little room for another trivial block, so the next GenCode call
	// must take the exhaustion path.
	exhaust := func() {
		if remaining := arena.Remaining(); remaining > 4 {
			if _, _, ok := arena.Alloc(remaining - 4); !ok {
				t.Fatalf("setup: failed to pre-consume arena")
			}
		}
	}

	exhaust()
	if _, err := m.GenCode(0x1000, 0, 0, 0, pageNum(0x1000), PageAddrNone, buildTrivialBlock(0x1000)); err != nil {
		t.Fatalf("GenCode after first exhaustion: %v", err)
	}
	if arena.Size() != 2*codearena.MinCodeGenBufferSize {
		t.Fatalf("expected arena to have doubled once, size=%d", arena.Size())
	}

	// Second exhaustion: without a flush re-arming the arena's
	// once-per-cycle growth guard, this GrowOnce would fail even though
	// the cap is nowhere near reached, and GenCode would return "code
	// arena exhausted after growth" instead of succeeding.
	exhaust()
	if _, err := m.GenCode(0x2000, 0, 0, 0, pageNum(0x2000), PageAddrNone, buildTrivialBlock(0x2000)); err != nil {
		t.Fatalf("GenCode after second exhaustion: %v", err)
	}
	if arena.Size() != 4*codearena.MinCodeGenBufferSize {
		t.Fatalf("expected arena to have doubled twice, size=%d", arena.Size())
	}
}

// TestSearchTableRoundTrip: encoding then decoding a block's boundaries
// reconstructs the exact (pc, insn words) at every recorded host word
// offset (§8 property 4, "state-restoration round-trip").
func TestSearchTableRoundTrip(t *testing.T) {
	m := newTestManager(t)
	pc := uint64(0x5000)

	build := func(b *ir.Builder) error {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		a := b.NewTemp(ir.I64, "a")
		b.EmitInsnStart(pc, pc, 0xAA)
		b.EmitLd(a, base, 0)
		b.EmitInsnStart(pc+4, pc+4, 0xBB)
		b.EmitSt(a, base, 8)
		b.EmitExitTB(0)
		return nil
	}

	tblk, err := m.GenCode(pc, 0, 0, 0, pageNum(pc), PageAddrNone, build)
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}
	if len(tblk.Program.Boundaries) != 2 {
		t.Fatalf("expected 2 recorded boundaries, got %d", len(tblk.Program.Boundaries))
	}

	for _, want := range tblk.Program.Boundaries {
		gotPC, gotWords, _, ok := Restore(tblk, want.Word, RestoreCurrent)
		if !ok {
			t.Fatalf("Restore failed to resolve word %d", want.Word)
		}
		if gotPC != want.PC {
			t.Fatalf("Restore(%d): pc = %#x, want %#x", want.Word, gotPC, want.PC)
		}
		for i, w := range want.Words {
			if gotWords[i] != w {
				t.Fatalf("Restore(%d): word[%d] = %#x, want %#x", want.Word, i, gotWords[i], w)
			}
		}
	}

	// a word strictly inside the second instruction's span still resolves
	// to the second boundary, not the first.
	lastWord := tblk.Program.Boundaries[1].Word + 1
	gotPC, _, _, ok := Restore(tblk, lastWord, RestoreCurrent)
	if !ok || gotPC != pc+4 {
		t.Fatalf("Restore(%d) = %#x, ok=%v, want pc=%#x", lastWord, gotPC, ok, pc+4)
	}
}

func TestRestoreNextAdvancesOneBoundary(t *testing.T) {
	m := newTestManager(t)
	pc := uint64(0x6000)
	build := func(b *ir.Builder) error {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		a := b.NewTemp(ir.I64, "a")
		b.EmitInsnStart(pc, pc)
		b.EmitLd(a, base, 0)
		b.EmitInsnStart(pc+4, pc+4)
		b.EmitSt(a, base, 8)
		b.EmitExitTB(0)
		return nil
	}
	tblk, err := m.GenCode(pc, 0, 0, 0, pageNum(pc), PageAddrNone, build)
	if err != nil {
		t.Fatalf("GenCode: %v", err)
	}

	firstWord := tblk.Program.Boundaries[0].Word
	gotPC, _, _, ok := Restore(tblk, firstWord, RestoreNext)
	if !ok || gotPC != pc+4 {
		t.Fatalf("RestoreNext at first boundary = %#x, want %#x", gotPC, pc+4)
	}
}

func TestPageDescDefaultsToNoTB(t *testing.T) {
	trie := newPageTrie[PageDesc]()
	desc, created := trie.Get(42, true)
	if !created {
		t.Fatalf("expected first Get to report created=true")
	}
	if desc.TBHead != 0 {
		t.Fatalf("zero value TBHead should be 0 until the caller applies NoTB")
	}
	desc.TBHead = NoTB

	again, created := trie.Get(42, true)
	if created {
		t.Fatalf("expected second Get for the same page to report created=false")
	}
	if again.TBHead != NoTB {
		t.Fatalf("expected the caller-applied default to persist across Get calls")
	}
}
