/*
 * tlibcore - translation block manager (§4.1, §4.2, §4.6)
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
	"fmt"
	"sort"
	"sync"

	"github.com/openhw-tlib/tlibcore/codearena"
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/regalloc"
)

// PhysHashBits/PhysHashSize size the physical-address hash table blocks are
// chained into for PC-based lookup (§3 "phys hash table").
const (
	PhysHashBits = 15
	PhysHashSize = 1 << PhysHashBits
)

func physHashIndex(pageAddr uint64, pc uint64) int {
	return int((pageAddr ^ (pc >> PageBits)) & (PhysHashSize - 1))
}

// Manager owns every translation block for one translator instance: their
// storage in the code arena, the hash/page chains used to find and
// invalidate them, and the direct-jump chaining between blocks (§4.1-§4.2).
type Manager struct {
	mu sync.Mutex

	tbs      []*TranslationBlock
	physHash [PhysHashSize]int

	pages *pageTrie[PageDesc]

	arena *codearena.Arena

	// maxInsns caps every subsequently generated block's instruction
	// count (0 meaning unlimited), set via SetMaxInsns
	// (§6 "tlib_set_maximum_block_size").
	maxInsns int
}

// SetMaxInsns bounds how many guest instructions GenCode will let a single
// block's Decoder emit before forcing a block end, bounding single-block
// translation latency and TB size (§6 "tlib_set_maximum_block_size"). A
// value of 0 means unlimited, the default.
func (m *Manager) SetMaxInsns(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxInsns = n
}

// NewManager creates a TB manager backed by arena; arena ownership (growth,
// flush) is shared with whatever else uses it, but in practice a Manager is
// the arena's sole writer.
func NewManager(arena *codearena.Arena) *Manager {
	m := &Manager{
		arena: arena,
		pages: newPageTrie[PageDesc](),
	}
	for i := range m.physHash {
		m.physHash[i] = NoTB
	}
	return m
}

// pageNum converts a guest physical address to its page number.
func pageNum(addr uint64) uint64 { return addr >> PageBits }

// FlushAll discards every translation block and resets every chain this
// Manager maintains, then flushes the backing arena (§4.1 "tb_flush" --
// the whole-cache reset, as opposed to PhysInvalidate's single-block or
// InvalidatePhysPageRange's page-ranged variants). Called when the
// translation cache is explicitly invalidated or grows too large to keep
// around (§6 "tlib_invalidate_translation_cache").
func (m *Manager) FlushAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushAllLocked()
}

// flushAllLocked is FlushAll's body, callable by GenCode's exhaustion path
// which already holds m.mu.
func (m *Manager) flushAllLocked() {
	m.tbs = nil
	for i := range m.physHash {
		m.physHash[i] = NoTB
	}
	// Page descriptors survive the flush; only their TB list heads reset.
	for i := range m.pages.l1 {
		leaf := m.pages.l1[i]
		if leaf == nil {
			continue
		}
		for _, d := range leaf {
			if d != nil {
				d.TBHead = NoTB
			}
		}
	}
	m.arena.Flush()
}

// GenCode translates one new block: build supplies the guest decode logic
// against a fresh ir.Builder (already past BeginBlock), after which GenCode
// runs the fixed optimize/liveness/allocate/emit pipeline (§4.3-§4.4),
// copies the resulting code into the arena, links the block into every
// hash/page chain, and returns it (§4.1 "tb_gen_code").
//
// physPage0/physPage1 are the guest physical page number(s) the block's
// bytes occupy; pass physPage1 == PageAddrNone for a block that does not
// cross a page boundary.
func (m *Manager) GenCode(pc, csBase uint64, flags, cflags uint32, physPage0, physPage1 uint64, build func(*ir.Builder) error) (*TranslationBlock, error) {
	m.mu.Lock()
	maxInsns := m.maxInsns
	m.mu.Unlock()

	b := ir.NewBuilder()
	b.BeginBlock(pc, csBase, flags, maxInsns)
	if err := build(b); err != nil {
		return nil, fmt.Errorf("tb: translation failed: %w", err)
	}

	b.Optimize()
	regalloc.Liveness(b)
	res, err := regalloc.Allocate(b)
	if err != nil {
		return nil, fmt.Errorf("tb: register allocation failed: %w", err)
	}
	prog, err := arm64.Emit(b, res)
	if err != nil {
		return nil, fmt.Errorf("tb: host emission failed: %w", err)
	}

	code := prog.Bytes()
	search := encodeSearchTable(prog.Boundaries, pc)

	m.mu.Lock()
	defer m.mu.Unlock()

	rw, offset, ok := m.arena.Alloc(len(code))
	if !ok {
		// §4.1 "tb_gen_code": on exhaustion, a full tb_flush precedes the
		// single doubling attempt -- flushing discards every existing TB
		// and rearms the once-per-cycle growth policy, so the retry below
		// is against a freshly reset, then (if grown) larger arena.
		m.flushAllLocked()
		if !m.arena.GrowOnce() {
			return nil, fmt.Errorf("tb: code arena exhausted")
		}
		rw, offset, ok = m.arena.Alloc(len(code))
		if !ok {
			return nil, fmt.Errorf("tb: code arena exhausted after growth")
		}
	}
	copy(rw, code)

	t := &TranslationBlock{
		Index:      len(m.tbs),
		PC:         pc,
		CSBase:     csBase,
		Flags:      flags,
		CFlags:     cflags,
		DisasFlags: flags,
		TCOffset:   offset,
		CodeSize:   len(code),
		TCSearch:   search,
		Program:    prog,
		Size:       b.Size,
		ICount:     b.ICount,
		PageAddr:   [2]uint64{physPage0, physPage1},
		OutJump:    [2]int{NoTB, NoTB},
		Valid:      true,
	}
	m.tbs = append(m.tbs, t)
	m.linkLocked(t)
	return t, nil
}

// linkLocked inserts t into the physical hash bucket and every page chain
// its PageAddr entries name. Caller holds m.mu.
func (m *Manager) linkLocked(t *TranslationBlock) {
	idx := physHashIndex(t.PageAddr[0], t.PC)
	t.PhysHashNext = m.physHash[idx]
	m.physHash[idx] = t.Index

	for i, pa := range t.PageAddr {
		if pa == PageAddrNone {
			continue
		}
		desc, created := m.pages.Get(pa, true)
		if created {
			desc.TBHead = NoTB
		}
		t.PageNext[i] = desc.TBHead
		desc.TBHead = t.Index
	}
}

// FindByPC looks up a live block matching the full (pc, cs_base, flags)
// identity, walking the physical hash bucket (§3 "tb_find", §4.1).
func (m *Manager) FindByPC(pc, csBase uint64, flags uint32, physPage0 uint64) (*TranslationBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := physHashIndex(physPage0, pc)
	for i := m.physHash[idx]; i != NoTB; {
		t := m.tbs[i]
		if t.Valid && t.PC == pc && t.CSBase == csBase && t.Flags == flags {
			return t, true
		}
		i = t.PhysHashNext
	}
	return nil, false
}

// PageTBHead reports whether pageNum has ever been touched and, if so, the
// current head of its TB list (NoTB if the page exists but is now empty).
// Exposed for package softtlb, which needs to know whether a page still
// carries live code after an invalidating write, without reaching into
// Manager's page trie directly (§4.6 "clears NOTDIRTY once the page has no
// remaining code").
func (m *Manager) PageTBHead(pageNum uint64) (head int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, _ := m.pages.Get(pageNum, false)
	if desc == nil {
		return NoTB, false
	}
	return desc.TBHead, true
}

// FindByHostWord returns the block whose arena byte range contains
// hostOffset, via binary search over TCOffset (blocks are allocated in
// strictly increasing offset order, so this is always sorted) -- used to
// resolve a faulting/interrupted host PC back to a guest TB (§4.1).
func (m *Manager) FindByHostWord(hostOffset int) (*TranslationBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := sort.Search(len(m.tbs), func(i int) bool {
		return m.tbs[i].TCOffset > hostOffset
	})
	if n == 0 {
		return nil, false
	}
	t := m.tbs[n-1]
	if !t.Valid || hostOffset >= t.TCOffset+t.CodeSize {
		return nil, false
	}
	return t, true
}

// AddJump chains exit slot n of src directly to dst and records the
// inbound edge on dst so it can be unchained later (§4.2 "tb_add_jump").
// A no-op if the slot is already chained to dst.
//
// A true TCG back end patches the branch-immediate bits of the emitted
// machine code in place, so the CPU never returns to the dispatcher loop.
// Interpret (§4.4's documented deviation) only ever executes one Program's
// word stream per call, so there is no host instruction to patch here --
// the dispatcher (package translator) calls AddJump once a block exits
// through a chain slot and reaches the successor through its own lookup,
// without reading OutJump/Inbound back. The bookkeeping this method performs -- chain
// replacement, idempotence, inbound tracking -- is exactly what a native
// back end's patch step maintains; only the mechanism of "taking the jump"
// differs.
func (m *Manager) AddJump(src *TranslationBlock, n int, dst *TranslationBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src.OutJump[n] == dst.Index {
		return nil
	}
	if src.OutJump[n] != NoTB {
		m.unchainLocked(src, n)
	}

	src.OutJump[n] = dst.Index
	dst.Inbound = append(dst.Inbound, InboundLink{Src: src.Index, Slot: n})
	return nil
}

// unchainLocked removes the existing chain from src's exit slot n, restoring
// it to an exit-to-dispatcher stub and dropping the inbound edge it recorded
// on its old target. Caller holds m.mu.
func (m *Manager) unchainLocked(src *TranslationBlock, n int) {
	oldIdx := src.OutJump[n]
	if oldIdx == NoTB {
		return
	}
	old := m.tbs[oldIdx]
	for i, link := range old.Inbound {
		if link.Src == src.Index && link.Slot == n {
			old.Inbound = append(old.Inbound[:i], old.Inbound[i+1:]...)
			break
		}
	}
	src.OutJump[n] = NoTB
}

// PhysInvalidate removes t from every structure that references it: its
// physical-hash bucket, its page chains, and both directions of jump
// chaining (every inbound edge is unchained, and any outbound chain it
// holds is cleared). Idempotent -- invalidating an already-invalid block is
// a no-op (§4.1 "tb_phys_invalidate", §8 property 3).
func (m *Manager) PhysInvalidate(t *TranslationBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.physInvalidateLocked(t)
}

func (m *Manager) physInvalidateLocked(t *TranslationBlock) {
	if !t.Valid {
		return
	}
	t.Valid = false

	idx := physHashIndex(t.PageAddr[0], t.PC)
	m.physHash[idx] = removeFromChain(m.tbs, m.physHash[idx], t.Index, func(x *TranslationBlock) int { return x.PhysHashNext }, func(x *TranslationBlock, n int) { x.PhysHashNext = n })

	for i, pa := range t.PageAddr {
		if pa == PageAddrNone {
			continue
		}
		desc, _ := m.pages.Get(pa, false)
		if desc == nil {
			continue
		}
		slot := i
		desc.TBHead = removeFromChain(m.tbs, desc.TBHead, t.Index, func(x *TranslationBlock) int { return x.PageNext[slot] }, func(x *TranslationBlock, n int) { x.PageNext[slot] = n })
	}

	for n := 0; n < 2; n++ {
		if t.OutJump[n] != NoTB {
			m.unchainLocked(t, n)
		}
	}
	for _, link := range t.Inbound {
		src := m.tbs[link.Src]
		src.OutJump[link.Slot] = NoTB
	}
	t.Inbound = nil
}

// removeFromChain walks an intrusive chain starting at head, looking for
// target, and returns the new head with it spliced out. get/set access the
// per-node "next" field the chain is threaded through, parameterized so one
// implementation serves the physical-hash, page, and (by the same shape
// elsewhere) jump-cache chains.
func removeFromChain(tbs []*TranslationBlock, head int, target int, get func(*TranslationBlock) int, set func(*TranslationBlock, int)) int {
	if head == target {
		return get(tbs[head])
	}
	prev := head
	for prev != NoTB {
		next := get(tbs[prev])
		if next == target {
			set(tbs[prev], get(tbs[next]))
			return head
		}
		prev = next
	}
	return head
}

// InvalidatePhysPageRange invalidates every block on each guest physical
// page that the byte range [start, end) touches, splitting at page
// boundaries (§4.1, §4.6 "self-modifying code"). It works at whole-page
// granularity: a block on one of those pages is invalidated even if its
// code lies outside [start, end). For a write it also bumps each page's
// write counter and, once WriteThreshold is reached, allocates the page's
// CodeBitmap; the bitmap is not filled in or consulted.
func (m *Manager) InvalidatePhysPageRange(start, end uint64, isWrite bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	firstPage := pageNum(start)
	lastPage := pageNum(end - 1)

	for pn := firstPage; pn <= lastPage; pn++ {
		desc, created := m.pages.Get(pn, isWrite)
		if desc == nil {
			continue
		}
		if created {
			desc.TBHead = NoTB
		}
		if isWrite {
			desc.CodeWrites++
			if desc.CodeWrites >= WriteThreshold && desc.CodeBitmap == nil {
				desc.CodeBitmap = make([]byte, 1<<PageBits/8)
			}
		}

		for i := desc.TBHead; i != NoTB; {
			t := m.tbs[i]
			next := nextOnPage(t, pn)
			if t.HasTwoPages() {
				t.WasCut = true
			}
			m.physInvalidateLocked(t)
			i = next
		}
		desc.TBHead = NoTB
	}
}

func nextOnPage(t *TranslationBlock, pn uint64) int {
	if t.PageAddr[0] == pn {
		return t.PageNext[0]
	}
	return t.PageNext[1]
}
