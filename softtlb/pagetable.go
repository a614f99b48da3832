/*
 * tlibcore - physical-page descriptor table (§4.6)
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

package softtlb

// L2Bits/L2Size and L1Bits/L1Size mirror package tb's radix-trie sizing
// exactly (§9 "Radix tries" -- the same sparse constant-depth idiom serves
// both the TB-list-by-page table and this RAM/MMIO-by-page table).
const (
	L2Bits = 10
	L2Size = 1 << L2Bits

	L1Bits = 16
	L1Size = 1 << L1Bits
)

// PhysPageDesc is the per-guest-physical-page descriptor consulted by
// TLB.SetPage to decide RAM vs. MMIO routing and dirty-for-SMC tagging
// (§4.6 "tlb_set_page decides MMIO vs RAM by consulting the physical-page
// descriptor's phys_offset").
type PhysPageDesc struct {
	// PhysOffset is this page's offset into the backing RAM region, or
	// MMIOOffset if accesses to it must route through an MMIOHandler
	// instead of a host memory pointer.
	PhysOffset int64

	// RegionOffset further distinguishes which backing region PhysOffset
	// is relative to, for embedders exposing more than one RAM/ROM region.
	RegionOffset int64

	// HasCode is true while at least one live TB's bytes live on this
	// page; TLB.SetPage must then tag the write entry FlagNotDirty so
	// every store re-enters the slow path and can invalidate that code
	// (§4.6 "Dirty tracking for SMC").
	HasCode bool

	// SubPage is true for a region smaller than one guest page (an MMIO
	// device register window narrower than PAGE_SIZE, say); such pages
	// are always tagged FlagOneShot so every access re-checks permissions
	// instead of caching a translation (§4.6).
	SubPage bool
}

// MMIOOffset is the sentinel PhysOffset value meaning "this page has no
// RAM backing; route through MMIOHandler" (§4.6).
const MMIOOffset = -1

// pageTrie is the two-level radix trie from guest physical page number to
// *PhysPageDesc, grounded on the same layout as package tb's PageDesc
// table (tb/pagetable.go) -- duplicated rather than shared because the two
// tables are keyed and owned independently (package tb never needs to know
// about RAM/MMIO routing, softtlb never needs to know about TB chains) and
// Go has no lightweight way to share a generic trie across packages without
// exporting trie internals neither package otherwise needs.
type pageTrie struct {
	l1 [L1Size]*[L2Size]*PhysPageDesc
}

func newPageTrie() *pageTrie { return &pageTrie{} }

func split(pageNum uint64) (l1, l2 int) {
	return int(pageNum>>L2Bits) & (L1Size - 1), int(pageNum) & (L2Size - 1)
}

// Get returns pageNum's descriptor, allocating it (defaulting PhysOffset to
// MMIOOffset) on first touch if create is true.
func (t *pageTrie) Get(pageNum uint64, create bool) (*PhysPageDesc, bool) {
	l1, l2 := split(pageNum)
	leaf := t.l1[l1]
	if leaf == nil {
		if !create {
			return nil, false
		}
		leaf = &[L2Size]*PhysPageDesc{}
		t.l1[l1] = leaf
	}
	d := leaf[l2]
	if d == nil {
		if !create {
			return nil, false
		}
		d = &PhysPageDesc{PhysOffset: MMIOOffset}
		leaf[l2] = d
	}
	return d, true
}

// PhysTable is the embedder-facing registry of physical page descriptors:
// RegisterRAM/RegisterMMIO are called once per memory region at machine
// setup, Describe is what TLB.SetPage's caller consults per page.
type PhysTable struct {
	trie *pageTrie
}

// NewPhysTable returns an empty physical-page descriptor table.
func NewPhysTable() *PhysTable { return &PhysTable{trie: newPageTrie()} }

// Registered reports whether addr's page has ever been passed to
// RegisterRAM/RegisterMMIO, distinguishing a deliberately-mapped MMIO page
// from an address nothing claimed (package exports' tlib_is_range_mapped
// needs this distinction; Describe alone collapses both cases to "MMIO").
func (p *PhysTable) Registered(addr uint64) bool {
	_, ok := p.trie.Get(addr>>PageBits, false)
	return ok
}

// Unregister clears addr's page back to its unmapped default, undoing
// whatever RegisterRAM/RegisterMMIO previously recorded for it.
func (p *PhysTable) Unregister(base, size uint64) {
	for addr := base; addr < base+size; addr += 1 << PageBits {
		pn := addr >> PageBits
		l1, l2 := split(pn)
		if leaf := p.trie.l1[l1]; leaf != nil {
			leaf[l2] = nil
		}
	}
}

// RegisterRAM marks every page in [base, base+size) as backed by host RAM
// at the given region/phys offsets, each page's offset advancing by
// PAGE_SIZE.
func (p *PhysTable) RegisterRAM(base, size uint64, regionOffset int64) {
	for addr := base; addr < base+size; addr += 1 << PageBits {
		pn := addr >> PageBits
		desc, _ := p.trie.Get(pn, true)
		desc.PhysOffset = int64(addr - base)
		desc.RegionOffset = regionOffset
		desc.SubPage = false
	}
}

// RegisterMMIO marks every page in [base, base+size) as MMIO-routed; if
// size does not cover a whole page, the partial page is tagged SubPage so
// every access re-validates instead of caching a translation.
func (p *PhysTable) RegisterMMIO(base, size uint64) {
	end := base + size
	for addr := base; addr < end; addr += 1 << PageBits {
		pn := addr >> PageBits
		desc, _ := p.trie.Get(pn, true)
		desc.PhysOffset = MMIOOffset
		desc.SubPage = (end-addr < 1<<PageBits) || (size < 1<<PageBits)
	}
}

// Describe returns the descriptor for the page containing addr, or a
// transient MMIO-tagged descriptor if no region was ever registered there
// (an unmapped access; the embedder's MMIOHandler is expected to reject it).
func (p *PhysTable) Describe(addr uint64) *PhysPageDesc {
	pn := addr >> PageBits
	if desc, ok := p.trie.Get(pn, false); ok {
		return desc
	}
	return &PhysPageDesc{PhysOffset: MMIOOffset}
}

// SetHasCode records (or clears) the presence of translated code on addr's
// page, so future TLB.SetPage calls know whether to tag writes NOTDIRTY.
func (p *PhysTable) SetHasCode(addr uint64, hasCode bool) {
	pn := addr >> PageBits
	desc, _ := p.trie.Get(pn, true)
	desc.HasCode = hasCode
}
