/*
 * tlibcore - soft TLB (§4.6)
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

// Package softtlb is the per-CPU, per-MMU-index direct-mapped guest→host
// address cache generated memory accesses go through (§4.6), plus the
// physical-page descriptor table that backs it: RAM vs. MMIO routing and
// self-modifying-code dirty tracking.
package softtlb

// PageBits is the guest page shift, matching package tb's.
const PageBits = 12

// IndexBits/Size size the direct-mapped per-MMU-index TLB (CPU_TLB_BITS).
const (
	IndexBits = 8
	Size      = 1 << IndexBits
)

// NumMMUIndices is the number of independent TLB sets a CPU carries (one
// per privilege/addressing mode the guest architecture distinguishes,
// e.g. supervisor vs. user, primary vs. home on S/370-style architectures).
const NumMMUIndices = 4

// Flag bits tag an Entry's addend/tag pair with why the fast path must not
// be taken (§4.6 "Low bits of the tag encode MMIO, not-dirty, one-shot,
// invalid, and executable-IO flags").
type Flag uint8

const (
	FlagInvalid Flag = 1 << iota
	FlagMMIO
	FlagNotDirty
	FlagOneShot
	FlagCode
)

// pageMask clears the flag bits packed into the low bits of a tag, leaving
// the page-aligned guest address.
const pageMask = ^uint64(1<<PageBits - 1)

// Entry is one soft-TLB slot: three independently tagged guest addresses
// (read/write/code) sharing one addend, exactly as §4.6 describes. A tag
// of AddrInvalid (all ones) means that access kind was never installed for
// this slot.
type Entry struct {
	AddrRead  uint64
	AddrWrite uint64
	AddrCode  uint64
	Addend    int64

	ReadFlags  Flag
	WriteFlags Flag
	CodeFlags  Flag
}

// AddrInvalid is the sentinel tag value meaning "this access kind has never
// been installed in this slot".
const AddrInvalid = ^uint64(0)

// NewEntry returns an entry with every access kind tagged invalid.
func NewEntry() Entry {
	return Entry{AddrRead: AddrInvalid, AddrWrite: AddrInvalid, AddrCode: AddrInvalid}
}

// TLB is the full per-CPU soft-TLB: one direct-mapped set per MMU index.
type TLB struct {
	sets [NumMMUIndices][Size]Entry
}

// New returns a TLB with every slot tagged invalid.
func New() *TLB {
	t := &TLB{}
	t.Flush()
	return t
}

func index(addr uint64) int {
	return int((addr >> PageBits) & (Size - 1))
}

func pageOf(addr uint64) uint64 { return addr &^ (1<<PageBits - 1) }

// Flush invalidates every slot in every MMU index's set (full TLB flush,
// e.g. on a guest ASID/segment-table-pointer change).
func (t *TLB) Flush() {
	for mmu := range t.sets {
		for i := range t.sets[mmu] {
			t.sets[mmu][i] = NewEntry()
		}
	}
}

// FlushPage invalidates the slot vaddr's page occupies in every MMU index's
// set (tlb_flush_page), leaving unrelated slots untouched.
func (t *TLB) FlushPage(vaddr uint64) {
	i := index(vaddr)
	page := pageOf(vaddr)
	for mmu := range t.sets {
		e := &t.sets[mmu][i]
		if pageOf(e.AddrRead) == page {
			e.AddrRead = AddrInvalid
		}
		if pageOf(e.AddrWrite) == page {
			e.AddrWrite = AddrInvalid
		}
		if pageOf(e.AddrCode) == page {
			e.AddrCode = AddrInvalid
		}
	}
}

// LookupRead/LookupWrite/LookupCode are the fast path generated
// qemu_ld/qemu_st/code-fetch ops use: on a tag hit with no disqualifying
// flag, host = guest + addend is returned directly with ok=true. Any miss
// or flagged entry returns ok=false and the caller must fall through to
// the slow path (§4.6 "On miss or any special flag ... fall through").

func (t *TLB) LookupRead(mmuIdx int, vaddr uint64) (host uint64, ok bool) {
	e := &t.sets[mmuIdx][index(vaddr)]
	if pageOf(e.AddrRead) != pageOf(vaddr) || e.ReadFlags != 0 {
		return 0, false
	}
	return uint64(int64(vaddr) + e.Addend), true
}

func (t *TLB) LookupWrite(mmuIdx int, vaddr uint64) (host uint64, ok bool) {
	e := &t.sets[mmuIdx][index(vaddr)]
	if pageOf(e.AddrWrite) != pageOf(vaddr) || e.WriteFlags != 0 {
		return 0, false
	}
	return uint64(int64(vaddr) + e.Addend), true
}

func (t *TLB) LookupCode(mmuIdx int, vaddr uint64) (host uint64, ok bool) {
	e := &t.sets[mmuIdx][index(vaddr)]
	if pageOf(e.AddrCode) != pageOf(vaddr) || e.CodeFlags != 0 {
		return 0, false
	}
	return uint64(int64(vaddr) + e.Addend), true
}

// SetPage installs a translation for vaddr's page in mmuIdx's set
// (tlb_set_page): addend is the guest-to-host displacement, readFlags/
// writeFlags/codeFlags carry whichever of FlagMMIO/FlagNotDirty/
// FlagOneShot the caller determined (by consulting the physical-page
// descriptor, see PhysTable) apply to each access kind independently --
// e.g. a NOTDIRTY page is readable and executable at full speed but every
// write must still take the slow path (§4.6 "tlb_set_page decides MMIO vs
// RAM... NOTDIRTY").
func (t *TLB) SetPage(mmuIdx int, vaddr uint64, addend int64, readFlags, writeFlags, codeFlags Flag) {
	i := index(vaddr)
	page := pageOf(vaddr)
	e := &t.sets[mmuIdx][i]
	*e = Entry{
		AddrRead:   page,
		AddrWrite:  page,
		AddrCode:   page,
		Addend:     addend,
		ReadFlags:  readFlags,
		WriteFlags: writeFlags,
		CodeFlags:  codeFlags,
	}
}
