/*
 * tlibcore - translation block representation (§3, §4.1, §4.2)
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

// Package tb is the translation-block manager: it owns TB allocation inside
// a code arena, the physical-address hash and per-page chains used to find
// and invalidate blocks, the direct-jump chaining between blocks, and the
// LEB128 state-restoration search table consumed on exception/interrupt
// entry (§4.1, §4.2).
package tb

import (
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
)

// NoTB is the "no block" sentinel used by every TB-index-valued field below
// (page chains, physical-hash chains, jump-cache slots).
const NoTB = -1

// PageAddrNone marks TranslationBlock.PageAddr[i] unused -- a block that
// spans only one guest page leaves PageAddr[1] at this value (§3 "page_addr").
const PageAddrNone = ^uint64(0)

// ExitReason classifies how control left a translation block, driving the
// dispatcher's decision to chain, look up, or fall back to the interpreter
// loop (§4.2 "exit_tb argument").
type ExitReason int

const (
	// ExitNoJump means the block's control fell off the end without taking
	// either exit slot -- the dispatcher must do a full PC-based lookup.
	ExitNoJump ExitReason = iota
	// ExitJump means the block left through exit slot 0 or 1 and chaining
	// may apply; Slot identifies which.
	ExitJump
	// ExitForce means the block explicitly requested a return to the
	// dispatcher (pending interrupt, instruction-count limit, singlestep)
	// and chaining must not be attempted even if the target is known.
	ExitForce
)

// InboundLink names one directed edge of the inbound jump-chain list: the
// index of the source TB and which of its two exit slots (0 or 1) the
// direct branch lives in. The spec's own §9 design note prefers this
// (tb_index, slot) tagged-pair encoding over a raw bit-tagged intrusive
// pointer list, since Go has no portable way to steal tag bits from a
// pointer; an explicit slice of these pairs is the direct translation.
type InboundLink struct {
	Src  int
	Slot int
}

// TranslationBlock is one compiled unit of guest code (§3 "Translation
// Block"): the guest (pc, cs_base, flags) identity it was built for, its
// location in the code arena, the chains that let the manager find and
// invalidate it, and the outbound/inbound direct-jump links used to chain
// blocks together without returning to the dispatcher.
type TranslationBlock struct {
	// Index is this block's own position in Manager.tbs, stored redundantly
	// on the struct so code holding just a *TranslationBlock can still
	// reference it symmetrically (inbound/outbound links, jump cache).
	Index int

	// Identity this block was translated for; a lookup must match all three
	// before reusing a cached block (§3 "tb_find").
	PC     uint64
	CSBase uint64
	Flags  uint32
	CFlags uint32

	// DisasFlags mirrors flags at disassembly time for debug dumps; kept
	// distinct from Flags because some bits (e.g. singlestep) are folded
	// into CFlags instead of participating in the lookup key.
	DisasFlags uint32

	// TCOffset/CodeSize locate the emitted host word stream inside the code
	// arena (§3 "tc_ptr region"); TCSearch is the companion LEB128 state
	// table, PrevSize the chunk's arena-accounting size used when flushing.
	TCOffset  int
	CodeSize  int
	TCSearch  []byte
	PrevSize  int

	// Program is the AArch64 word stream this block lowers to; Manager
	// copies its bytes into the arena at TCOffset and keeps the Program
	// itself around for Interpret and for building TCSearch.
	Program *arm64.Program

	// Size is the guest byte length of the original instruction run;
	// ICount the number of guest instructions it covers (§3 "icount").
	Size   int
	ICount int

	// PageAddr holds the physical page number(s) this block's guest code
	// occupies -- one entry if the block doesn't cross a page boundary,
	// two if it does. Unused entries are PageAddrNone.
	PageAddr [2]uint64

	// PhysHashNext chains this block into Manager.physHash's bucket list
	// for PageAddr[0]'s hash, NoTB-terminated (§3 "phys hash table").
	PhysHashNext int

	// PageNext chains this block into each occupied page's PageDesc.TBHead
	// list, parallel to PageAddr (§3 "page_next").
	PageNext [2]int

	// OutJump names the block this TB's two exit slots currently chain
	// directly to, NoTB if the slot is still an exit back to the
	// dispatcher (§4.2 "tb_add_jump").
	OutJump [2]int

	// Inbound lists every (src, slot) edge currently chained to this
	// block, so invalidation/unchaining can walk backwards without a
	// full-table scan (§4.2, §9 design note).
	Inbound []InboundLink

	// DirtyFlag marks a block invalidated by a write to its guest code
	// (self-modifying code, §4.6) but not yet reclaimed from the arena.
	DirtyFlag bool

	// WasCut records whether this block's tail was truncated by a
	// page-boundary split during InvalidatePhysPageRange (diagnostic only).
	WasCut bool

	// Valid is false once PhysInvalidate has processed this block; a stale
	// host PC resolving to an invalid block must fall back to full lookup.
	Valid bool
}

// HasTwoPages reports whether this block's code spans two guest pages.
func (t *TranslationBlock) HasTwoPages() bool {
	return t.PageAddr[1] != PageAddrNone
}

// Pc satisfies cpustate.TBHandle so a *TranslationBlock can be stored
// directly in a CPUState's jump cache without package tb importing
// cpustate's concrete type (cpustate already avoids importing tb to break
// the cycle the other way).
func (t *TranslationBlock) Pc() uint64 { return t.PC }
