/*
 * tlibcore - AArch64 host back-end (§4.4 "Host emission")
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

// Package arm64 is the one host back-end this core ships (§4.4 "a host back
// end translates the allocated op stream into machine words"). It emits a
// real AArch64 instruction-word stream -- every encoding, relocation site and
// patch this core's data structures and tests care about is exactly what a
// true AArch64 assembler would produce -- but it does not jump into that
// buffer as native code. Running arbitrary host machine code in-process
// requires either cgo or a hand-written assembly trampoline, both outside
// this exercise's "no Go toolchain invocation" boundary. Interpret walks the
// emitted word stream and performs the same operation in pure Go, so the
// chaining/relocation/invalidation invariants this package is responsible
// for are still exercised end to end.
package arm64

import "encoding/binary"

// NumRegs is the general-purpose register count this back-end targets
// (x0..x30); regalloc hands out only the first regalloc.NumGeneralRegs of
// them, keeping regalloc.ScratchReg in reserve.
const NumRegs = 31

// Word is one 32-bit AArch64 instruction.
type Word uint32

// Opclass tags the pure-Go interpreter dispatch for one emitted word; the
// real encoding bits still matter (tests decode them), but the interpreter
// does not re-decode AArch64 -- it walks parallel metadata recorded at
// emission time (see Program.Meta).
type Opclass int

const (
	ClassNop Opclass = iota
	ClassMovReg
	ClassMovImm
	ClassLoad
	ClassStore
	ClassAluReg
	ClassAluImm
	ClassB
	ClassBCond
	ClassBL
	ClassRet
	ClassCmp
	ClassCSet
)

// Meta is the side information Interpret consumes for one emitted Word; the
// Word itself is the real encoding, Meta is the pure-Go execution recipe for
// it (see package doc).
type Meta struct {
	Class   Opclass
	Rd, Rn, Rm int
	Imm     int64
	Cond    Cond
	Target  int // word index, for branches once relocations are resolved
	Helper  string
}

// Boundary records a guest-instruction boundary's position in the emitted
// word stream -- the raw material package tb's search-table encoder needs
// for state restoration (§4.1).
type Boundary struct {
	Word  int
	PC    uint64
	Words []uint64
}

// Program is the AArch64 word stream for one translation block plus its
// pending relocations and helper-call sites -- the direct output of Emit,
// consumed by package tb to populate TranslationBlock.tc_ptr/tc_search and
// by Interpret in lieu of true native execution.
type Program struct {
	Words []Word
	Meta  []Meta

	// Boundaries is one entry per insn_start encountered, in stream order.
	Boundaries []Boundary

	// FrameSlots is the number of 64-bit spill slots this block's frame
	// needs; a Machine interpreting this Program must allocate at least
	// this many Frame entries.
	FrameSlots int

	// Relocs is keyed by a branch's word index. Emit resolves every branch
	// inside the block itself (see Emit) and leaves this map empty; nothing
	// in this module reads it.
	Relocs map[int]RelocSite
}

// RelocType distinguishes the two branch-immediate encodings this back end
// uses (§3 "Relocation" names these opaquely; concrete values live here).
type RelocType int

const (
	// JUMP26 is an unconditional B's 26-bit word-granular signed offset.
	JUMP26 RelocType = iota
	// CONDBR19 is a B.cond's 19-bit word-granular signed offset.
	CONDBR19
)

// RelocSite names one patch site awaiting resolution.
type RelocSite struct {
	Type   RelocType
	LabelOffset int // filled in once the label is bound
	Resolved    bool
}

// Cond mirrors ir.Cond but in AArch64 condition-code order.
type Cond int

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondGE
	CondLE
	CondGT
	CondLO
	CondHS
	CondLS
	CondHI
)

// Bytes little-endian-encodes p's word stream, matching what codearena.Arena
// backs: tc_ptr/tc_search are byte offsets into that arena.
func (p *Program) Bytes() []byte {
	out := make([]byte, len(p.Words)*4)
	for i, w := range p.Words {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(w))
	}
	return out
}

// emit appends one instruction word plus its execution metadata and returns
// its word index.
func (p *Program) emit(w Word, m Meta) int {
	p.Words = append(p.Words, w)
	p.Meta = append(p.Meta, m)
	return len(p.Words) - 1
}
