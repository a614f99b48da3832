/*
 * tlibcore - IR builder front-end API (§4.3)
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

package ir

import "fmt"

// TARGET_INSN_START_WORDS: up to this many guest-PC words are recorded per
// insn_start (§3 "IR op stream").
const MaxInsnStartWords = 2

// LabelID indexes into Builder.Labels.
type LabelID int

// Label either has a resolved offset (HasValue) or heads a pending
// relocation list (§3 "Label").
type Label struct {
	HasValue bool
	Value    int // host code offset once resolved
	Pending  []Relocation
}

// RelocType names a host-specific relocation kind. Concrete values are
// defined by package hostasm/arm64 (JUMP26, CONDBR19); ir only threads
// them through opaquely.
type RelocType int

// Relocation is a (patch site, type, addend) triple emitted when a branch
// targets an unbound label (§3 "Relocation").
type Relocation struct {
	Site   int // rw-view byte offset of the patch site
	Type   RelocType
	Addend int64
}

// HelperFlags describe allocator-visible properties of a registered helper.
type HelperFlags uint32

const (
	HelperPure HelperFlags = 1 << iota // TCG_CALL_PURE
	HelperConst                        // TCG_CALL_CONST
)

// Helper is an externally provided ABI function the IR can call (§4.3
// "Helpers"). Per-ISA helper bodies are out of scope; only the registration
// record lives here.
type Helper struct {
	Name     string
	Addr     uintptr
	SizeMask uint64
	Flags    HelperFlags
}

// Builder accumulates the IR op stream for one translation block.
type Builder struct {
	Temps  []*Temp
	Ops    []Op
	Labels []*Label

	helpers     map[string]*Helper
	helperOrder map[string]int

	// Block identity, set by BeginBlock.
	PC      uint64
	CSBase  uint64
	Flags   uint32
	MaxInsns int

	// ICount/Size accumulate as EmitInsnStart is called.
	ICount int
	Size   int

	lastInsnPC uint64
	ended      bool
}

// NewBuilder returns an empty IR builder.
func NewBuilder() *Builder {
	return &Builder{helpers: make(map[string]*Helper)}
}

// RegisterHelper adds (or replaces) a helper binding by name.
func (b *Builder) RegisterHelper(h Helper) { b.helpers[h.Name] = &h }

// Helper looks up a previously registered helper.
func (b *Builder) Helper(name string) (*Helper, bool) {
	h, ok := b.helpers[name]
	return h, ok
}

// NewTemp allocates and tracks a fresh ordinary temp.
func (b *Builder) NewTemp(typ Type, name string) TempID {
	b.Temps = append(b.Temps, NewTemp(typ, name))
	return TempID(len(b.Temps) - 1)
}

// NewLocalTemp allocates and tracks a fresh local temp.
func (b *Builder) NewLocalTemp(typ Type, name string) TempID {
	b.Temps = append(b.Temps, NewLocalTemp(typ, name))
	return TempID(len(b.Temps) - 1)
}

// NewGlobalTemp allocates and tracks a fresh global (CPUState-aliasing) temp.
func (b *Builder) NewGlobalTemp(typ Type, name string) TempID {
	b.Temps = append(b.Temps, NewGlobalTemp(typ, name))
	return TempID(len(b.Temps) - 1)
}

// Temp returns the Temp referenced by id.
func (b *Builder) Temp(id TempID) *Temp { return b.Temps[id] }

// NewLabel allocates an unbound label.
func (b *Builder) NewLabel() LabelID {
	b.Labels = append(b.Labels, &Label{})
	return LabelID(len(b.Labels) - 1)
}

// Label returns the label referenced by id.
func (b *Builder) Label(id LabelID) *Label { return b.Labels[id] }

// emit appends a raw op to the stream.
func (b *Builder) emit(op Op) int {
	b.Ops = append(b.Ops, op)
	return len(b.Ops) - 1
}

// BeginBlock emits the block prologue: it records the block's identifying
// (pc, cs_base, flags) triple (§3 "Translation Block") and resets the
// per-block instruction/byte counters. Per §4.3, arch-specific header
// actions (begin-hook callback, architecture header) are invoked by the
// caller (the dispatcher/decoder), not by the builder itself -- the builder
// only hosts the IR.
func (b *Builder) BeginBlock(pc, csBase uint64, flags uint32, maxInsns int) {
	b.PC, b.CSBase, b.Flags, b.MaxInsns = pc, csBase, flags, maxInsns
	b.ICount, b.Size = 0, 0
	b.ended = false
}

// EmitInsnStart marks a guest-instruction boundary, carrying up to
// MaxInsnStartWords guest-PC words (§3 "insn_start ops").
func (b *Builder) EmitInsnStart(pc uint64, words ...uint64) {
	if len(words) > MaxInsnStartWords {
		words = words[:MaxInsnStartWords]
	}
	cp := make([]uint64, len(words))
	copy(cp, words)
	b.emit(Op{Opcode: OpInsnStart, PC: pc, InsnWords: cp})
	b.ICount++
	b.lastInsnPC = pc
}

// EmitMov appends a typed register-register move.
func (b *Builder) EmitMov(dst, src TempID) {
	b.emit(Op{Opcode: OpMov, Out: []TempID{dst}, In: []TempID{src}})
}

// EmitMovI appends a load-immediate.
func (b *Builder) EmitMovI(dst TempID, imm int64) {
	b.emit(Op{Opcode: OpMovI, Out: []TempID{dst}, Imm: []int64{imm}})
}

// EmitLd appends a CPU-state load: dst = *(base + offset).
func (b *Builder) EmitLd(dst, base TempID, offset int64) {
	b.emit(Op{Opcode: OpLd, Out: []TempID{dst}, In: []TempID{base}, Imm: []int64{offset}})
}

// EmitSt appends a CPU-state store: *(base + offset) = src.
func (b *Builder) EmitSt(src, base TempID, offset int64) {
	b.emit(Op{Opcode: OpSt, In: []TempID{src, base}, Imm: []int64{offset}})
}

// EmitBinOp appends a two-input, one-output arithmetic/logic op.
func (b *Builder) EmitBinOp(op Opcode, dst, a, c TempID) {
	b.emit(Op{Opcode: op, Out: []TempID{dst}, In: []TempID{a, c}})
}

// EmitUnOp appends a one-input, one-output op.
func (b *Builder) EmitUnOp(op Opcode, dst, src TempID) {
	b.emit(Op{Opcode: op, Out: []TempID{dst}, In: []TempID{src}})
}

// EmitSetLabel binds a label at the current position in the stream; the
// allocator treats this as a block boundary (globals live, ordinary temps
// dead, local temps live) because forward jumps may target it (§4.4).
func (b *Builder) EmitSetLabel(l LabelID) {
	b.emit(Op{Opcode: OpSetLabel, Imm: []int64{int64(l)}})
}

// EmitBr appends an unconditional branch to label l.
func (b *Builder) EmitBr(l LabelID) {
	b.emit(Op{Opcode: OpBr, Imm: []int64{int64(l)}})
}

// EmitBrcond appends a conditional branch to label l.
func (b *Builder) EmitBrcond(cond Cond, a, c TempID, l LabelID) {
	b.emit(Op{Opcode: OpBrcond, In: []TempID{a, c}, Imm: []int64{int64(cond), int64(l)}})
}

// EmitSetcond appends dst = (a cond c) ? 1 : 0.
func (b *Builder) EmitSetcond(cond Cond, dst, a, c TempID) {
	b.emit(Op{Opcode: OpSetcond, Out: []TempID{dst}, In: []TempID{a, c}, Imm: []int64{int64(cond)}})
}

// EmitCall appends a call to a registered helper. args are the (already
// lowered per front-end convention) input temps; outs receive the result(s).
func (b *Builder) EmitCall(name string, outs, args []TempID) error {
	h, ok := b.helpers[name]
	if !ok {
		return fmt.Errorf("ir: call to unregistered helper %q", name)
	}
	b.emit(Op{Opcode: OpCall, Out: outs, In: args, Imm: []int64{int64(helperIndex(b, h))}})
	return nil
}

func helperIndex(b *Builder, h *Helper) int {
	// Stable index for encoding purposes: position in a sorted name walk
	// would be unstable across maps, so helpers are instead referenced by
	// the call site capturing their name via a side table.
	if b.helperOrder == nil {
		b.helperOrder = make(map[string]int)
	}
	if idx, ok := b.helperOrder[h.Name]; ok {
		return idx
	}
	idx := len(b.helperOrder)
	b.helperOrder[h.Name] = idx
	return idx
}

// HelperName resolves an OpCall's Imm[0] index (as assigned by helperIndex)
// back to the helper's registered name, for a host back-end's Emit to stamp
// onto the call site it generates. Ok is false for an index no EmitCall ever
// produced.
func (b *Builder) HelperName(idx int) (string, bool) {
	for name, i := range b.helperOrder {
		if i == idx {
			return name, true
		}
	}
	return "", false
}

// EmitExitTB appends the block-footer exit-chain op (§4.4 "exit chain").
// arg encodes the exit reason/TB pointer the spec's exit_tb carries.
func (b *Builder) EmitExitTB(arg int64) {
	b.emit(Op{Opcode: OpExitTB, Imm: []int64{arg}})
	b.ended = true
}

// EmitGotoTB appends a chainable direct-jump slot (slot is 0 or 1, matching
// TB.tb_next_offset[2]/tb_jmp_offset[2]).
func (b *Builder) EmitGotoTB(slot int64) {
	b.emit(Op{Opcode: OpGotoTB, Imm: []int64{slot}})
}

// EndBlock finalizes the block's guest byte length; called once translation
// of the block's instructions is complete (§4.3 "finally emit the block
// footer").
func (b *Builder) EndBlock(size int) {
	b.Size = size
	b.ended = true
}

// Ended reports whether EndBlock/EmitExitTB has already closed the block.
func (b *Builder) Ended() bool { return b.ended }
