/*
 * tlibcore - IR opcode stream (§4.3 "Operation families")
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

// Opcode names one IR op. The set below realizes the families listed in
// spec.md §4.3: moves/constants, CPU-state loads/stores, integer
// arithmetic, control, guest memory accesses and atomics. Vector ops are
// gated behind host capability and are not modeled in this core (no host
// back-end here declares TCG_TARGET_MAYBE_vec).
type Opcode int

const (
	OpMov Opcode = iota
	OpMovI

	OpLd
	OpSt

	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpNot
	OpShl
	OpShr
	OpSar
	OpRotl
	OpRotr
	OpExt8u
	OpExt8s
	OpExt16u
	OpExt16s
	OpExt32u
	OpExt32s
	OpBswap16
	OpBswap32
	OpBswap64
	OpDiv
	OpRem

	OpBr
	OpBrcond
	OpSetcond
	OpMovcond
	OpCall
	OpExitTB
	OpGotoTB
	OpSetLabel
	OpInsnStart
	OpDiscard
	OpMB

	OpQemuLd
	OpQemuSt

	OpAtomicFetchAdd
	OpAtomicCAS

	opCount
)

// OpFlags describe side-effect and ordering properties of an op.
type OpFlags uint32

const (
	SideEffects OpFlags = 1 << iota
	BBEnd
	CallClobber
	NotPresent
)

// OpDef is the static arity/flags table entry for one opcode (§4.3: "Each op
// is declared with the number of output args, input args, constant args,
// and flags").
type OpDef struct {
	Name    string
	NbOut   int
	NbIn    int
	NbConst int
	Flags   OpFlags

	// Alias marks ops whose Out[0] must be allocated the same host
	// register as In[0] (TCG_CT_IALIAS, §4.4 allocation step 2) -- the
	// common shape on two-operand-style host ISAs for unary/bit-twiddle
	// ops.
	Alias bool
}

// Cond is a comparison condition for brcond/setcond/movcond.
type Cond int

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondGE
	CondLE
	CondGT
	CondLTU
	CondGEU
	CondLEU
	CondGTU
)

var opDefs = [opCount]OpDef{
	OpMov:            {Name: "mov", NbOut: 1, NbIn: 1},
	OpMovI:           {Name: "movi", NbOut: 1, NbConst: 1},
	OpLd:             {Name: "ld", NbOut: 1, NbIn: 1, NbConst: 1},
	OpSt:             {Name: "st", NbIn: 2, NbConst: 1, Flags: SideEffects},
	OpAdd:            {Name: "add", NbOut: 1, NbIn: 2},
	OpSub:            {Name: "sub", NbOut: 1, NbIn: 2},
	OpMul:            {Name: "mul", NbOut: 1, NbIn: 2},
	OpAnd:            {Name: "and", NbOut: 1, NbIn: 2},
	OpOr:             {Name: "or", NbOut: 1, NbIn: 2},
	OpXor:            {Name: "xor", NbOut: 1, NbIn: 2},
	OpNeg:            {Name: "neg", NbOut: 1, NbIn: 1, Alias: true},
	OpNot:            {Name: "not", NbOut: 1, NbIn: 1, Alias: true},
	OpShl:            {Name: "shl", NbOut: 1, NbIn: 2},
	OpShr:            {Name: "shr", NbOut: 1, NbIn: 2},
	OpSar:            {Name: "sar", NbOut: 1, NbIn: 2},
	OpRotl:           {Name: "rotl", NbOut: 1, NbIn: 2},
	OpRotr:           {Name: "rotr", NbOut: 1, NbIn: 2},
	OpExt8u:          {Name: "ext8u", NbOut: 1, NbIn: 1, Alias: true},
	OpExt8s:          {Name: "ext8s", NbOut: 1, NbIn: 1, Alias: true},
	OpExt16u:         {Name: "ext16u", NbOut: 1, NbIn: 1, Alias: true},
	OpExt16s:         {Name: "ext16s", NbOut: 1, NbIn: 1, Alias: true},
	OpExt32u:         {Name: "ext32u", NbOut: 1, NbIn: 1, Alias: true},
	OpExt32s:         {Name: "ext32s", NbOut: 1, NbIn: 1, Alias: true},
	OpBswap16:        {Name: "bswap16", NbOut: 1, NbIn: 1, Alias: true},
	OpBswap32:        {Name: "bswap32", NbOut: 1, NbIn: 1, Alias: true},
	OpBswap64:        {Name: "bswap64", NbOut: 1, NbIn: 1, Alias: true},
	OpDiv:            {Name: "div", NbOut: 1, NbIn: 2, Flags: SideEffects},
	OpRem:            {Name: "rem", NbOut: 1, NbIn: 2, Flags: SideEffects},
	OpBr:             {Name: "br", NbConst: 1, Flags: BBEnd | SideEffects},
	OpBrcond:         {Name: "brcond", NbIn: 2, NbConst: 2, Flags: BBEnd | SideEffects},
	OpSetcond:        {Name: "setcond", NbOut: 1, NbIn: 2, NbConst: 1},
	OpMovcond:        {Name: "movcond", NbOut: 1, NbIn: 4, NbConst: 1},
	OpCall:           {Name: "call", NbOut: -1, NbIn: -1, NbConst: 2, Flags: SideEffects | CallClobber},
	OpExitTB:         {Name: "exit_tb", NbConst: 1, Flags: BBEnd | SideEffects},
	OpGotoTB:         {Name: "goto_tb", NbConst: 1, Flags: BBEnd | SideEffects},
	OpSetLabel:       {Name: "set_label", NbConst: 1, Flags: BBEnd | SideEffects},
	OpInsnStart:      {Name: "insn_start", NbConst: -1, Flags: SideEffects},
	OpDiscard:        {Name: "discard", NbIn: 1},
	OpMB:             {Name: "mb", NbConst: 1, Flags: SideEffects},
	OpQemuLd:         {Name: "qemu_ld", NbOut: 1, NbIn: 1, NbConst: 1, Flags: SideEffects},
	OpQemuSt:         {Name: "qemu_st", NbIn: 2, NbConst: 1, Flags: SideEffects},
	OpAtomicFetchAdd: {Name: "atomic_fetch_add", NbOut: 1, NbIn: 2, NbConst: 1, Flags: SideEffects | CallClobber},
	OpAtomicCAS:      {Name: "atomic_cas", NbOut: 1, NbIn: 3, NbConst: 1, Flags: SideEffects | CallClobber},
}

// Def returns the static definition of op.
func Def(op Opcode) OpDef { return opDefs[op] }

// Op is one entry in the flat IR op stream: a tag plus its argument lists.
// Call ops use variadic Out/In (NbOut/NbIn == -1 in their OpDef); all other
// ops have fixed arity matching their OpDef.
type Op struct {
	Opcode Opcode
	Out    []TempID
	In     []TempID
	Imm    []int64 // constant args (label ids, conditions, widths, helper index...)

	// DeadArgs is filled in by the liveness pass (package regalloc):
	// bit i set means In[i] (or, for outputs overlapping inputs, the
	// matching temp) is dead immediately after this op.
	DeadArgs uint32

	// PC is the guest instruction pointer this insn_start marks (§4.1 state
	// restoration walks these to rebuild the guest PC for a given host PC).
	PC uint64

	// InsnWords carries up to MaxInsnStartWords guest-PC-adjacent words for
	// insn_start ops (condition codes, a second PC half on 32-bit targets...).
	InsnWords []uint64
}
