/*
 * tlibcore - lowering regalloc.Result into an AArch64 Program
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

package arm64

import (
	"fmt"

	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/regalloc"
)

// frameReg is the fixed register the allocator's spill slots live relative
// to (the TB's private stack frame, set up by the prologue trampoline).
const frameReg = 29 // conventional AArch64 frame pointer, x29

// condOf maps ir.Cond to its AArch64 encoding; the two orderings coincide
// except for naming, kept as an explicit table rather than a cast so a
// future divergence is a one-line change, not a silent bug (§4.3 "Cond").
var condOf = [...]Cond{
	ir.CondEQ:  CondEQ,
	ir.CondNE:  CondNE,
	ir.CondLT:  CondLT,
	ir.CondGE:  CondGE,
	ir.CondLE:  CondLE,
	ir.CondGT:  CondGT,
	ir.CondLTU: CondLO,
	ir.CondGEU: CondHS,
	ir.CondLEU: CondLS,
	ir.CondGTU: CondHI,
}

// frame tracks which stack slot each spilled temp owns, assigning new slots
// lazily on first spill (the allocator may spill the same temp more than
// once across a block).
type frame struct {
	slots map[ir.TempID]uint32
	next  uint32
}

func newFrame() *frame { return &frame{slots: make(map[ir.TempID]uint32)} }

func (f *frame) slotOf(id ir.TempID) uint32 {
	if off, ok := f.slots[id]; ok {
		return off
	}
	off := f.next
	f.slots[id] = off
	f.next++
	return off
}

// pendingBranch is a forward branch awaiting its target label's word offset.
type pendingBranch struct {
	word  int
	label ir.LabelID
	typ   RelocType
	cond  Cond
}

// Emit lowers an allocated instruction stream into an AArch64 Program,
// resolving branches to already-bound labels directly and patching each
// forward branch once the whole stream has been walked; a branch to a
// label that is never bound is an error. No RelocSite is recorded.
func Emit(b *ir.Builder, res *regalloc.Result) (*Program, error) {
	p := &Program{Relocs: make(map[int]RelocSite)}
	fr := newFrame()

	// labelWord records the word index a label resolves to, once known;
	// pendingBranches records (word index, label id, reloc type) for
	// forward references that must be patched after the whole stream is
	// walked.
	labelWord := make(map[ir.LabelID]int)
	var pendingBranches []pendingBranch

	for _, instr := range res.Instrs {
		switch instr.Kind {
		case regalloc.KindSpill:
			off := fr.slotOf(instr.Temp)
			p.emit(encStr(instr.Reg, frameReg, off), Meta{Class: ClassStore, Rd: instr.Reg, Rn: frameReg, Imm: int64(off)})

		case regalloc.KindReload:
			off := fr.slotOf(instr.Temp)
			p.emit(encLdr(instr.Reg, frameReg, off), Meta{Class: ClassLoad, Rd: instr.Reg, Rn: frameReg, Imm: int64(off)})

		case regalloc.KindMaterialize:
			if instr.SrcReg >= 0 {
				p.emit(encMovReg(instr.Reg, instr.SrcReg), Meta{Class: ClassMovReg, Rd: instr.Reg, Rm: instr.SrcReg})
				continue
			}
			t := b.Temp(instr.Temp)
			emitMovImm(p, instr.Reg, uint64(t.ConstValue))

		case regalloc.KindOp:
			if err := emitOp(b, p, instr, labelWord, &pendingBranches); err != nil {
				return nil, err
			}
		}
	}

	for _, pb := range pendingBranches {
		target, ok := labelWord[pb.label]
		if !ok {
			return nil, fmt.Errorf("hostasm/arm64: label %d never bound", pb.label)
		}
		offset := int32(target - pb.word)
		switch pb.typ {
		case JUMP26:
			p.Words[pb.word] = encB(offset)
		case CONDBR19:
			p.Words[pb.word] = encBCond(pb.cond, offset)
		}
	}

	p.FrameSlots = int(fr.next)
	return p, nil
}

// emitMovImm materializes a 64-bit constant via up to four MOVZ/MOVK
// instructions (the standard AArch64 idiom for an arbitrary immediate).
func emitMovImm(p *Program, rd int, imm uint64) {
	first := true
	any := false
	for shift := uint32(0); shift < 4; shift++ {
		chunk := uint16(imm >> (shift * 16))
		if chunk == 0 && shift != 3 {
			continue
		}
		if first {
			p.emit(encMovzImm16(rd, chunk, shift), Meta{Class: ClassMovImm, Rd: rd, Imm: int64(chunk) << (shift * 16)})
			first = false
			any = true
		} else {
			p.emit(encMovkImm16(rd, chunk, shift), Meta{Class: ClassMovImm, Rd: rd, Imm: int64(chunk) << (shift * 16)})
		}
	}
	if !any {
		p.emit(encMovzImm16(rd, 0, 0), Meta{Class: ClassMovImm, Rd: rd})
	}
}

func emitOp(b *ir.Builder, p *Program, instr regalloc.Instr, labelWord map[ir.LabelID]int, pendingBranches *[]pendingBranch) error {
	op := instr.Op
	switch op.Opcode {
	case ir.OpMov:
		p.emit(encMovReg(instr.OutRegs[0], instr.InRegs[0]), Meta{Class: ClassMovReg, Rd: instr.OutRegs[0], Rm: instr.InRegs[0]})

	case ir.OpMovI:
		emitMovImm(p, instr.OutRegs[0], uint64(op.Imm[0]))

	case ir.OpLd:
		p.emit(encLdr(instr.OutRegs[0], instr.InRegs[0], uint32(op.Imm[0]/8)),
			Meta{Class: ClassLoad, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Imm: op.Imm[0]})

	case ir.OpSt:
		p.emit(encStr(instr.InRegs[0], instr.InRegs[1], uint32(op.Imm[0]/8)),
			Meta{Class: ClassStore, Rd: instr.InRegs[0], Rn: instr.InRegs[1], Imm: op.Imm[0]})

	case ir.OpAdd:
		p.emit(encAddReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpSub:
		p.emit(encSubReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpMul:
		p.emit(encMulReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpAnd:
		p.emit(encAndReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpOr:
		p.emit(encOrrReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpXor:
		p.emit(encEorReg(instr.OutRegs[0], instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: instr.InRegs[0], Rm: instr.InRegs[1]})

	case ir.OpNeg:
		p.emit(encSubReg(instr.OutRegs[0], 31, instr.InRegs[0]), // SUB Xd, XZR, Xn
			Meta{Class: ClassAluReg, Rd: instr.OutRegs[0], Rn: 31, Rm: instr.InRegs[0]})

	case ir.OpSetLabel:
		l := ir.LabelID(op.Imm[0])
		labelWord[l] = len(p.Words)

	case ir.OpBr:
		l := ir.LabelID(op.Imm[0])
		word := p.emit(encB(0), Meta{Class: ClassB})
		if target, ok := labelWord[l]; ok {
			p.Words[word] = encB(int32(target - word))
		} else {
			*pendingBranches = append(*pendingBranches, pendingBranch{word, l, JUMP26, 0})
		}

	case ir.OpBrcond:
		cond := condOf[ir.Cond(op.Imm[0])]
		l := ir.LabelID(op.Imm[1])
		p.emit(encSubsReg(31, instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassCmp, Rn: instr.InRegs[0], Rm: instr.InRegs[1]})
		word := p.emit(encBCond(cond, 0), Meta{Class: ClassBCond, Cond: cond})
		if target, ok := labelWord[l]; ok {
			p.Words[word] = encBCond(cond, int32(target-word))
		} else {
			*pendingBranches = append(*pendingBranches, pendingBranch{word, l, CONDBR19, cond})
		}

	case ir.OpSetcond:
		cond := condOf[ir.Cond(op.Imm[0])]
		p.emit(encSubsReg(31, instr.InRegs[0], instr.InRegs[1]),
			Meta{Class: ClassCmp, Rn: instr.InRegs[0], Rm: instr.InRegs[1]})
		p.emit(encCSet(instr.OutRegs[0], cond), Meta{Class: ClassCSet, Rd: instr.OutRegs[0], Cond: cond})

	case ir.OpCall:
		name, ok := b.HelperName(int(op.Imm[0]))
		if !ok {
			return fmt.Errorf("hostasm/arm64: call to unregistered helper index %d", op.Imm[0])
		}
		p.emit(encBL(0), Meta{Class: ClassBL, Helper: name})

	case ir.OpExitTB, ir.OpGotoTB:
		p.emit(encRet(30), Meta{Class: ClassRet, Imm: op.Imm[0]})

	case ir.OpInsnStart:
		p.Boundaries = append(p.Boundaries, Boundary{Word: len(p.Words), PC: op.PC, Words: op.InsnWords})
		p.emit(Word(0xD503201F), Meta{Class: ClassNop}) // NOP

	case ir.OpDiscard, ir.OpMB:
		p.emit(Word(0xD503201F), Meta{Class: ClassNop}) // NOP

	default:
		return fmt.Errorf("hostasm/arm64: unhandled opcode %v", op.Opcode)
	}
	return nil
}
