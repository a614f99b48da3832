/*
 * tlibcore - constraint-driven register allocation (§4.4 "Allocation")
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

package regalloc

import (
	"fmt"

	"github.com/openhw-tlib/tlibcore/ir"
)

// NumGeneralRegs is the size of the general-purpose allocatable register
// file modeled by this allocator: registers 0..15 of the 31 (x0..x30)
// hostasm/arm64 exposes as the canonical host back-end (§4.4).
const NumGeneralRegs = 16

// ScratchReg is reserved for materializing immediates that don't fit an
// instruction's immediate field (TCG_TMP_REG, §4.4 "Host emission").
const ScratchReg = NumGeneralRegs - 1

// Kind distinguishes the shape of one allocated micro-operation.
type Kind int

const (
	KindOp Kind = iota
	KindReload
	KindSpill
	KindMaterialize
)

// Instr is one allocated instruction: either a real IR op annotated with its
// chosen host registers, or a reload/spill/materialize glue instruction the
// allocator inserted.
type Instr struct {
	Kind Kind
	Op   ir.Op // valid when Kind == KindOp

	// OutRegs/InRegs give the host register chosen for each Out/In temp
	// of Op, in the same order. For Reload/Spill/Materialize, Reg and
	// Temp describe the single temp being moved.
	OutRegs []int
	InRegs  []int

	Temp ir.TempID
	Reg  int

	// SrcReg is set (>= 0) when a Materialize instruction is actually an
	// alias-copy from another live register (TCG_CT_IALIAS fan-out, §4.4
	// allocation step 2) rather than a load of Temp's constant value.
	SrcReg int
}

// Result is the allocator's output for one TB: the host-register-annotated
// instruction stream, ready for a host back-end to emit.
type Result struct {
	Instrs []Instr
}

type regFile struct {
	free [NumGeneralRegs]bool
}

func newRegFile() *regFile {
	rf := &regFile{}
	for i := range rf.free {
		rf.free[i] = true
	}
	rf.free[ScratchReg] = false // reserved, never handed out by alloc
	return rf
}

func (rf *regFile) alloc() (int, bool) {
	for i := 0; i < ScratchReg; i++ {
		if rf.free[i] {
			rf.free[i] = false
			return i, true
		}
	}
	return 0, false
}

func (rf *regFile) release(reg int) {
	if reg >= 0 && reg < NumGeneralRegs {
		rf.free[reg] = true
	}
}

// Allocate runs the forward constraint-driven allocation pass over b,
// producing a host-register-annotated instruction stream. It does not run
// liveness itself: b.Optimize() and Liveness(b) must already have been run
// (the caller -- package tb's TB builder pipeline -- sequences optimise →
// liveness → allocate, per §4.4).
func Allocate(b *ir.Builder) (*Result, error) {
	rf := newRegFile()
	res := &Result{}

	spill := func(id ir.TempID) {
		t := b.Temp(id)
		if t.Kind != ir.InReg {
			return
		}
		res.Instrs = append(res.Instrs, Instr{Kind: KindSpill, Temp: id, Reg: t.Reg})
		rf.release(t.Reg)
		t.Kind = ir.InMem
	}

	reload := func(id ir.TempID) (int, error) {
		t := b.Temp(id)
		reg, ok := rf.alloc()
		if !ok {
			return 0, fmt.Errorf("regalloc: out of registers reloading temp %d", id)
		}
		res.Instrs = append(res.Instrs, Instr{Kind: KindReload, Temp: id, Reg: reg})
		t.Kind = ir.InReg
		t.Reg = reg
		return reg, nil
	}

	materialize := func(id ir.TempID) (int, error) {
		t := b.Temp(id)
		reg, ok := rf.alloc()
		if !ok {
			return 0, fmt.Errorf("regalloc: out of registers materializing const temp %d", id)
		}
		res.Instrs = append(res.Instrs, Instr{Kind: KindMaterialize, Temp: id, Reg: reg, SrcReg: -1})
		t.Kind = ir.InReg
		t.Reg = reg
		return reg, nil
	}

	ensureReg := func(id ir.TempID) (int, error) {
		t := b.Temp(id)
		switch t.Kind {
		case ir.InReg:
			return t.Reg, nil
		case ir.InMem:
			return reload(id)
		case ir.Const:
			return materialize(id)
		default: // Dead: first touch, e.g. an uninitialized global -- give it a home
			reg, ok := rf.alloc()
			if !ok {
				return 0, fmt.Errorf("regalloc: out of registers allocating temp %d", id)
			}
			t.Kind = ir.InReg
			t.Reg = reg
			return reg, nil
		}
	}

	freeDeadInputs := func(op ir.Op) {
		for k, in := range op.In {
			if IsDead(op, k) {
				t := b.Temp(in)
				if t.Kind == ir.InReg {
					rf.release(t.Reg)
				}
				t.Kind = ir.Dead
			}
		}
	}

	spillAllGlobals := func() {
		for i, t := range b.Temps {
			if t.Global {
				spill(ir.TempID(i))
			}
		}
	}

	freeAllOrdinary := func() {
		for _, t := range b.Temps {
			if !t.Global && !t.Local && t.Kind == ir.InReg {
				rf.release(t.Reg)
				t.Kind = ir.Dead
			}
		}
	}

	clobberForCall := func() {
		for i, t := range b.Temps {
			if t.Kind == ir.InReg {
				spill(ir.TempID(i))
			}
		}
	}

	for idx := range b.Ops {
		op := b.Ops[idx]
		def := ir.Def(op.Opcode)

		inRegs := make([]int, len(op.In))
		for k, in := range op.In {
			reg, err := ensureReg(in)
			if err != nil {
				return nil, err
			}
			inRegs[k] = reg
		}

		if def.Flags&ir.CallClobber != 0 {
			clobberForCall()
			// clobberForCall spills every temp held in a register, this
			// op's own inputs included, so inRegs captured above are now
			// stale. To keep the emitted code correct we therefore reload
			// this op's own inputs immediately after.
			for k, in := range op.In {
				reg, err := ensureReg(in)
				if err != nil {
					return nil, err
				}
				inRegs[k] = reg
			}
		}

		if def.Alias && len(op.In) > 0 && len(op.Out) > 0 {
			// Force the output to reuse In[0]'s register unless it is
			// still live after this op, in which case copy it first
			// (§4.4 allocation step 2, TCG_CT_IALIAS).
			if !IsDead(op, 0) {
				newReg, ok := rf.alloc()
				if !ok {
					return nil, fmt.Errorf("regalloc: out of registers aliasing op %s", def.Name)
				}
				res.Instrs = append(res.Instrs, Instr{Kind: KindMaterialize, Reg: newReg, Temp: op.In[0], SrcReg: inRegs[0]})
				inRegs[0] = newReg
			}
		}

		freeDeadInputs(op)

		outRegs := make([]int, len(op.Out))
		for k, out := range op.Out {
			var reg int
			var ok bool
			if def.Alias && k == 0 && len(inRegs) > 0 {
				reg, ok = inRegs[0], true
			} else {
				reg, ok = rf.alloc()
			}
			if !ok {
				return nil, fmt.Errorf("regalloc: out of registers for output of op %s", def.Name)
			}
			t := b.Temp(out)
			t.Kind = ir.InReg
			t.Reg = reg
			outRegs[k] = reg
		}

		res.Instrs = append(res.Instrs, Instr{Kind: KindOp, Op: op, OutRegs: outRegs, InRegs: inRegs})

		if def.Flags&ir.BBEnd != 0 {
			spillAllGlobals()
			freeAllOrdinary()
		}
	}

	return res, nil
}
