/*
 * tlibcore - pure-Go execution of an emitted AArch64 word stream
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

import "fmt"

// Machine is the register file and private stack frame Interpret runs
// against -- the pure-Go stand-in for a real host CPU executing p.Words (see
// the package doc for why this exists instead of native execution).
type Machine struct {
	Regs  [NumRegs]uint64
	Frame []uint64 // indexed by the word-offset slots Emit's frame type assigned

	// MemRead/MemWrite model the "load/store against CPUState" Ld/St
	// ops: Rn holds a guest-side pointer (cpustate field base + offset) that
	// the embedder, not this package, knows how to dereference.
	MemRead  func(addr uint64) uint64
	MemWrite func(addr, val uint64)

	Halted bool
	Helper func(name string, m *Machine)

	// Abort lets a Helper request a non-local exit in place of the C
	// longjmp-style cpu_loop_exit (typically cpustate.ErrLoopExit) --
	// checked immediately after the ClassBL call that invoked it (§5, §9
	// "Non-local control flow").
	Abort error

	flagsState flags
}

// AbortError is what Interpret returns when a helper call sets m.Abort: Err
// is the sentinel the helper requested, Word the host word index (into
// Program.Words/Boundaries) the call was at, which tb.Restore needs to
// recover the guest pc and retired instruction count the abort happened at.
type AbortError struct {
	Err  error
	Word int
}

func (e *AbortError) Error() string { return e.Err.Error() }
func (e *AbortError) Unwrap() error { return e.Err }

// NewMachine returns a zeroed Machine with frameSlots 64-bit stack slots.
func NewMachine(frameSlots int) *Machine {
	return &Machine{Frame: make([]uint64, frameSlots)}
}

// Interpret executes p's word stream against m until a ClassRet instruction
// retires (mirroring "exit_tb" / "goto_tb" ending a block) or an error
// occurs. It returns the ExitArg carried by the terminating op, which
// package tb/translator interpret as the block's exit reason.
func Interpret(p *Program, m *Machine) (exitArg int64, err error) {
	pc := 0
	for pc < len(p.Words) {
		if pc >= len(p.Meta) {
			return 0, fmt.Errorf("hostasm/arm64: pc %d out of range", pc)
		}
		meta := p.Meta[pc]
		switch meta.Class {
		case ClassNop:
			// nothing.

		case ClassMovReg:
			m.Regs[meta.Rd] = regOrZero(m, meta.Rm)

		case ClassMovImm:
			if p.Words[pc]&0xFF800000 == 0xD2800000 { // MOVZ clears the register first
				m.Regs[meta.Rd] = uint64(meta.Imm)
			} else { // MOVK preserves the other halfwords
				m.Regs[meta.Rd] |= uint64(meta.Imm)
			}

		case ClassLoad:
			if meta.Rn == frameReg {
				if int(meta.Imm) >= len(m.Frame) {
					return 0, fmt.Errorf("hostasm/arm64: frame slot %d out of range (%d slots)", meta.Imm, len(m.Frame))
				}
				m.Regs[meta.Rd] = m.Frame[meta.Imm]
				break
			}
			if m.MemRead == nil {
				return 0, fmt.Errorf("hostasm/arm64: load with no MemRead installed")
			}
			m.Regs[meta.Rd] = m.MemRead(regOrZero(m, meta.Rn) + uint64(meta.Imm))

		case ClassStore:
			if meta.Rn == frameReg {
				if int(meta.Imm) >= len(m.Frame) {
					return 0, fmt.Errorf("hostasm/arm64: frame slot %d out of range (%d slots)", meta.Imm, len(m.Frame))
				}
				m.Frame[meta.Imm] = regOrZero(m, meta.Rd)
				break
			}
			if m.MemWrite == nil {
				return 0, fmt.Errorf("hostasm/arm64: store with no MemWrite installed")
			}
			m.MemWrite(regOrZero(m, meta.Rn)+uint64(meta.Imm), regOrZero(m, meta.Rd))

		case ClassAluReg:
			m.Regs[meta.Rd] = aluResult(p.Words[pc], regOrZero(m, meta.Rn), regOrZero(m, meta.Rm))

		case ClassCmp:
			// Result is consumed by the following ClassBCond/ClassCSet via
			// m.flagsState; kept inline for this small interpreter.
			m.flagsFrom(regOrZero(m, meta.Rn), regOrZero(m, meta.Rm))

		case ClassB:
			pc += branchDelta(p.Words[pc])
			continue

		case ClassBCond:
			if m.condHolds(meta.Cond) {
				pc += branchDelta(p.Words[pc])
				continue
			}

		case ClassCSet:
			if m.condHolds(meta.Cond) {
				m.Regs[meta.Rd] = 1
			} else {
				m.Regs[meta.Rd] = 0
			}

		case ClassBL:
			if m.Helper != nil {
				m.Helper(meta.Helper, m)
				if m.Abort != nil {
					return 0, &AbortError{Err: m.Abort, Word: pc}
				}
			}

		case ClassRet:
			m.Halted = true
			return meta.Imm, nil
		}
		pc++
	}
	return 0, fmt.Errorf("hostasm/arm64: word stream fell off the end without a terminating ret")
}

func regOrZero(m *Machine, reg int) uint64 {
	if reg == 31 {
		return 0 // XZR
	}
	return m.Regs[reg]
}

// aluResult recovers which ALU op word encodes by matching its fixed opcode
// bits -- cheaper than threading a redundant Opclass subtype through Meta
// for the four binary-register forms.
func aluResult(w Word, a, c uint64) uint64 {
	switch w & 0xFF000000 {
	case 0x8B000000:
		return a + c
	case 0xCB000000:
		return a - c
	case 0x8A000000:
		return a & c
	case 0xAA000000:
		return a | c
	case 0xCA000000:
		return a ^ c
	case 0x9B000000:
		return a * c
	default:
		return 0
	}
}

func branchDelta(w Word) int {
	if w&0xFC000000 == 0x14000000 { // B
		off := int32(w & 0x03FFFFFF)
		if off&0x02000000 != 0 {
			off |= ^int32(0x03FFFFFF)
		}
		return int(off)
	}
	// B.cond
	off := int32((w >> 5) & 0x7FFFF)
	if off&0x40000 != 0 {
		off |= ^int32(0x7FFFF)
	}
	return int(off)
}

// flags mirrors the N/Z/C/V condition flags a real SUBS would set; only the
// handful of conditions this core's Cond enum uses are computed.
type flags struct {
	zero, negative, carry, overflow bool
}

func (m *Machine) flagsFrom(a, c uint64) {
	m.flagsState = flags{
		zero:     a == c,
		negative: a < c,
		carry:    a >= c,
		overflow: false,
	}
}

func (m *Machine) condHolds(cond Cond) bool {
	f := m.flagsState
	switch cond {
	case CondEQ:
		return f.zero
	case CondNE:
		return !f.zero
	case CondLT, CondLO:
		return f.negative
	case CondGE, CondHS:
		return !f.negative
	case CondLE, CondLS:
		return f.negative || f.zero
	case CondGT, CondHI:
		return !f.negative && !f.zero
	default:
		return false
	}
}
