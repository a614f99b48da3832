/*
 * tlibcore - AArch64 instruction-word encoders
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

// This file encodes the small fixed subset of the AArch64 instruction set
// this back end needs, following the bit-layouts in the architecture
// reference manual (ADD/SUB (shifted register), ADD/SUB (immediate),
// MOVZ/MOVK, LDR/STR (unsigned immediate), unconditional/conditional branch,
// CSET). Each encoder returns the raw 32-bit word; the caller in emit.go
// pairs it with execution Meta for Interpret.

func encMovReg(rd, rm int) Word {
	// ORR Xd, XZR, Xm  (canonical "MOV Xd, Xm")
	return Word(0xAA0003E0 | (uint32(rm) << 16) | uint32(rd))
}

func encMovzImm16(rd int, imm16 uint16, shift uint32) Word {
	return Word(0xD2800000 | (shift << 21) | (uint32(imm16) << 5) | uint32(rd))
}

func encMovkImm16(rd int, imm16 uint16, shift uint32) Word {
	return Word(0xF2800000 | (shift << 21) | (uint32(imm16) << 5) | uint32(rd))
}

func encAddReg(rd, rn, rm int) Word {
	return Word(0x8B000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encSubReg(rd, rn, rm int) Word {
	return Word(0xCB000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encAndReg(rd, rn, rm int) Word {
	return Word(0x8A000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encOrrReg(rd, rn, rm int) Word {
	return Word(0xAA000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encEorReg(rd, rn, rm int) Word {
	return Word(0xCA000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encMulReg(rd, rn, rm int) Word {
	return Word(0x9B007C00 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encSubsReg(rd, rn, rm int) Word {
	// SUBS Xd, Xn, Xm -- CMP when rd == XZR(31)
	return Word(0xEB000000 | (uint32(rm) << 16) | (uint32(rn) << 5) | uint32(rd))
}

func encLdr(rt, rn int, offsetWords uint32) Word {
	return Word(0xF9400000 | (offsetWords << 10) | (uint32(rn) << 5) | uint32(rt))
}

func encStr(rt, rn int, offsetWords uint32) Word {
	return Word(0xF9000000 | (offsetWords << 10) | (uint32(rn) << 5) | uint32(rt))
}

// encB encodes an unconditional branch with a word-granular signed offset
// (JUMP26, §4.2 direct-branch patching).
func encB(offsetWords int32) Word {
	return Word(0x14000000 | (uint32(offsetWords) & 0x03FFFFFF))
}

// encBCond encodes B.cond with a word-granular signed 19-bit offset
// (CONDBR19).
func encBCond(cond Cond, offsetWords int32) Word {
	return Word(0x54000000 | ((uint32(offsetWords) & 0x7FFFF) << 5) | uint32(cond))
}

func encBL(offsetWords int32) Word {
	return Word(0x94000000 | (uint32(offsetWords) & 0x03FFFFFF))
}

func encRet(rn int) Word {
	return Word(0xD65F0000 | (uint32(rn) << 5))
}

func encCSet(rd int, cond Cond) Word {
	// CSINC Xd, XZR, XZR, invert(cond) -- canonical CSET encoding.
	return Word(0x9A9F07E0 | (uint32(invertCond(cond)) << 12) | uint32(rd))
}

func invertCond(c Cond) Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondLT:
		return CondGE
	case CondGE:
		return CondLT
	case CondLE:
		return CondGT
	case CondGT:
		return CondLE
	case CondLO:
		return CondHS
	case CondHS:
		return CondLO
	case CondLS:
		return CondHI
	case CondHI:
		return CondLS
	default:
		return c
	}
}
