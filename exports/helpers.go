/*
 * tlibcore - generated-code helper call convention (§4.2 "helper calls")
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

package exports

import (
	"github.com/openhw-tlib/tlibcore/cpustate"
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
)

// The names a Decoder's ir.Builder.RegisterHelper/EmitCall pair may use to
// reach this core's own soft-TLB dispatcher and interrupt check, and the
// fixed register convention dispatchHelper expects for each: loads take
// (mmu index, vaddr) in Regs[0:2] and return the loaded value in Regs[0];
// stores take (mmu index, vaddr, value) in Regs[0:3] and return nothing;
// CheckInterrupt takes no arguments and returns 1/0 in Regs[0].
const (
	HelperReadByte   = "tlibcore_read_byte"
	HelperWriteByte  = "tlibcore_write_byte"
	HelperReadHalf   = "tlibcore_read_half"
	HelperWriteHalf  = "tlibcore_write_half"
	HelperReadWord   = "tlibcore_read_word"
	HelperWriteWord  = "tlibcore_write_word"
	HelperReadDouble = "tlibcore_read_double"
	HelperWriteDouble = "tlibcore_write_double"

	// HelperCheckInterrupt lets a Decoder poll pending-interrupt state
	// from generated code instead of only between blocks.
	HelperCheckInterrupt = "tlibcore_check_interrupt"
)

// dispatchHelper resolves one of the names above against c's soft-TLB
// dispatcher, following the register convention documented on the Helper*
// constants. An unrecognized name is a no-op -- a Decoder is free to
// register and call its own helpers entirely outside this set, in which
// case this dispatcher simply has nothing to do for them. A store that
// self-modifies the block presently executing sets m.Abort, which
// Interpret turns into an *arm64.AbortError the dispatcher catches and
// resumes from via tb.Restore (§4.1, §8 scenario E2).
func dispatchHelper(c *Core, name string, m *arm64.Machine) {
	switch name {
	case HelperReadByte:
		mmuIdx, vaddr := int(m.Regs[0]), m.Regs[1]
		m.Regs[0] = uint64(c.disp.ReadByte(mmuIdx, vaddr))
	case HelperWriteByte:
		mmuIdx, vaddr, v := int(m.Regs[0]), m.Regs[1], m.Regs[2]
		if c.disp.WriteByte(mmuIdx, vaddr, uint8(v)) {
			m.Abort = cpustate.ErrLoopExit
		}

	case HelperReadHalf:
		mmuIdx, vaddr := int(m.Regs[0]), m.Regs[1]
		m.Regs[0] = uint64(c.disp.ReadHalf(mmuIdx, vaddr))
	case HelperWriteHalf:
		mmuIdx, vaddr, v := int(m.Regs[0]), m.Regs[1], m.Regs[2]
		if c.disp.WriteHalf(mmuIdx, vaddr, uint16(v)) {
			m.Abort = cpustate.ErrLoopExit
		}

	case HelperReadWord:
		mmuIdx, vaddr := int(m.Regs[0]), m.Regs[1]
		m.Regs[0] = uint64(c.disp.ReadWord(mmuIdx, vaddr))
	case HelperWriteWord:
		mmuIdx, vaddr, v := int(m.Regs[0]), m.Regs[1], m.Regs[2]
		if c.disp.WriteWord(mmuIdx, vaddr, uint32(v)) {
			m.Abort = cpustate.ErrLoopExit
		}

	case HelperReadDouble:
		mmuIdx, vaddr := int(m.Regs[0]), m.Regs[1]
		m.Regs[0] = c.disp.ReadDouble(mmuIdx, vaddr)
	case HelperWriteDouble:
		mmuIdx, vaddr, v := int(m.Regs[0]), m.Regs[1], m.Regs[2]
		if c.disp.WriteDouble(mmuIdx, vaddr, v) {
			m.Abort = cpustate.ErrLoopExit
		}

	case HelperCheckInterrupt:
		if c.tr.CPU.InterruptPending() {
			m.Regs[0] = 1
		} else {
			m.Regs[0] = 0
		}
	}
}
