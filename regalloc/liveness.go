/*
 * tlibcore - liveness analysis (§4.4 "Liveness")
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

// Package regalloc implements the register allocator (C5): a backward
// liveness sweep and a forward constraint-driven allocation pass. Its
// Result is the input a host back-end (package hostasm/arm64's Emit) turns
// into instructions; regalloc itself does not call the back-end.
package regalloc

import "github.com/openhw-tlib/tlibcore/ir"

// Liveness runs a single backward sweep over b's op stream, filling in each
// op's DeadArgs bitmask: bit i set means In[i] is dead immediately after
// this op (§4.4 "Liveness"). Initial conditions at the tail of the block:
// globals live, ordinary temps dead, local temps live. Every set_label is
// treated as a block boundary with the same initial conditions, because a
// forward jump may target it.
func Liveness(b *ir.Builder) {
	live := initialLiveSet(b)

	for i := len(b.Ops) - 1; i >= 0; i-- {
		op := &b.Ops[i]

		if op.Opcode == ir.OpSetLabel {
			live = initialLiveSet(b)
			continue
		}

		// Calls to a helper registered with HelperPure (TCG_CALL_PURE)
		// whose outputs are entirely dead become nops.
		pure := false
		if op.Opcode == ir.OpCall && len(op.Imm) > 0 {
			if name, ok := b.HelperName(int(op.Imm[0])); ok {
				h, _ := b.Helper(name)
				pure = h != nil && h.Flags&ir.HelperPure != 0
			}
		}
		if pure {
			allDead := true
			for _, o := range op.Out {
				if live[o] {
					allDead = false
					break
				}
			}
			if allDead && len(op.Out) > 0 {
				*op = ir.Op{Opcode: ir.OpDiscard}
				continue
			}
		}

		// Outputs become dead going backward past their def.
		for _, o := range op.Out {
			live[o] = false
		}

		var mask uint32
		for k, in := range op.In {
			if !live[in] {
				mask |= 1 << uint(k)
			}
			live[in] = true
		}
		op.DeadArgs = mask
	}
}

func initialLiveSet(b *ir.Builder) map[ir.TempID]bool {
	live := make(map[ir.TempID]bool, len(b.Temps))
	for i, t := range b.Temps {
		if t.Global || t.Local {
			live[ir.TempID(i)] = true
		}
	}
	return live
}

// IsDead reports whether op's k-th input is dead immediately after the op,
// per the DeadArgs mask Liveness filled in.
func IsDead(op ir.Op, k int) bool {
	return op.DeadArgs&(1<<uint(k)) != 0
}
