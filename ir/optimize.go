/*
 * tlibcore - IR optimiser pre-pass (§4.4 "Pre-pass: optimiser")
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

// optState tracks what the optimiser currently knows about a temp's value.
type optState int

const (
	optUnknown optState = iota
	optConst
	optCopy
)

type optInfo struct {
	state optState
	cval  int64
	copyOf TempID
}

// Optimize runs constant folding, copy propagation and dead-code removal
// over the builder's op stream in place, preserving op ordering (§4.4).
// It is invoked once per TB before register allocation.
func (b *Builder) Optimize() {
	info := make([]optInfo, len(b.Temps))

	resolve := func(id TempID) TempID {
		seen := map[TempID]bool{}
		for info[id].state == optCopy && !seen[id] {
			seen[id] = true
			id = info[id].copyOf
		}
		return id
	}

	resetAll := func() {
		for i := range info {
			info[i] = optInfo{}
		}
	}

	foldable := map[Opcode]func(a, c int64) (int64, bool){
		OpAdd: func(a, c int64) (int64, bool) { return a + c, true },
		OpSub: func(a, c int64) (int64, bool) { return a - c, true },
		OpMul: func(a, c int64) (int64, bool) { return a * c, true },
		OpAnd: func(a, c int64) (int64, bool) { return a & c, true },
		OpOr:  func(a, c int64) (int64, bool) { return a | c, true },
		OpXor: func(a, c int64) (int64, bool) { return a ^ c, true },
		OpShl: func(a, c int64) (int64, bool) { return a << uint(c&63), true },
		OpShr: func(a, c int64) (int64, bool) {
			return int64(uint64(a) >> uint(c&63)), true
		},
		OpSar: func(a, c int64) (int64, bool) { return a >> uint(c&63), true },
	}

	for i := range b.Ops {
		op := &b.Ops[i]

		for k, in := range op.In {
			op.In[k] = resolve(in)
		}

		switch op.Opcode {
		case OpMovI:
			out := op.Out[0]
			info[out] = optInfo{state: optConst, cval: op.Imm[0]}
			continue

		case OpMov:
			src := op.In[0]
			out := op.Out[0]
			if info[src].state == optConst {
				op.Opcode = OpMovI
				op.Imm = []int64{info[src].cval}
				op.In = nil
				info[out] = optInfo{state: optConst, cval: info[src].cval}
			} else {
				info[out] = optInfo{state: optCopy, copyOf: src}
			}
			continue

		default:
			if fn, ok := foldable[op.Opcode]; ok && len(op.In) == 2 {
				a, b1 := info[op.In[0]], info[op.In[1]]
				if a.state == optConst && b1.state == optConst {
					v, ok := fn(a.cval, b1.cval)
					if ok {
						out := op.Out[0]
						op.Opcode = OpMovI
						op.Imm = []int64{v}
						op.In = nil
						info[out] = optInfo{state: optConst, cval: v}
						continue
					}
				}
			}
		}

		// Anything else: outputs become unknown again; a flagged
		// control-flow boundary forgets everything learned so far
		// (control may merge here).
		for _, out := range op.Out {
			info[out] = optInfo{}
		}
		if Def(op.Opcode).Flags&BBEnd != 0 || op.Opcode == OpSetLabel {
			resetAll()
		}
	}

	b.deadCodeEliminate()
}

// deadCodeEliminate drops ops with no side effects whose outputs are never
// read by a later op, in a single backward sweep. Op ordering of the
// surviving ops is preserved.
func (b *Builder) deadCodeEliminate() {
	used := make(map[TempID]bool)
	keep := make([]bool, len(b.Ops))

	for i := len(b.Ops) - 1; i >= 0; i-- {
		op := b.Ops[i]
		def := Def(op.Opcode)

		anyOutUsed := len(op.Out) == 0
		for _, o := range op.Out {
			if used[o] {
				anyOutUsed = true
			}
		}
		if def.Flags&SideEffects == 0 && !anyOutUsed && len(op.Out) > 0 {
			keep[i] = false
			continue
		}
		keep[i] = true
		for _, in := range op.In {
			used[in] = true
		}
	}

	out := b.Ops[:0]
	for i, op := range b.Ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	b.Ops = out
}
