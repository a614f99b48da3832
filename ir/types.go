/*
 * tlibcore - IR types and temporaries (§4.3)
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

// Package ir is the architecture-neutral IR builder front-end (C4): typed
// temporaries, a flat op stream, labels, helper registration and the per-TB
// translation loop skeleton. Per-ISA decoders consume this API; they are not
// part of the core (spec.md §1 "Explicitly OUT of scope").
package ir

// Type is an IR value width. I128 is synthesised from a pair of I64s, never
// represented directly.
type Type int

const (
	I32 Type = iota
	I64
	Ptr
	Vec
	I128
)

func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case Ptr:
		return "ptr"
	case Vec:
		return "vec"
	case I128:
		return "i128"
	default:
		return "?"
	}
}

// TempKind is the lifecycle state of a temporary (§3 "IR temporary").
type TempKind int

const (
	Dead TempKind = iota
	InReg
	InMem
	Const
)

// TempID indexes into Builder.Temps.
type TempID int

// Temp is one IR temporary: typed, with a lifecycle state managed by the
// register allocator (package regalloc), a fixed-register hint, an optional
// stack slot, and a locality flag.
type Temp struct {
	Type Type
	Kind TempKind

	// Global is true for temps that alias CPUState fields (loaded via
	// ld/st ops) rather than being TCG-private scratch values.
	Global bool

	// Local is true if the temp must survive basic-block ends (it is
	// reloaded/spilled at TCG_OPF_BB_END instead of being discarded).
	Local bool

	// FixedReg, if >= 0, pins this temp to a specific host register.
	FixedReg int

	// ConstValue holds the constant when Kind == Const.
	ConstValue int64

	// Reg holds the assigned host register once Kind == InReg.
	Reg int

	// MemOffset holds the stack-frame slot offset once Kind == InMem.
	MemOffset int

	Name string
}

// NewTemp returns a fresh (unassigned) ordinary temporary of the given type.
func NewTemp(typ Type, name string) *Temp {
	return &Temp{Type: typ, Kind: Dead, FixedReg: -1, Name: name}
}

// NewLocalTemp returns a fresh local temporary (survives basic-block ends).
func NewLocalTemp(typ Type, name string) *Temp {
	t := NewTemp(typ, name)
	t.Local = true
	return t
}

// NewGlobalTemp returns a temp that aliases a CPUState field.
func NewGlobalTemp(typ Type, name string) *Temp {
	t := NewTemp(typ, name)
	t.Global = true
	t.Local = true
	return t
}
