package arm64

import (
	"testing"

	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/regalloc"
)

func compile(t *testing.T, build func(b *ir.Builder)) (*ir.Builder, *Program) {
	t.Helper()
	b := ir.NewBuilder()
	build(b)
	b.Optimize()
	regalloc.Liveness(b)
	res, err := regalloc.Allocate(b)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p, err := Emit(b, res)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	return b, p
}

func TestEmitAddProducesAddAndRetEncodings(t *testing.T) {
	_, p := compile(t, func(b *ir.Builder) {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		a := b.NewTemp(ir.I64, "a")
		c := b.NewTemp(ir.I64, "c")
		d := b.NewTemp(ir.I64, "d")
		b.EmitLd(a, base, 0)
		b.EmitLd(c, base, 8)
		b.EmitBinOp(ir.OpAdd, d, a, c)
		b.EmitSt(d, base, 16)
		b.EmitExitTB(0)
	})
	if len(p.Words) == 0 {
		t.Fatalf("expected a non-empty word stream")
	}
	var sawAdd, sawRet bool
	for _, w := range p.Words {
		if w&0xFF000000 == 0x8B000000 {
			sawAdd = true
		}
		if w&0xFFFFFC1F == 0xD65F0000 {
			sawRet = true
		}
	}
	if !sawAdd {
		t.Fatalf("expected an ADD (register) encoding in the stream: %x", p.Words)
	}
	if !sawRet {
		t.Fatalf("expected a RET encoding closing the block: %x", p.Words)
	}
}

func TestInterpretRoundTripsLoadAddStore(t *testing.T) {
	_, p := compile(t, func(b *ir.Builder) {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		a := b.NewTemp(ir.I64, "a")
		c := b.NewTemp(ir.I64, "c")
		d := b.NewTemp(ir.I64, "d")
		b.EmitLd(a, base, 0)
		b.EmitLd(c, base, 8)
		b.EmitBinOp(ir.OpAdd, d, a, c)
		b.EmitSt(d, base, 16)
		b.EmitExitTB(7)
	})

	mem := map[uint64]uint64{0: 3, 8: 4}
	m := NewMachine(8)
	m.MemRead = func(addr uint64) uint64 { return mem[addr] }
	m.MemWrite = func(addr, val uint64) { mem[addr] = val }

	exit, err := Interpret(p, m)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if exit != 7 {
		t.Fatalf("expected exit arg 7, got %d", exit)
	}
	if mem[16] != 7 {
		t.Fatalf("expected mem[16] == 7 (3+4), got %d", mem[16])
	}
}

func TestInterpretBackwardBranchLoop(t *testing.T) {
	_, p := compile(t, func(b *ir.Builder) {
		base := b.NewGlobalTemp(ir.Ptr, "env")
		i := b.NewLocalTemp(ir.I64, "i")
		one := b.NewLocalTemp(ir.I64, "one") // survives the set_label boundary below
		lim := b.NewLocalTemp(ir.I64, "lim") // ditto
		b.EmitMovI(i, 0)
		b.EmitMovI(one, 1)
		b.EmitMovI(lim, 5)
		top := b.NewLabel()
		b.EmitSetLabel(top)
		b.EmitBinOp(ir.OpAdd, i, i, one)
		b.EmitBrcond(ir.CondLT, i, lim, top)
		b.EmitSt(i, base, 0)
		b.EmitExitTB(0)
	})

	mem := map[uint64]uint64{}
	m := NewMachine(8)
	m.MemRead = func(addr uint64) uint64 { return mem[addr] }
	m.MemWrite = func(addr, val uint64) { mem[addr] = val }

	if _, err := Interpret(p, m); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if mem[0] != 5 {
		t.Fatalf("expected the loop to count up to 5, got %d", mem[0])
	}
}

func TestEmitCallThreadsHelperNameThroughInterpret(t *testing.T) {
	_, p := compile(t, func(b *ir.Builder) {
		b.RegisterHelper(ir.Helper{Name: "tlibcore_read_byte", Flags: ir.HelperConst})
		out := b.NewTemp(ir.I64, "out")
		if err := b.EmitCall("tlibcore_read_byte", []ir.TempID{out}, nil); err != nil {
			t.Fatalf("EmitCall: %v", err)
		}
		base := b.NewGlobalTemp(ir.Ptr, "env")
		b.EmitSt(out, base, 0)
		b.EmitExitTB(0)
	})

	var gotName string
	mem := map[uint64]uint64{}
	m := NewMachine(8)
	m.MemRead = func(addr uint64) uint64 { return mem[addr] }
	m.MemWrite = func(addr, val uint64) { mem[addr] = val }
	m.Helper = func(name string, mm *Machine) {
		gotName = name
		mm.Regs[0] = 0x42 // stand in for a real dispatchHelper's loaded byte
	}

	if _, err := Interpret(p, m); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if gotName != "tlibcore_read_byte" {
		t.Fatalf("expected helper call site to carry the registered name, got %q", gotName)
	}
	if mem[0] != 0x42 {
		t.Fatalf("expected the helper's result to reach CPU state, got %d", mem[0])
	}
}

func TestEmitUnboundLabelErrors(t *testing.T) {
	b := ir.NewBuilder()
	l := b.NewLabel()
	b.EmitBr(l)
	b.EmitExitTB(0)
	// Deliberately never emit set_label for l.
	regalloc.Liveness(b)
	res, err := regalloc.Allocate(b)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := Emit(b, res); err == nil {
		t.Fatalf("expected Emit to reject a branch to an unbound label")
	}
}
