/*
 * tlibcore - dispatcher tests
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

package translator

import (
	"testing"
	"time"

	"github.com/openhw-tlib/tlibcore/codearena"
	"github.com/openhw-tlib/tlibcore/cpustate"
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/softtlb"
	"github.com/openhw-tlib/tlibcore/tb"
)

// straightLineBlock stores nextPC into PCWordOffset and exits
// non-chainably (exit_tb arg 2, TB_EXIT_REQUESTED's normal-exit value).
func straightLineBlock(pc, nextPC uint64) Decoder {
	return func(b *ir.Builder, _, _ uint64, _ uint32) error {
		env := b.NewGlobalTemp(ir.Ptr, "env")
		next := b.NewTemp(ir.I64, "next")
		b.EmitInsnStart(pc, pc)
		b.EmitMovI(next, int64(nextPC))
		b.EmitSt(next, env, int64(PCWordOffset*8))
		b.EmitExitTB(2)
		return nil
	}
}

// chainingBlock stores nextPC into PCWordOffset and exits through goto_tb
// slot 0, so Dispatch treats it as chainable.
func chainingBlock(pc, nextPC uint64) Decoder {
	return func(b *ir.Builder, _, _ uint64, _ uint32) error {
		env := b.NewGlobalTemp(ir.Ptr, "env")
		next := b.NewTemp(ir.I64, "next")
		b.EmitInsnStart(pc, pc)
		b.EmitMovI(next, int64(nextPC))
		b.EmitSt(next, env, int64(PCWordOffset*8))
		b.EmitGotoTB(0)
		return nil
	}
}

// byPC lets a test wire up a distinct Decoder per guest pc, dispatched
// through a single Translator.Decode field.
func byPC(blocks map[uint64]Decoder) Decoder {
	return func(b *ir.Builder, pc, csBase uint64, flags uint32) error {
		d, ok := blocks[pc]
		if !ok {
			return errUnknownPC(pc)
		}
		return d(b, pc, csBase, flags)
	}
}

type errUnknownPC uint64

func (e errUnknownPC) Error() string { return "translator test: no block registered for this pc" }

func newTestTranslator(t *testing.T, blocks map[uint64]Decoder) *Translator {
	t.Helper()
	env := make(EnvWords, 16)
	tr := New(env, codearena.New(0), byPC(blocks))
	return tr
}

func TestDispatchStraightLineReturnsNoJump(t *testing.T) {
	tr := newTestTranslator(t, map[uint64]Decoder{
		0x1000: straightLineBlock(0x1000, 0x1004),
	})

	nextPC, reason, err := tr.Dispatch(0x1000, 0, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reason != tb.ExitNoJump {
		t.Fatalf("reason = %v, want ExitNoJump", reason)
	}
	if nextPC != 0x1004 {
		t.Fatalf("nextPC = %#x, want %#x", nextPC, 0x1004)
	}
}

// TestDispatchChainsThenStops: block A exits through a chainable goto_tb
// slot to block B, which ends the chain with a normal exit. Dispatch
// must run both and return B's successor pc with ExitNoJump, and must
// have recorded the chain edge on the manager.
func TestDispatchChainsThenStops(t *testing.T) {
	pcA, pcB, pcC := uint64(0x2000), uint64(0x2004), uint64(0x2008)
	tr := newTestTranslator(t, map[uint64]Decoder{
		pcA: chainingBlock(pcA, pcB),
		pcB: straightLineBlock(pcB, pcC),
	})

	nextPC, reason, err := tr.Dispatch(pcA, 0, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reason != tb.ExitNoJump {
		t.Fatalf("reason = %v, want ExitNoJump", reason)
	}
	if nextPC != pcC {
		t.Fatalf("nextPC = %#x, want %#x", nextPC, pcC)
	}

	blockA, ok := tr.Manager.FindByPC(pcA, 0, 0, pcA>>tb.PageBits)
	if !ok {
		t.Fatalf("expected block A to have been generated")
	}
	blockB, ok := tr.Manager.FindByPC(pcB, 0, 0, pcB>>tb.PageBits)
	if !ok {
		t.Fatalf("expected block B to have been generated")
	}
	if blockA.OutJump[0] != blockB.Index {
		t.Fatalf("expected A's chain slot 0 to point at B (AddJump not recorded)")
	}
}

// TestDispatchStopsAtMaxChain: an unbounded self-chaining block must not
// run forever; MaxChain caps the hop count and Dispatch returns control
// to the caller with ExitJump once it is reached.
func TestDispatchStopsAtMaxChain(t *testing.T) {
	pc := uint64(0x3000)
	tr := newTestTranslator(t, map[uint64]Decoder{
		pc: chainingBlock(pc, pc),
	})
	tr.MaxChain = 3

	done := make(chan struct{})
	var reason tb.ExitReason
	var err error
	go func() {
		_, reason, err = tr.Dispatch(pc, 0, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Dispatch did not return within MaxChain hops; looks unbounded")
	}
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reason != tb.ExitJump {
		t.Fatalf("reason = %v, want ExitJump", reason)
	}
}

// TestDispatchHonorsExitRequest: a pending exit request short-circuits
// Dispatch before it translates or runs anything (§4.5's "checked at block
// entry" rule).
func TestDispatchHonorsExitRequest(t *testing.T) {
	tr := newTestTranslator(t, map[uint64]Decoder{})
	tr.CPU.SetExitRequest(true)

	pc := uint64(0x4000)
	nextPC, reason, err := tr.Dispatch(pc, 0, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reason != tb.ExitForce {
		t.Fatalf("reason = %v, want ExitForce", reason)
	}
	if nextPC != pc {
		t.Fatalf("nextPC = %#x, want unchanged %#x", nextPC, pc)
	}
}

// TestFindOrBuildReusesJumpCache: a second Dispatch at the same pc must
// not regenerate the block (the jump cache or the manager's hash lookup
// must short-circuit it); verified indirectly by checking the manager's
// block count stays at one.
func TestFindOrBuildReusesCachedBlock(t *testing.T) {
	pc := uint64(0x5000)
	tr := newTestTranslator(t, map[uint64]Decoder{
		pc: straightLineBlock(pc, pc+4),
	})

	if _, _, err := tr.Dispatch(pc, 0, 0); err != nil {
		t.Fatalf("Dispatch 1: %v", err)
	}
	first, ok := tr.Manager.FindByPC(pc, 0, 0, pc>>tb.PageBits)
	if !ok {
		t.Fatalf("expected block generated")
	}

	if _, _, err := tr.Dispatch(pc, 0, 0); err != nil {
		t.Fatalf("Dispatch 2: %v", err)
	}
	second, ok := tr.Manager.FindByPC(pc, 0, 0, pc>>tb.PageBits)
	if !ok || second != first {
		t.Fatalf("expected the second dispatch to reuse the same block")
	}
}

// blankMMIO satisfies softtlb.MMIOHandler for a test that never expects to
// reach the MMIO fallback.
type blankMMIO struct{}

func (blankMMIO) ReadByte(addr uint64) uint8        { return 0 }
func (blankMMIO) WriteByte(addr uint64, v uint8)    {}
func (blankMMIO) ReadHalf(addr uint64) uint16       { return 0 }
func (blankMMIO) WriteHalf(addr uint64, v uint16)   {}
func (blankMMIO) ReadWord(addr uint64) uint32       { return 0 }
func (blankMMIO) WriteWord(addr uint64, v uint32)   {}
func (blankMMIO) ReadDouble(addr uint64) uint64     { return 0 }
func (blankMMIO) WriteDouble(addr uint64, v uint64) {}

// TestDispatchSelfModifyingWriteTriggersLoopExitAndResumes exercises §8
// scenario E2 end to end: a block's first instruction writes into the
// guest page its own code lives on, aborting mid-run with
// cpustate.ErrLoopExit; Dispatch must catch it, recover the guest pc via
// tb.Restore, add only the partial instruction count retired before the
// store, and resume -- regenerating a fresh block rather than running on
// past the now-invalidated one.
func TestDispatchSelfModifyingWriteTriggersLoopExitAndResumes(t *testing.T) {
	pc := uint64(0x7000)
	midPC := pc + 4
	resumePC := pc + 8

	env := make(EnvWords, 16)
	tr := New(env, codearena.New(0), nil)

	phys := softtlb.NewPhysTable()
	phys.RegisterRAM(0, 1<<16, 0)
	disp := softtlb.NewDispatcher(phys, tr.Manager, blankMMIO{}, tr.CPU, make([]byte, 1<<16))
	disp.Phys.SetHasCode(pc, true)

	// The self-modifying call is only emitted the first time this block is
	// translated -- the regenerated block after restart must not repeat it,
	// or the write would invalidate its own freshly generated code forever.
	emitSelfWrite := true
	tr.Decode = func(b *ir.Builder, blockPC, _ uint64, _ uint32) error {
		envTemp := b.NewGlobalTemp(ir.Ptr, "env")
		b.EmitInsnStart(blockPC, blockPC)
		if emitSelfWrite {
			emitSelfWrite = false
			b.RegisterHelper(ir.Helper{Name: "self_write"})
			if err := b.EmitCall("self_write", nil, nil); err != nil {
				return err
			}
		}
		b.EmitInsnStart(midPC, midPC)
		next := b.NewTemp(ir.I64, "next")
		b.EmitMovI(next, int64(resumePC))
		b.EmitSt(next, envTemp, int64(PCWordOffset*8))
		b.EmitExitTB(2)
		return nil
	}
	tr.Helper = func(name string, m *arm64.Machine) {
		if name != "self_write" {
			return
		}
		if disp.WriteByte(0, pc, 0xFF) {
			m.Abort = cpustate.ErrLoopExit
		}
	}

	nextPC, reason, err := tr.Dispatch(pc, 0, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reason != tb.ExitNoJump {
		t.Fatalf("reason = %v, want ExitNoJump", reason)
	}
	if nextPC != resumePC {
		t.Fatalf("nextPC = %#x, want %#x", nextPC, resumePC)
	}
	// The aborted generation contributes 0 (the store happened during its
	// very first instruction, before any boundary had fully retired); the
	// regenerated block then runs to completion and adds its own 2.
	if got := tr.CPU.InsnCount; got != 2 {
		t.Fatalf("InsnCount = %d, want 2 (0 from the aborted attempt + 2 from the completed restart)", got)
	}
	if block, ok := tr.Manager.FindByPC(pc, 0, 0, pc>>tb.PageBits); !ok || !block.Valid {
		t.Fatalf("expected a fresh, valid block at pc after restart")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	pc := uint64(0x6000)
	tr := newTestTranslator(t, map[uint64]Decoder{
		pc: chainingBlock(pc, pc),
	})

	tr.Start(pc, 0, 0)
	time.Sleep(10 * time.Millisecond)
	tr.Stop()

	if !tr.CPU.ExitRequested() {
		t.Fatalf("expected Stop to set the exit request")
	}

	// Stop must be idempotent.
	tr.Stop()
}
