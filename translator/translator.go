/*
 * tlibcore - dispatch loop (§4.5 "Dispatcher (C1)")
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

// Package translator is the dispatcher (§4.5): it owns the single CPU
// context, TB manager and code arena a translated program runs against,
// finds or builds the block for the next (pc, cs_base, flags), enters it,
// and interprets its exit reason, optionally chaining to the next block
// without returning here at all.
package translator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openhw-tlib/tlibcore/codearena"
	"github.com/openhw-tlib/tlibcore/cpustate"
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/tb"
)

// EnvWords is the opaque, word-addressed CPU register file this core reads
// and writes through Ld/St ops. CPUState.Env is expected to hold one of
// these; the core never interprets its contents beyond addr/8 indexing --
// it is the embedder's architecture-specific state, laid out however the
// per-ISA front end that built the IR expects (§3 "CPU state").
type EnvWords []uint64

// PCWordOffset is the one Env word this package itself understands: the
// Decoder is expected to OpSt the guest pc it is resuming at into this
// offset immediately before every EmitExitTB/EmitGotoTB, exactly as a real
// back end stores cpu->pc to the CPU state struct before exiting generated
// code (§4.2). Dispatch reads it back after each block since the exit_tb
// argument itself only ever carries a chain slot or the TB_EXIT_REQUESTED
// sentinel, never a PC (§4.2 "exit_tb argument").
const PCWordOffset = 0

// chainSlots is the exit-argument value range EmitGotoTB uses for its two
// chainable slots; any other exit-tb argument (conventionally 2, matching
// TB_EXIT_REQUESTED) means the block ended for a reason chaining cannot
// paper over -- page end, instruction-count limit, or a pending
// interrupt/singlestep the dispatcher must re-check.
const chainSlots = 2

// Decoder is the per-ISA front end's entry point: given a guest (pc,
// cs_base, flags) identity, it emits IR into b (already past BeginBlock)
// describing the guest instructions starting at pc. Decoding itself is
// explicitly out of this core's scope (spec.md §1); Decoder is the seam an
// embedder plugs one in at. A block is assumed not to straddle a guest
// page boundary; an embedder whose ISA allows unaligned entry across pages
// is expected to cap Decoder's emission at the page end itself.
type Decoder func(b *ir.Builder, pc, csBase uint64, flags uint32) error

// Translator drives one CPUState through a stream of translation blocks
// (§5 "single executing CPU context per translator instance").
type Translator struct {
	CPU     *cpustate.CPUState
	Manager *tb.Manager
	Arena   *codearena.Arena
	Decode  Decoder

	// MaxChain bounds how many direct chain hops Dispatch follows in a
	// row before returning to the caller, so a CPU with interrupts
	// disabled and an infinite chain of goto_tb blocks cannot starve the
	// rest of the process (timers, the debug console, telnet) forever.
	MaxChain int

	// Helper services every ClassBL a Decoder's EmitCall lowers to --
	// guest memory accesses, interrupt checks, anything the per-ISA
	// front end registered as an ir.Helper (§4.2 "helper calls"). nil is
	// valid for a Decoder that never emits a call.
	Helper func(name string, m *arm64.Machine)

	// ChainingEnabled gates whether Dispatch links a block's exit slot to
	// its successor at all; an embedder can disable it to force every
	// exit back through this loop, e.g. while single-stepping under the
	// debug console (§6 "tlib_set_chaining_enabled"). Defaults to true.
	ChainingEnabled atomic.Bool

	// TBCacheEnabled gates whether findOrBuild consults the jump cache
	// and hash table at all; disabling it forces a fresh GenCode on
	// every block entry (§6 "tlib_set_tb_cache_enabled"). Defaults to
	// true.
	TBCacheEnabled atomic.Bool

	// OnBlockBegin/OnBlockFinished, if non-nil, are called immediately
	// before and after each block's Interpret call -- the seam package
	// exports' tlib_set_block_begin_hook_present/
	// tlib_set_block_finished_hook_present and the profiler's sampling
	// hang off of (§6 "Observability"). Left nil costs one nil check per
	// block.
	OnBlockBegin    func(pc uint64)
	OnBlockFinished func(pc uint64, icount int)

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Translator over env with no blocks yet generated.
func New(env EnvWords, arena *codearena.Arena, decode Decoder) *Translator {
	t := &Translator{
		CPU:      cpustate.New(env),
		Manager:  tb.NewManager(arena),
		Arena:    arena,
		Decode:   decode,
		MaxChain: 4096,
		done:     make(chan struct{}),
	}
	t.ChainingEnabled.Store(true)
	t.TBCacheEnabled.Store(true)
	return t
}

func (t *Translator) env() EnvWords { return t.CPU.Env.(EnvWords) }

// Env exposes the register file backing this Translator's CPU state, for
// callers outside this package that need word-addressed access to it
// (package exports' register/state accessors).
func (t *Translator) Env() EnvWords { return t.env() }

// findOrBuild resolves (pc, csBase, flags) to a valid TranslationBlock,
// consulting the per-CPU jump cache first, then the manager's hash table,
// and only running Decode + Manager.GenCode on a full miss (§4.1 "tb_find").
func (t *Translator) findOrBuild(pc, csBase uint64, flags uint32) (*tb.TranslationBlock, error) {
	cacheEnabled := t.TBCacheEnabled.Load()

	if cacheEnabled {
		if cached := t.CPU.JumpCacheGet(pc); cached != nil {
			if block, ok := cached.(*tb.TranslationBlock); ok && block.Valid &&
				block.PC == pc && block.CSBase == csBase && block.Flags == flags {
				return block, nil
			}
		}
	}

	physPage0 := pc >> tb.PageBits
	if cacheEnabled {
		if block, ok := t.Manager.FindByPC(pc, csBase, flags, physPage0); ok {
			t.CPU.JumpCachePut(pc, block)
			return block, nil
		}
	}

	block, err := t.Manager.GenCode(pc, csBase, flags, 0, physPage0, tb.PageAddrNone,
		func(b *ir.Builder) error {
			return t.Decode(b, pc, csBase, flags)
		})
	if err != nil {
		return nil, err
	}
	if cacheEnabled {
		t.CPU.JumpCachePut(pc, block)
	}
	return block, nil
}

// runOnce enters one block's Program via the pure-Go interpreter (see
// hostasm/arm64's package doc on why this stands in for jumping into
// native code). It reports whether the block exited through a chainable
// goto_tb slot and, if so, which slot (§4.2); the resuming guest pc is
// never part of this return -- Dispatch reads it from PCWordOffset once
// the block has retired.
func (t *Translator) runOnce(block *tb.TranslationBlock) (slot int, chainable bool, err error) {
	m := arm64.NewMachine(block.Program.FrameSlots)
	env := t.env()
	m.MemRead = func(addr uint64) uint64 { return env[addr/8] }
	m.MemWrite = func(addr, val uint64) { env[addr/8] = val }
	m.Helper = t.Helper

	arg, err := arm64.Interpret(block.Program, m)
	if err != nil {
		return 0, false, err
	}
	if arg == 0 || arg == 1 {
		return int(arg), true, nil
	}
	return 0, false, nil
}

// Dispatch runs blocks starting at (pc, csBase, flags) until one exits
// with ExitNoJump or ExitForce, chaining directly through ExitJump exits
// up to MaxChain times (§4.2 "direct block chaining"). It returns the
// guest pc execution should resume at and the reason the run ended.
//
// A block that writes into its own still-executing code aborts mid-run with
// cpustate.ErrLoopExit (via *arm64.AbortError): Dispatch catches it, walks
// the invalidated block's search table to recover the guest pc and the
// instruction count retired up to the store, and restarts dispatch from
// there instead of treating it as a hard error (§4.1 "mid-block
// regeneration", §8 scenario E2).
func (t *Translator) Dispatch(pc, csBase uint64, flags uint32) (nextPC uint64, reason tb.ExitReason, err error) {
	hops := 0
	var prev *tb.TranslationBlock
	prevSlot := 0
	for {
		if t.CPU.ExitRequested() {
			return pc, tb.ExitForce, nil
		}

		block, err := t.findOrBuild(pc, csBase, flags)
		if err != nil {
			return pc, tb.ExitNoJump, fmt.Errorf("translator: dispatch at pc=%#x: %w", pc, err)
		}

		// Chain the previous block's exit slot to this one now that it exists.
		if prev != nil && prev.Valid && t.ChainingEnabled.Load() {
			if err := t.Manager.AddJump(prev, prevSlot, block); err != nil {
				slog.Warn("translator: chain failed", "err", err)
			}
		}
		prev = nil

		if t.OnBlockBegin != nil {
			t.OnBlockBegin(pc)
		}
		t.CPU.SetCurrentTB(block)
		slot, chainable, runErr := t.runOnce(block)
		t.CPU.SetCurrentTB(nil)

		var abort *arm64.AbortError
		if errors.As(runErr, &abort) && errors.Is(abort.Err, cpustate.ErrLoopExit) {
			resumePC, _, executed, ok := tb.Restore(block, abort.Word, tb.RestoreCurrent)
			if !ok {
				return pc, tb.ExitNoJump, fmt.Errorf("translator: restore at pc=%#x: %w", pc, runErr)
			}
			t.CPU.AddInsnCount(uint64(executed))
			pc = resumePC
			hops = 0
			continue
		}
		if runErr != nil {
			return pc, tb.ExitNoJump, fmt.Errorf("translator: run at pc=%#x: %w", pc, runErr)
		}
		if t.OnBlockFinished != nil {
			t.OnBlockFinished(pc, block.ICount)
		}
		t.CPU.AddInsnCount(uint64(block.ICount))
		nextPC = t.env()[PCWordOffset]

		if !chainable {
			return nextPC, tb.ExitNoJump, nil
		}

		hops++
		if hops >= t.MaxChain {
			return nextPC, tb.ExitJump, nil
		}

		prev, prevSlot = block, slot
		pc = nextPC
	}
}

// Start launches a goroutine that repeatedly calls Dispatch from pc until
// Stop is called or the CPU signals a fatal exit (§4.5's dispatch loop,
// grounded on the teacher's own core.Start/Stop goroutine-plus-done-channel
// shape).
func (t *Translator) Start(pc, csBase uint64, flags uint32) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				return
			default:
			}
			next, reason, err := t.Dispatch(pc, csBase, flags)
			if err != nil {
				slog.Error("translator: dispatch error", "err", err)
				return
			}
			pc = next
			if reason == tb.ExitForce && t.CPU.ExitRequested() {
				return
			}
		}
	}()
}

// Stop signals the dispatch goroutine to exit and waits up to one second
// for it to do so (mirrors the teacher's core.Stop timeout pattern).
func (t *Translator) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.CPU.SetExitRequest(true)
	close(t.done)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("translator: timed out waiting for dispatch loop to stop")
	}
}
