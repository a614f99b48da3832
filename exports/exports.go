/*
 * tlibcore - external C-ABI surface (§6)
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
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openhw-tlib/tlibcore/codearena"
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
	"github.com/openhw-tlib/tlibcore/softtlb"
	"github.com/openhw-tlib/tlibcore/tb"
	"github.com/openhw-tlib/tlibcore/translator"
)

// defaultEnvWords/defaultArenaSize size a freshly initialized Core when the
// embedder does not otherwise specify; both are generous enough for a
// small-to-medium guest CPU state and an initial code arena that will grow
// on demand (codearena.GrowOnce).
const (
	defaultEnvWords  = 4096
	defaultArenaSize = 0 // 0 lets codearena.New fall back to its own default
)

// ErrNotInitialized is returned by every exported function when called
// before TlibInit or after TlibDispose (§6 implicitly requires TlibInit
// first; the teacher's own command package returns a plain error rather
// than panicking on a missing receiver, which this mirrors).
var ErrNotInitialized = errors.New("exports: tlib not initialized")

// Core is the single translator instance one embedder process links
// against -- one guest CPU, its code arena, physical memory table and soft
// TLB dispatcher, and the callbacks it reports back through (§5 "single
// executing CPU context per translator instance").
type Core struct {
	mu sync.Mutex

	name string

	tr   *translator.Translator
	arena *codearena.Arena
	phys  *softtlb.PhysTable
	disp  *softtlb.Dispatcher
	cb    EmbedderCallbacks

	pc, csBase uint64
	flags      uint32

	paused atomic.Bool

	blockBeginHook    atomic.Bool
	blockFinishedHook atomic.Bool
	profilerEnabled   atomic.Bool
	hookSink          HookSink

	irqs map[int]bool

	windowMMUEnabled bool
	windows          []*mmuWindow
}

var (
	coreMu  sync.Mutex
	current *Core
)

// active returns the live Core or ErrNotInitialized.
func active() (*Core, error) {
	coreMu.Lock()
	defer coreMu.Unlock()
	if current == nil {
		return nil, ErrNotInitialized
	}
	return current, nil
}

// TlibInit creates the single global Core for cpuName, wiring a fresh code
// arena, physical memory table, soft-TLB dispatcher and translator around
// decode and cb (§6 "tlib_init(cpu_name)"). A second call without an
// intervening TlibDispose replaces the previous instance outright, mirroring
// the teacher's own single-global-state command package.
func TlibInit(cpuName string, decode translator.Decoder, cb EmbedderCallbacks) error {
	coreMu.Lock()
	defer coreMu.Unlock()

	arena := codearena.New(defaultArenaSize)
	phys := softtlb.NewPhysTable()

	c := &Core{
		name:  cpuName,
		arena: arena,
		phys:  phys,
		cb:    cb,
	}

	tr := translator.New(make(translator.EnvWords, defaultEnvWords), arena, decode)
	c.disp = softtlb.NewDispatcher(phys, tr.Manager, cb, tr.CPU, nil)
	tr.Helper = c.dispatchHelper
	c.tr = tr

	current = c
	return nil
}

// TlibDispose tears down the global Core, stopping its dispatch loop if one
// was started (§6 "tlib_dispose").
func TlibDispose() {
	coreMu.Lock()
	c := current
	current = nil
	coreMu.Unlock()

	if c == nil {
		return
	}
	c.tr.Stop()
}

// TlibReset flushes the translation cache and soft TLB and rewinds the CPU's
// resume point to zero, without tearing down the Core itself (§6
// "tlib_reset").
func TlibReset() error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tr.Manager.FlushAll()
	c.tr.CPU.JumpCacheFlushAll()
	c.disp.TLB.Flush()
	c.pc, c.csBase, c.flags = 0, 0, 0
	c.paused.Store(false)
	return nil
}

// setRAM wires phys's registered RAM regions to the backing byte slice
// generated memory ops fall through to; an embedder calls it (through
// TlibSetRAM) once after TlibInit and before its first TlibExecute, or
// whenever it grows/replaces its RAM image. Not part of §6's named surface,
// but needed to actually exercise it -- TlibInit builds the
// softtlb.Dispatcher with no RAM slice, and this assigns Dispatcher.RAM
// afterwards rather than hiding RAM wiring from the embedder entirely.
func (c *Core) setRAM(ram []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disp.RAM = ram
}

// TlibSetRAM installs the embedder's flat RAM-backing slice the soft TLB
// dispatches RAM-routed accesses against.
func TlibSetRAM(ram []byte) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.setRAM(ram)
	return nil
}

// dispatchHelper is the Machine.Helper wired into the translator: it
// resolves the handful of memory-access and interrupt helper names a
// Decoder's EmitCall may reference to calls against c.disp/c.cb, following
// a fixed register convention (Regs[0]=mmu index, Regs[1]=
// guest address, Regs[2]=store value; a load result lands back in
// Regs[0]) documented in helpers.go.
func (c *Core) dispatchHelper(name string, m *arm64.Machine) {
	dispatchHelper(c, name, m)
}

// ExitReason re-exports tb.ExitReason under the package embedders actually
// import, so callers of TlibExecute never need to import package tb
// themselves for the return value's type.
type ExitReason = tb.ExitReason

const (
	ExitNoJump = tb.ExitNoJump
	ExitJump   = tb.ExitJump
	ExitForce  = tb.ExitForce
)
