/*
 * tlibcore - interrupts, breakpoints, state and observability (§6)
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
	"encoding/binary"
	"fmt"
)

// TlibSetIrq asserts or deasserts irq, notifying cb.OnInterruptBegin/
// OnInterruptEnd exactly once per edge (§6 "tlib_set_irq"). The decision of
// whether/when a Decoder-emitted helper actually delivers the interrupt into
// guest state is the embedder's; this call only tracks the pending/assert
// state the core reports back through TlibIsIrqSet and the
// cpustate.CPUState interrupt-pending flag TlibExecute's dispatch loop
// observes via a Decoder's own helper checks.
func TlibSetIrq(irq int, level bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.irqs == nil {
		c.irqs = make(map[int]bool)
	}
	was := c.irqs[irq]
	c.irqs[irq] = level
	c.mu.Unlock()

	c.tr.CPU.SetInterruptPending(level)

	if level && !was {
		c.cb.OnInterruptBegin(irq)
	} else if !level && was {
		c.cb.OnInterruptEnd(irq)
	}
	return nil
}

// TlibIsIrqSet reports irq's last level set via TlibSetIrq (§6
// "tlib_is_irq_set").
func TlibIsIrqSet(irq int) (bool, error) {
	c, err := active()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqs[irq], nil
}

// TlibAddBreakpoint installs a breakpoint at (pc, flags) (§6
// "tlib_add_breakpoint").
func TlibAddBreakpoint(pc uint64, flags uint32) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.CPU.AddBreakpoint(pc, flags)
	return nil
}

// TlibRemoveBreakpoint removes a previously added breakpoint (§6
// "tlib_remove_breakpoint").
func TlibRemoveBreakpoint(pc uint64, flags uint32) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.CPU.RemoveBreakpoint(pc, flags)
	return nil
}

// TlibGetStateSize reports how many bytes TlibExportState will produce for
// the current CPU (§6 "tlib_get_state_size").
func TlibGetStateSize() (int, error) {
	c, err := active()
	if err != nil {
		return 0, err
	}
	return len(c.tr.Env()) * 8, nil
}

// TlibExportState serializes the entire register file to a flat
// little-endian byte slice (§6 "tlib_export_state"); the layout is opaque
// to the embedder and only meaningful fed back to TlibRestoreContext.
func TlibExportState() ([]byte, error) {
	c, err := active()
	if err != nil {
		return nil, err
	}
	env := c.tr.Env()
	out := make([]byte, len(env)*8)
	for i, w := range env {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out, nil
}

// TlibRestoreContext loads a byte slice previously produced by
// TlibExportState back into the register file (§6 "tlib_restore_context").
func TlibRestoreContext(data []byte) error {
	c, err := active()
	if err != nil {
		return err
	}
	env := c.tr.Env()
	if len(data) != len(env)*8 {
		return fmt.Errorf("exports: restore context: got %d bytes, want %d", len(data), len(env)*8)
	}
	for i := range env {
		env[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return nil
}

// TlibGetRegisterValue64/TlibGetRegisterValue32 and
// TlibSetRegisterValue64/TlibSetRegisterValue32 access one register-file
// word by index, at either width (§6 "tlib_{get,set}_register_value[_32|
// _64]"); the _32 forms operate on the word's low half, matching how the
// teacher's own register accessors narrow a wider backing field.

func TlibGetRegisterValue64(index int) (uint64, error) {
	c, err := active()
	if err != nil {
		return 0, err
	}
	env := c.tr.Env()
	if index < 0 || index >= len(env) {
		return 0, fmt.Errorf("exports: register index %d out of range", index)
	}
	return env[index], nil
}

func TlibSetRegisterValue64(index int, value uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	env := c.tr.Env()
	if index < 0 || index >= len(env) {
		return fmt.Errorf("exports: register index %d out of range", index)
	}
	env[index] = value
	return nil
}

func TlibGetRegisterValue32(index int) (uint32, error) {
	v, err := TlibGetRegisterValue64(index)
	return uint32(v), err
}

func TlibSetRegisterValue32(index int, value uint32) error {
	c, err := active()
	if err != nil {
		return err
	}
	env := c.tr.Env()
	if index < 0 || index >= len(env) {
		return fmt.Errorf("exports: register index %d out of range", index)
	}
	env[index] = env[index]&0xFFFFFFFF00000000 | uint64(value)
	return nil
}

// TlibSetBlockBeginHookPresent/TlibSetBlockFinishedHookPresent wire or
// unwire the translator's per-block hooks to whatever sink was installed
// with SetHookSink -- typically the console's single-step tracer or the
// profiler's sampler (§6 "tlib_set_block_{begin,finished}_hook_present").

func TlibSetBlockBeginHookPresent(present bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.blockBeginHook.Store(present)
	c.mu.Lock()
	sink := c.hookSink
	c.mu.Unlock()
	if present && sink != nil {
		c.tr.OnBlockBegin = sink.BlockBegin
	} else {
		c.tr.OnBlockBegin = nil
	}
	return nil
}

func TlibSetBlockFinishedHookPresent(present bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.blockFinishedHook.Store(present)
	c.mu.Lock()
	sink := c.hookSink
	c.mu.Unlock()
	if present && sink != nil {
		c.tr.OnBlockFinished = sink.BlockFinished
	} else {
		c.tr.OnBlockFinished = nil
	}
	return nil
}

// HookSink receives per-block notifications once wired by
// TlibSetBlockBeginHookPresent/TlibSetBlockFinishedHookPresent.
type HookSink interface {
	BlockBegin(pc uint64)
	BlockFinished(pc uint64, icount int)
}

// SetHookSink installs (or clears, with nil) the receiver of block hooks;
// re-applies the currently requested hook-present flags against it
// immediately so an embedder may call this before or after the
// TlibSetBlock*HookPresent calls in either order.
func SetHookSink(sink HookSink) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hookSink = sink
	beginWanted := c.blockBeginHook.Load()
	finishedWanted := c.blockFinishedHook.Load()
	c.mu.Unlock()

	if beginWanted && sink != nil {
		c.tr.OnBlockBegin = sink.BlockBegin
	} else {
		c.tr.OnBlockBegin = nil
	}
	if finishedWanted && sink != nil {
		c.tr.OnBlockFinished = sink.BlockFinished
	} else {
		c.tr.OnBlockFinished = nil
	}
	return nil
}

// TlibEnableGuestProfiler turns the instruction-count sampler on or off
// (§6 "tlib_enable_guest_profiler"). package profiler keys off this flag
// to decide whether to record the blocks it receives; it does not install
// itself as the HookSink -- the embedder does that with SetHookSink
// (cmd/tlibcore through its hook fan-out).
func TlibEnableGuestProfiler(enabled bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.profilerEnabled.Store(enabled)
	return nil
}

// ProfilerEnabled reports TlibEnableGuestProfiler's last-set value, for the
// profiler package's sampler to consult without re-deriving Core access
// rules itself.
func ProfilerEnabled() (bool, error) {
	c, err := active()
	if err != nil {
		return false, err
	}
	return c.profilerEnabled.Load(), nil
}
