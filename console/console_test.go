/*
 * tlibcore - console command dispatch tests.
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

package console

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openhw-tlib/tlibcore/exports"
	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/translator"
)

type fakeCallbacks struct{ ram []byte }

func newFakeCallbacks() *fakeCallbacks { return &fakeCallbacks{ram: make([]byte, 1<<16)} }

func (f *fakeCallbacks) ReadByte(addr uint64) uint8        { return f.ram[addr] }
func (f *fakeCallbacks) WriteByte(addr uint64, v uint8)    { f.ram[addr] = v }
func (f *fakeCallbacks) ReadHalf(uint64) uint16            { return 0 }
func (f *fakeCallbacks) WriteHalf(uint64, uint16)          {}
func (f *fakeCallbacks) ReadWord(uint64) uint32            { return 0 }
func (f *fakeCallbacks) WriteWord(uint64, uint32)          {}
func (f *fakeCallbacks) ReadDouble(uint64) uint64          { return 0 }
func (f *fakeCallbacks) WriteDouble(uint64, uint64)        {}
func (f *fakeCallbacks) OnInterruptBegin(int)              {}
func (f *fakeCallbacks) OnInterruptEnd(int)                {}
func (f *fakeCallbacks) OnTranslationCacheSizeChange(int)  {}
func (f *fakeCallbacks) Abort(string)                      {}
func (f *fakeCallbacks) Printf(string, ...any)              {}
func (f *fakeCallbacks) MMUFaultExternalHandler(uint64, int) bool { return false }
func (f *fakeCallbacks) GuestOffsetToHostPtr(uint64) uintptr      { return 0 }
func (f *fakeCallbacks) HostPtrToGuestOffset(uintptr) uint64      { return 0 }
func (f *fakeCallbacks) InvalidateTBInOtherCPUs(uint64, uint64)   {}

// loopDecode always jumps back to its own PC, so the CPU never retires
// a real instruction; tests drive it with TlibSetPaused/TlibExecute
// budgets rather than relying on natural termination.
func loopDecode() translator.Decoder {
	return func(b *ir.Builder, pc, _ uint64, _ uint32) error {
		env := b.NewGlobalTemp(ir.Ptr, "env")
		next := b.NewTemp(ir.I64, "next")
		b.EmitInsnStart(pc, pc)
		b.EmitMovI(next, int64(pc))
		b.EmitSt(next, env, int64(translator.PCWordOffset*8))
		b.EmitExitTB(2)
		return nil
	}
}

func setupCore(t *testing.T) {
	t.Helper()
	cb := newFakeCallbacks()
	require.NoError(t, exports.TlibInit("test-cpu", loopDecode(), cb))
	require.NoError(t, exports.TlibSetRAM(cb.ram))
	require.NoError(t, exports.TlibSetPC(0x1000, 0, 0))
	t.Cleanup(exports.TlibDispose)
}

func TestMatchListPrefixAndMinimum(t *testing.T) {
	match := matchList("br")
	require.Len(t, match, 1)
	require.Equal(t, "break", match[0].name)

	match = matchList("q")
	require.Len(t, match, 1)
	require.Equal(t, "quit", match[0].name)
}

func TestMatchListRequiresCommandMinimum(t *testing.T) {
	// "st" is long enough to resolve to "step" (min 2) but not "stop"
	// (min 3), so it resolves unambiguously rather than colliding.
	match := matchList("st")
	require.Len(t, match, 1)
	require.Equal(t, "step", match[0].name)
}

func TestProcessCommandUnknown(t *testing.T) {
	_, err := ProcessCommand("bogus")
	require.Error(t, err)
}

func TestProcessCommandQuit(t *testing.T) {
	quit, err := ProcessCommand("quit")
	require.NoError(t, err)
	require.True(t, quit)
}

func TestBreakAndDeleteRoundTrip(t *testing.T) {
	setupCore(t)

	quit, err := ProcessCommand("break 1008")
	require.NoError(t, err)
	require.False(t, quit)

	_, err = ProcessCommand("delete 1008")
	require.NoError(t, err)
}

func TestBreakMissingAddressErrors(t *testing.T) {
	setupCore(t)

	_, err := ProcessCommand("break")
	require.Error(t, err)
}

func TestRegsReportsConfiguredRegisters(t *testing.T) {
	setupCore(t)

	quit, err := ProcessCommand("regs")
	require.NoError(t, err)
	require.False(t, quit)
}

func TestStopPausesExecution(t *testing.T) {
	setupCore(t)

	_, err := ProcessCommand("stop")
	require.NoError(t, err)

	reason, err := exports.TlibExecute(1)
	require.NoError(t, err)
	require.Equal(t, exports.ExitForce, reason)
}

func TestFlushInvalidatesCache(t *testing.T) {
	setupCore(t)

	_, err := ProcessCommand("flush")
	require.NoError(t, err)
}

func TestCompleteCmdReturnsMatches(t *testing.T) {
	matches := CompleteCmd("br")
	require.Equal(t, []string{"break"}, matches)
}
