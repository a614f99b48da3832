/*
 * tlibcore - embedder callback contract (§6)
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

// Package exports is the thin C-ABI-shaped surface an embedder links
// against: lifecycle, execution, TB-cache control, memory mapping, MMU
// windowing, interrupts, breakpoints, state export/restore and the
// observability hooks (§6), each named after its spec counterpart and
// forwarding 1:1 to the real subsystem underneath.
package exports

import "github.com/openhw-tlib/tlibcore/softtlb"

// EmbedderCallbacks is everything the core calls back into the embedder
// for: the guest memory access family (embedded from softtlb.MMIOHandler,
// since an MMIO-routed load/store and an embedder callback are the exact
// same shape) plus interrupt delivery, translation-cache sizing,
// diagnostics, MMU fault handling and cross-CPU invalidation (§6
// "Callbacks the embedder must implement").
type EmbedderCallbacks interface {
	softtlb.MMIOHandler

	// OnInterruptBegin/OnInterruptEnd bracket the core's own handling of
	// a delivered interrupt, letting the embedder update any external
	// interrupt-controller state (tlib_on_interrupt_begin/_end).
	OnInterruptBegin(irq int)
	OnInterruptEnd(irq int)

	// OnTranslationCacheSizeChange notifies the embedder after the arena
	// grows (tlib_on_translation_cache_size_change).
	OnTranslationCacheSizeChange(newSize int)

	// Abort reports a translation-time fatal error; the embedder is
	// expected to terminate the simulation (tlib_abort).
	Abort(reason string)

	// Printf forwards a core diagnostic line for the embedder to surface
	// however it logs guest output (tlib_printf).
	Printf(format string, args ...any)

	// MMUFaultExternalHandler lets an embedder satisfy a soft-TLB miss
	// itself (windowed MMU mode) instead of the core's own refill path;
	// returning false means "I didn't handle it, fault normally"
	// (tlib_mmu_fault_external_handler).
	MMUFaultExternalHandler(addr uint64, accessType int) bool

	// GuestOffsetToHostPtr/HostPtrToGuestOffset translate between a
	// guest physical offset and the embedder's own host-side mapping of
	// it, used by the MMU-window accessors below.
	GuestOffsetToHostPtr(offset uint64) uintptr
	HostPtrToGuestOffset(ptr uintptr) uint64

	// InvalidateTBInOtherCPUs lets a multi-CPU embedder broadcast a
	// physical-range invalidation to sibling translator instances before
	// this one's own InvalidatePhysPageRange call proceeds
	// (tlib_invalidate_tb_in_other_cpus, §5 "broadcast invalidations").
	InvalidateTBInOtherCPUs(start, end uint64)
}
