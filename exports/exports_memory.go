/*
 * tlibcore - memory mapping and windowed MMU control (§6 "Memory mapping",
 * "MMU")
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
	"fmt"

	"github.com/openhw-tlib/tlibcore/softtlb"
)

// TlibMapRange registers [base, base+size) as RAM-backed, base landing at
// the start of the embedder's RAM slice and each later page at its offset
// from base (§6 "tlib_map_range"). Passing a size smaller than
// softtlb.PageBits' page width still reserves the whole containing page;
// regionOffset is recorded on each page to distinguish which backing region
// an embedder exposing more than one RAM/ROM area means, and does not shift
// where in the RAM slice the range lands.
func TlibMapRange(base, size uint64, regionOffset int64) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phys.RegisterRAM(base, size, regionOffset)
	c.disp.TLB.Flush()
	return nil
}

// TlibMapMMIO registers [base, base+size) as MMIO-routed, so every access
// in range falls through to the EmbedderCallbacks read/write family instead
// of RAM (§6 "tlib_map_range" extended to non-RAM regions).
func TlibMapMMIO(base, size uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phys.RegisterMMIO(base, size)
	c.disp.TLB.Flush()
	return nil
}

// TlibUnmapRange reverts [base, base+size) to unmapped, undoing whatever
// TlibMapRange/TlibMapMMIO previously recorded for it (§6
// "tlib_unmap_range").
func TlibUnmapRange(base, size uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phys.Unregister(base, size)
	c.disp.TLB.Flush()
	return nil
}

// TlibIsRangeMapped reports whether every page in [base, base+size) has
// been claimed by a prior TlibMapRange/TlibMapMMIO call (§6
// "tlib_is_range_mapped").
func TlibIsRangeMapped(base, size uint64) (bool, error) {
	c, err := active()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr := base; addr < base+size; addr += 1 << softtlb.PageBits {
		if !c.phys.Registered(addr) {
			return false, nil
		}
	}
	return true, nil
}

// TlibSetPageIOAccessed marks (or clears) addr's page as carrying live
// translated code for self-modifying-code write tracking, the same bit the
// soft TLB's own notdirty path flips on a write through generated code
// (§6 "tlib_set_page_io_accessed").
func TlibSetPageIOAccessed(addr uint64, accessed bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.phys.SetHasCode(addr, accessed)
	return nil
}

// mmuWindow is one externally-managed MMU translation window: guest
// addresses in [start, end) translate to host/physical addend+addr, subject
// to privileges (§6 "MMU" family). Acquired via TlibAcquireMMUWindow and
// addressed by the index that call returns.
type mmuWindow struct {
	start, end uint64
	addend     int64
	privileges uint32
}

// TlibEnableExternalWindowMMU switches address translation from the normal
// soft-TLB/physical-table path to the windowed scheme TlibAcquireMMUWindow
// and friends configure (§6 "tlib_enable_external_window_mmu").
func TlibEnableExternalWindowMMU(enabled bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowMMUEnabled = enabled
	if !enabled {
		c.windows = nil
	}
	return nil
}

// TlibAcquireMMUWindow allocates a new, initially empty translation window
// and returns its index for use with the TlibSetMMUWindow* family (§6
// "tlib_acquire_mmu_window").
func TlibAcquireMMUWindow() (int, error) {
	c, err := active()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.windows)
	c.windows = append(c.windows, &mmuWindow{})
	return idx, nil
}

func (c *Core) window(idx int) (*mmuWindow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.windows) {
		return nil, fmt.Errorf("exports: mmu window %d not acquired", idx)
	}
	return c.windows[idx], nil
}

// TlibSetMMUWindowStart/TlibSetMMUWindowEnd/TlibSetMMUWindowAddend configure
// window idx's guest address range and guest-to-host displacement (§6
// "tlib_set_mmu_window_{start,end,addend}").

func TlibSetMMUWindowStart(idx int, start uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	w, err := c.window(idx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	w.start = start
	c.mu.Unlock()
	return nil
}

func TlibSetMMUWindowEnd(idx int, end uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	w, err := c.window(idx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	w.end = end
	c.mu.Unlock()
	return nil
}

func TlibSetMMUWindowAddend(idx int, addend int64) error {
	c, err := active()
	if err != nil {
		return err
	}
	w, err := c.window(idx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	w.addend = addend
	c.mu.Unlock()
	return nil
}

// TlibSetWindowPrivileges sets the access-permission bitmask an access
// through window idx must satisfy (§6 "tlib_set_window_privileges"); the
// bit layout is the embedder's own convention, this core only stores and
// returns it.
func TlibSetWindowPrivileges(idx int, privileges uint32) error {
	c, err := active()
	if err != nil {
		return err
	}
	w, err := c.window(idx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	w.privileges = privileges
	c.mu.Unlock()
	return nil
}

// TlibTranslateToPhysicalAddress resolves a guest virtual address to a
// physical one: through whichever acquired window contains it if windowed
// MMU mode is enabled, or the identity mapping otherwise (§6
// "tlib_translate_to_physical_address"). ok is false if windowed mode is
// enabled but no window covers vaddr.
func TlibTranslateToPhysicalAddress(vaddr uint64) (phys uint64, ok bool, err error) {
	c, aerr := active()
	if aerr != nil {
		return 0, false, aerr
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.windowMMUEnabled {
		return vaddr, true, nil
	}
	for _, w := range c.windows {
		if vaddr >= w.start && vaddr < w.end {
			return uint64(int64(vaddr) + w.addend), true, nil
		}
	}
	return 0, false, nil
}
