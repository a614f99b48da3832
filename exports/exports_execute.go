/*
 * tlibcore - execution control (§6 "Execution")
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

import "github.com/openhw-tlib/tlibcore/tb"

// TlibExecute runs the CPU from its current resume point for up to
// maxInsns retired guest instructions (0 meaning "run until some other
// exit reason"), returning why execution stopped (§6 "tlib_execute
// (max_insns) -> exit_reason"). A paused Core returns ExitForce without
// entering the dispatcher at all.
func TlibExecute(maxInsns uint64) (ExitReason, error) {
	c, err := active()
	if err != nil {
		return 0, err
	}

	if c.paused.Load() {
		return ExitForce, nil
	}

	c.mu.Lock()
	pc, csBase, flags := c.pc, c.csBase, c.flags
	c.mu.Unlock()

	start := c.tr.CPU.InsnCount
	var reason tb.ExitReason
	for {
		next, r, err := c.tr.Dispatch(pc, csBase, flags)
		if err != nil {
			return 0, err
		}
		pc, reason = next, r

		budgetSpent := maxInsns != 0 && c.tr.CPU.InsnCount-start >= maxInsns
		if reason != tb.ExitJump || budgetSpent || c.tr.CPU.ExitRequested() {
			break
		}
	}

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	c.tr.CPU.SetExitRequest(false)

	return reason, nil
}

// TlibSetReturnRequest asks a (possibly concurrently running) TlibExecute to
// return at the next block boundary, the same mechanism an asynchronous
// interrupt uses to interrupt a long-running chain of blocks (§6
// "tlib_set_return_request").
func TlibSetReturnRequest() error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.CPU.SetExitRequest(true)
	return nil
}

// TlibSetPaused marks the Core paused: every subsequent TlibExecute call
// returns ExitForce immediately without translating or running anything
// (§6 "tlib_set_paused").
func TlibSetPaused() error {
	c, err := active()
	if err != nil {
		return err
	}
	c.paused.Store(true)
	return nil
}

// TlibClearPaused clears a previous TlibSetPaused (§6 "tlib_clear_paused").
func TlibClearPaused() error {
	c, err := active()
	if err != nil {
		return err
	}
	c.paused.Store(false)
	return nil
}

// TlibSetPC overrides the guest program counter TlibExecute will next resume
// at; not itself a named §6 function, but the only way an embedder can
// point execution anywhere after TlibInit/TlibReset leave it at (0,0,0).
func TlibSetPC(pc, csBase uint64, flags uint32) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pc, c.csBase, c.flags = pc, csBase, flags
	return nil
}
