/*
 * tlibcore - Per-block trace recorder, wired as an exports.HookSink.
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
	"fmt"
	"sync"
)

// Tracer implements exports.HookSink, printing one line per translated
// block when tracing is enabled and remembering the most recent block's
// entry PC and the running instruction count for LastPC/InsnCount.
type Tracer struct {
	mu      sync.Mutex
	enabled bool
	lastPC  uint64
	icount  int
}

// SetEnabled turns per-block trace printing on or off; the sink itself
// stays installed either way so lastPC tracking never lapses.
func (t *Tracer) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// BlockBegin records the entry PC of a block about to run.
func (t *Tracer) BlockBegin(pc uint64) {
	t.mu.Lock()
	t.lastPC = pc
	enabled := t.enabled
	t.mu.Unlock()
	if enabled {
		fmt.Printf("trace: enter %#x\n", pc)
	}
}

// BlockFinished records how many instructions a block retired before
// leaving, adding them to the total InsnCount reports.
func (t *Tracer) BlockFinished(pc uint64, icount int) {
	t.mu.Lock()
	t.icount += icount
	enabled := t.enabled
	t.mu.Unlock()
	if enabled {
		fmt.Printf("trace: leave %#x (%d insns)\n", pc, icount)
	}
}

// LastPC returns the entry PC of the most recently begun block.
func (t *Tracer) LastPC() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPC
}

// InsnCount returns the running total of retired instructions this
// tracer has observed through BlockFinished.
func (t *Tracer) InsnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.icount
}
