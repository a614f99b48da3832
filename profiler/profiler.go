/*
 * tlibcore - guest execution profiler.
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

// Package profiler samples translation-block dispatch on a regular
// tick, the way the teacher's emu/timer package delivers a regular
// clock pulse, and reports per-window retired-instruction and
// block-dispatch counts once tlib_enable_guest_profiler is on.
package profiler

import (
	"sync"
	"time"

	"github.com/openhw-tlib/tlibcore/exports"
)

const defaultWindow = 100 * time.Millisecond

// Sample is one completed sampling window's counters.
type Sample struct {
	Blocks int
	Insns  int
}

// Profiler implements exports.HookSink, accumulating per-window block
// and instruction counts while exports.ProfilerEnabled is true, and
// delivering one Sample per tick on Samples().
type Profiler struct {
	wg       sync.WaitGroup
	window   time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	samples  chan Sample
	mu       sync.Mutex
	blocks   int
	insns    int
}

// New creates a profiler sampling every window (defaultWindow if zero).
// Samples are delivered on the channel Samples returns, which buffers 16;
// a sample that finds the buffer full is dropped, so Stop never waits on
// a reader.
func New(window time.Duration) *Profiler {
	if window <= 0 {
		window = defaultWindow
	}
	p := &Profiler{
		window:  window,
		done:    make(chan struct{}),
		samples: make(chan Sample, 16),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Samples returns the channel Sample values are delivered on.
func (p *Profiler) Samples() <-chan Sample {
	return p.samples
}

// Stop halts sampling and waits for the ticking goroutine to exit.
func (p *Profiler) Stop() {
	close(p.done)
	p.wg.Wait()
}

// BlockBegin is a no-op; only completed blocks count toward a sample.
func (p *Profiler) BlockBegin(uint64) {}

// BlockFinished records one retired block and its instruction count,
// but only while the embedder has the profiler enabled.
func (p *Profiler) BlockFinished(_ uint64, icount int) {
	enabled, err := exports.ProfilerEnabled()
	if err != nil || !enabled {
		return
	}
	p.mu.Lock()
	p.blocks++
	p.insns += icount
	p.mu.Unlock()
}

func (p *Profiler) run() {
	defer p.wg.Done()
	p.ticker = time.NewTicker(p.window)
	defer p.ticker.Stop()

	for {
		select {
		case <-p.ticker.C:
			p.mu.Lock()
			sample := Sample{Blocks: p.blocks, Insns: p.insns}
			p.blocks, p.insns = 0, 0
			p.mu.Unlock()
			select {
			case p.samples <- sample:
			default: // drop sample rather than block the ticker
			}
		case <-p.done:
			return
		}
	}
}
