/*
 * tlibcore - fans one exports.HookSink out to the console tracer and
 * the profiler, since SetHookSink only ever installs one receiver.
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

package main

import (
	"time"

	"github.com/openhw-tlib/tlibcore/console"
	"github.com/openhw-tlib/tlibcore/profiler"
)

type hookFanout struct {
	tracer   *console.Tracer
	profiler *profiler.Profiler
}

func newHookFanout() *hookFanout {
	return &hookFanout{
		tracer:   &console.Tracer{},
		profiler: profiler.New(100 * time.Millisecond),
	}
}

func (h *hookFanout) BlockBegin(pc uint64) {
	h.tracer.BlockBegin(pc)
	h.profiler.BlockBegin(pc)
}

func (h *hookFanout) BlockFinished(pc uint64, icount int) {
	h.tracer.BlockFinished(pc, icount)
	h.profiler.BlockFinished(pc, icount)
}
