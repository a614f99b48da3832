/*
 * tlibcore - translation cache control (§6 "TB control")
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

// TlibInvalidateTranslationBlocks discards every block on each guest
// physical page the byte range [start, end) touches -- whole pages, so a
// block on such a page is discarded even when its code lies outside the
// range (§6 "tlib_invalidate_translation_blocks(start,end)").
func TlibInvalidateTranslationBlocks(start, end uint64) error {
	c, err := active()
	if err != nil {
		return err
	}
	if end <= start {
		return nil
	}
	c.tr.Manager.InvalidatePhysPageRange(start, end, false)
	return nil
}

// TlibInvalidateTranslationCache discards every translation block and soft
// TLB entry, growing-back the code arena to its post-flush state (§6
// "tlib_invalidate_translation_cache").
func TlibInvalidateTranslationCache() error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.Manager.FlushAll()
	c.tr.CPU.JumpCacheFlushAll()
	c.disp.TLB.Flush()
	return nil
}

// TlibInvalidateTBInOtherCPUs lets this Core act as the broadcast target of
// a sibling translator instance's cross-CPU invalidation (§5 "the embedding
// host may host several translator instances and may call
// tlib_invalidate_tb_in_other_cpus to broadcast invalidations"). The caller
// is expected to have already quiesced this CPU.
func TlibInvalidateTBInOtherCPUs(start, end uint64) error {
	return TlibInvalidateTranslationBlocks(start, end)
}

// TlibSetChainingEnabled toggles whether Dispatch links a block directly to
// its chained successor, or always returns to this loop between blocks
// (§6 "tlib_set_chaining_enabled"). Disabling it is typically paired with
// single-stepping under the debug console.
func TlibSetChainingEnabled(enabled bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.ChainingEnabled.Store(enabled)
	return nil
}

// TlibSetTBCacheEnabled toggles whether findOrBuild may reuse a
// previously-generated block at all, forcing a fresh translation on every
// block entry when false (§6 "tlib_set_tb_cache_enabled").
func TlibSetTBCacheEnabled(enabled bool) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.TBCacheEnabled.Store(enabled)
	return nil
}

// TlibSetMaximumBlockSize bounds how many guest instructions a single future
// translation block may contain (§6 "tlib_set_maximum_block_size"); 0 means
// unlimited.
func TlibSetMaximumBlockSize(maxInsns int) error {
	c, err := active()
	if err != nil {
		return err
	}
	c.tr.Manager.SetMaxInsns(maxInsns)
	return nil
}
