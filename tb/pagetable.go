/*
 * tlibcore - two-level radix-trie page descriptor tables (§3, §4.1)
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

package tb

// PageBits is the guest page shift (4K pages).
const PageBits = 12

// L2Bits/L2Size size each leaf of the radix trie (§3 "L2_BITS=10-bit indices
// per level. Leaves are arrays of 1024 descriptors").
const (
	L2Bits = 10
	L2Size = 1 << L2Bits
)

// L1Bits/L1Size size the root array (V_L1_SIZE / P_L1_SIZE). Sized to cover a
// 26-bit guest physical page number (38-bit physical address space at 4K
// pages) in two levels, matching the "sparse, constant-depth map without
// per-page allocation" goal without needing a third level.
const (
	L1Bits = 16
	L1Size = 1 << L1Bits
)

// PageDesc is the per-page descriptor keyed by guest physical page number
// (§3 "Page descriptor"): the head of the page_next TB list plus an optional
// SMC code bitmap.
type PageDesc struct {
	TBHead    int // head TB index of this page's page_next list, NoTB if empty
	CodeWrites int // write count, used to decide when to build CodeBitmap
	CodeBitmap []byte // built after WriteThreshold writes; nil until then
}

// WriteThreshold is the write count at which a page gets a code bitmap
// allocated (§4.1 "after the 10th write to a page"). InvalidatePhysPageRange
// does not fill in or consult the bitmap; range tests stay page-granular.
const WriteThreshold = 10

// pageTrie is a two-level radix trie from guest physical page number to *T,
// leaves allocated on first touch (§9 "Radix tries" -- they must survive
// tb_flush and are only torn down at translator disposal).
type pageTrie[T any] struct {
	l1 [L1Size]*[L2Size]*T
}

func newPageTrie[T any]() *pageTrie[T] {
	return &pageTrie[T]{}
}

func split(pageNum uint64) (l1, l2 int) {
	return int(pageNum>>L2Bits) & (L1Size - 1), int(pageNum) & (L2Size - 1)
}

// Get returns the descriptor for pageNum, allocating it (and its leaf, on
// first touch) if create is true; returns (nil, false) if create is false
// and no descriptor exists yet. created reports whether this call allocated
// a fresh zero-value descriptor, so the caller can apply its own defaults
// (the generic zero value can't encode e.g. a -1 "no TB" sentinel).
func (t *pageTrie[T]) Get(pageNum uint64, create bool) (desc *T, created bool) {
	l1, l2 := split(pageNum)
	leaf := t.l1[l1]
	if leaf == nil {
		if !create {
			return nil, false
		}
		leaf = &[L2Size]*T{}
		t.l1[l1] = leaf
	}
	d := leaf[l2]
	if d == nil {
		if !create {
			return nil, false
		}
		d = new(T)
		leaf[l2] = d
		created = true
	}
	return d, created
}
