/*
 * tlibcore - label binding and relocation bookkeeping (§3, §4.4)
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

package ir

// AddRelocation records a pending patch against an unbound label, or
// returns false if the label already has a value (the caller should patch
// immediately instead).
func (b *Builder) AddRelocation(l LabelID, r Relocation) (pending bool) {
	lbl := b.Labels[l]
	if lbl.HasValue {
		return false
	}
	lbl.Pending = append(lbl.Pending, r)
	return true
}

// BindLabel resolves a label to a host code offset. It returns the list of
// pending relocations the caller (package hostasm) must now patch; the list
// is cleared from the label afterwards.
func (b *Builder) BindLabel(l LabelID, value int) []Relocation {
	lbl := b.Labels[l]
	lbl.HasValue = true
	lbl.Value = value
	pending := lbl.Pending
	lbl.Pending = nil
	return pending
}
