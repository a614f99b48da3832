/*
 * tlibcore - state-restoration search table (§4.1)
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

import (
	"github.com/openhw-tlib/tlibcore/hostasm/arm64"
)

// MaxInsnStartWords mirrors ir.MaxInsnStartWords; duplicated here (rather
// than imported) so this file has no dependency on package ir -- the search
// table is a pure byte format, not an IR concern.
const MaxInsnStartWords = 2

// searchRow is one decoded row of the search table: the host word index the
// row starts at (in 4-byte AArch64 words, matching hostasm/arm64.Boundary),
// the guest PC at that boundary, and its recorded insn_start words.
type searchRow struct {
	Word  int
	PC    uint64
	Words [MaxInsnStartWords]uint64
}

// encodeSearchTable builds the LEB128 search table described in §4.1: each
// column (host-word delta, PC delta, each insn-word delta) is signed
// LEB128 encoded as a difference from the previous row, seeded
// from tb.pc and word index 0.
func encodeSearchTable(boundaries []arm64.Boundary, tbPC uint64) []byte {
	var out []byte
	prevWord := 0
	prevPC := tbPC
	var prevWords [MaxInsnStartWords]uint64

	for _, b := range boundaries {
		out = appendSLEB(out, int64(b.Word-prevWord))
		out = appendSLEB(out, int64(b.PC-prevPC))
		for i := 0; i < MaxInsnStartWords; i++ {
			var w uint64
			if i < len(b.Words) {
				w = b.Words[i]
			}
			out = appendSLEB(out, int64(w-prevWords[i]))
			prevWords[i] = w
		}
		prevWord = b.Word
		prevPC = b.PC
	}
	return out
}

// decodeSearchTable walks the table back into rows, reversing
// encodeSearchTable exactly (§8 property 4: "state-restoration round-trip").
func decodeSearchTable(data []byte, tbPC uint64) []searchRow {
	var rows []searchRow
	pos := 0
	word := 0
	pc := tbPC
	var words [MaxInsnStartWords]uint64

	for pos < len(data) {
		dWord, n := readSLEB(data[pos:])
		pos += n
		word += int(dWord)

		dPC, n := readSLEB(data[pos:])
		pos += n
		pc += uint64(dPC)

		for i := 0; i < MaxInsnStartWords; i++ {
			dW, n := readSLEB(data[pos:])
			pos += n
			words[i] += uint64(dW)
		}

		rows = append(rows, searchRow{Word: word, PC: pc, Words: words})
	}
	return rows
}

// RestoreMode selects which guest instruction boundary Restore resolves to.
type RestoreMode int

const (
	// RestoreCurrent resolves to the instruction a fault occurred in (the
	// last boundary at or before hostWord) -- used for synchronous faults.
	RestoreCurrent RestoreMode = iota
	// RestoreNext resolves to the instruction following the one a pending
	// interrupt should let complete -- used for asynchronous interrupts.
	RestoreNext
)

// Restore walks tb's encoded search table to reconstruct, for a host word
// index reached inside the block, the guest PC, the per-instruction words
// recorded at that boundary, and the number of guest instructions that have
// retired strictly before it (§4.1, §8 property 4).
func Restore(t *TranslationBlock, hostWord int, mode RestoreMode) (pc uint64, words [MaxInsnStartWords]uint64, executed int, ok bool) {
	rows := decodeSearchTable(t.TCSearch, t.PC)
	if len(rows) == 0 {
		return 0, words, 0, false
	}

	idx := -1
	for i, r := range rows {
		if r.Word <= hostWord {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return 0, words, 0, false
	}
	if mode == RestoreNext && idx+1 < len(rows) {
		idx++
	}
	return rows[idx].PC, rows[idx].Words, idx, true
}

func appendSLEB(out []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func readSLEB(data []byte) (int64, int) {
	var result int64
	var shift uint
	var n int
	for {
		b := data[n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
	}
	return result, n
}
