/*
 * tlibcore - flat-RAM embedder callbacks for the CLI harness.
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
	"encoding/binary"
	"fmt"
	"log/slog"
)

// hostEmbedder is the simplest possible exports.EmbedderCallbacks: one
// flat byte slice for RAM, no MMIO devices, no multi-CPU fan-out. It
// exists so the CLI has something concrete to hand TlibInit; a real
// embedder supplies its own, typically backed by guest device models.
type hostEmbedder struct {
	ram []byte
}

func newHostEmbedder(ram []byte) *hostEmbedder {
	return &hostEmbedder{ram: ram}
}

func (h *hostEmbedder) ReadByte(addr uint64) uint8     { return h.ram[addr] }
func (h *hostEmbedder) WriteByte(addr uint64, v uint8)  { h.ram[addr] = v }
func (h *hostEmbedder) ReadHalf(addr uint64) uint16 {
	return binary.LittleEndian.Uint16(h.ram[addr:])
}
func (h *hostEmbedder) WriteHalf(addr uint64, v uint16) {
	binary.LittleEndian.PutUint16(h.ram[addr:], v)
}
func (h *hostEmbedder) ReadWord(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(h.ram[addr:])
}
func (h *hostEmbedder) WriteWord(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(h.ram[addr:], v)
}
func (h *hostEmbedder) ReadDouble(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(h.ram[addr:])
}
func (h *hostEmbedder) WriteDouble(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(h.ram[addr:], v)
}

func (h *hostEmbedder) OnInterruptBegin(irq int) { slog.Debug("interrupt begin", "irq", irq) }
func (h *hostEmbedder) OnInterruptEnd(irq int)   { slog.Debug("interrupt end", "irq", irq) }

func (h *hostEmbedder) OnTranslationCacheSizeChange(newSize int) {
	slog.Debug("translation cache resized", "bytes", newSize)
}

func (h *hostEmbedder) Abort(reason string) {
	slog.Error("core aborted", "reason", reason)
}

func (h *hostEmbedder) Printf(format string, args ...any) {
	slog.Info("guest: " + fmt.Sprintf(format, args...))
}

func (h *hostEmbedder) MMUFaultExternalHandler(addr uint64, accessType int) bool { return false }
func (h *hostEmbedder) GuestOffsetToHostPtr(offset uint64) uintptr              { return 0 }
func (h *hostEmbedder) HostPtrToGuestOffset(ptr uintptr) uint64                 { return 0 }
func (h *hostEmbedder) InvalidateTBInOtherCPUs(start, end uint64)               {}
