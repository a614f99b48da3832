/*
 * tlibcore - Interactive debugger command dispatch.
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

// Package console is a minimal command-line debugger for a running
// core: breakpoints, single step, register dump, translation-cache
// control. It has no knowledge of guest devices; every command talks
// to the translator purely through the exports package, the same
// surface an embedder links against.
package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/openhw-tlib/tlibcore/exports"
)

type cmd struct {
	name    string
	min     int
	process func(*cmdLine) (bool, error)
}

type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "break", min: 2, process: cmdBreak},
	{name: "delete", min: 3, process: cmdDelete},
	{name: "continue", min: 1, process: cmdContinue},
	{name: "step", min: 2, process: cmdStep},
	{name: "stop", min: 3, process: cmdStop},
	{name: "regs", min: 2, process: cmdRegs},
	{name: "flush", min: 2, process: cmdFlush},
	{name: "reset", min: 3, process: cmdReset},
	{name: "quit", min: 1, process: cmdQuit},
}

// ProcessCommand executes a single command line, returning true once the
// console should stop reading further input.
func ProcessCommand(commandLine string) (bool, error) {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	match := matchList(name)
	if len(match) == 0 {
		return false, errors.New("command not found: " + name)
	}
	if len(match) > 1 {
		return false, errors.New("ambiguous command: " + name)
	}

	return match[0].process(&line)
}

// CompleteCmd returns the set of command names a partial line could
// still expand to, for liner's tab completion.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	match := matchList(name)
	matches := make([]string, len(match))
	for i, m := range match {
		matches[i] = m.name
	}
	return matches
}

// matchCommand reports whether command is a prefix of match.name at
// least match.min characters long.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.name) {
		return false
	}
	l := 0
	for l = range command {
		if match.name[l] != command[l] {
			return false
		}
	}
	return l+1 >= match.min
}

func matchList(command string) []cmd {
	if command == "" {
		return nil
	}
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

func (line *cmdLine) isEOL() bool {
	return line.pos >= len(line.line)
}

// getWord reads the next run of letters, leaving pos at the following
// separator.
func (line *cmdLine) getWord() string {
	line.skipSpace()
	start := line.pos
	for line.pos < len(line.line) && unicode.IsLetter(rune(line.line[line.pos])) {
		line.pos++
	}
	return line.line[start:line.pos]
}

// getArg reads the next whitespace-delimited token verbatim.
func (line *cmdLine) getArg() string {
	line.skipSpace()
	start := line.pos
	for line.pos < len(line.line) && !unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
	return line.line[start:line.pos]
}

// getHexArg reads the next token and parses it as a hexadecimal
// address, accepting an optional leading "0x".
func (line *cmdLine) getHexArg() (uint64, error) {
	tok := strings.TrimPrefix(strings.ToLower(line.getArg()), "0x")
	if tok == "" {
		return 0, errors.New("missing address")
	}
	return strconv.ParseUint(tok, 16, 64)
}

func cmdBreak(line *cmdLine) (bool, error) {
	pc, err := line.getHexArg()
	if err != nil {
		return false, err
	}
	if err := exports.TlibAddBreakpoint(pc, 0); err != nil {
		return false, err
	}
	fmt.Printf("breakpoint set at %#x\n", pc)
	return false, nil
}

func cmdDelete(line *cmdLine) (bool, error) {
	pc, err := line.getHexArg()
	if err != nil {
		return false, err
	}
	if err := exports.TlibRemoveBreakpoint(pc, 0); err != nil {
		return false, err
	}
	fmt.Printf("breakpoint cleared at %#x\n", pc)
	return false, nil
}

func cmdContinue(_ *cmdLine) (bool, error) {
	if err := exports.TlibClearPaused(); err != nil {
		return false, err
	}
	reason, err := exports.TlibExecute(0)
	if err != nil {
		return false, err
	}
	fmt.Printf("stopped: %s\n", exitReasonString(reason))
	return false, nil
}

func cmdStep(line *cmdLine) (bool, error) {
	count := uint64(1)
	if tok := line.getArg(); tok != "" {
		n, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return false, err
		}
		count = n
	}
	if err := exports.TlibClearPaused(); err != nil {
		return false, err
	}
	reason, err := exports.TlibExecute(count)
	if err != nil {
		return false, err
	}
	fmt.Printf("stopped: %s\n", exitReasonString(reason))
	return false, nil
}

func cmdStop(_ *cmdLine) (bool, error) {
	return false, exports.TlibSetPaused()
}

func cmdRegs(_ *cmdLine) (bool, error) {
	size, err := exports.TlibGetStateSize()
	if err != nil {
		return false, err
	}
	for i := 0; i < size/8; i++ {
		v, err := exports.TlibGetRegisterValue64(i)
		if err != nil {
			return false, err
		}
		fmt.Printf("r%-3d = %#018x\n", i, v)
	}
	return false, nil
}

func cmdFlush(_ *cmdLine) (bool, error) {
	if err := exports.TlibInvalidateTranslationCache(); err != nil {
		return false, err
	}
	fmt.Println("translation cache flushed")
	return false, nil
}

func cmdReset(_ *cmdLine) (bool, error) {
	return false, exports.TlibReset()
}

func cmdQuit(_ *cmdLine) (bool, error) {
	return true, nil
}

func exitReasonString(reason exports.ExitReason) string {
	switch reason {
	case exports.ExitJump:
		return "jump"
	case exports.ExitForce:
		return "force"
	default:
		return "block"
	}
}
