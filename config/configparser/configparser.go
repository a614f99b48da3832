/*
 * tlibcore - Configuration file parser
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

// Package configparser reads a translator configuration file: one
// directive per line, selecting the guest/host architecture, code
// arena sizing, chaining/TB-cache toggles, breakpoints and debug
// masks.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// List of options following a directive's first argument.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Comma-separated trailing values.
}

// Directive name token, upper-cased.
type directiveName struct {
	name string // value of directive.
}

// First argument following a directive name.
type FirstArg struct {
	addr   uint64 // Parsed value if it reads as a hex address.
	isAddr bool   // Valid address in addr.
	value  string // Raw string value.
}

// Value returns the first argument's raw string.
func (f FirstArg) Value() string { return f.value }

// Addr returns the first argument's hex value and whether it parsed as one.
func (f FirstArg) Addr() (uint64, bool) { return f.addr, f.isAddr }

// Current directive line being parsed.
type optionLine struct {
	line string // Current directive line.
	pos  int    // Current position in line.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <directive> <whitespace> <first> <whitespace> <options>
 * <directive> ::= <string>
 * <first> ::= <string> | <hexnumber>
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= <opt> *(',' *(<whitespace>) <string>)
 * <opt> ::= <string> ['=' <quoteopt>]
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

const (
	TypeAddress = 1 + iota // Directive takes a hex address first argument, e.g. BREAK.
	TypeOption              // Directive takes a single string/number argument.
	TypeOptions             // Directive takes an argument plus a comma-separated option list.
	TypeSwitch              // Directive takes no argument, only sets a flag.
)

// Directive registration.
type directiveDef struct {
	create func(first FirstArg, options []Option) error
	ty     int
}

var directives = map[string]directiveDef{}

var lineNumber int

// Return type of directive, or 0 if not registered.
func directiveType(name string) int {
	d, ok := directives[name]
	if !ok {
		return 0
	}
	return d.ty
}

// RegisterAddress should be called from init functions. Registers a
// directive whose first argument is a hex address (e.g. "BREAK 1a0").
func RegisterAddress(name string, fn func(first FirstArg, options []Option) error) {
	name = strings.ToUpper(name)
	directives[name] = directiveDef{create: fn, ty: TypeAddress}
}

// RegisterSwitch should be called from init functions. Registers a
// directive taking no arguments at all.
func RegisterSwitch(name string, fn func(first FirstArg, options []Option) error) {
	name = strings.ToUpper(name)
	directives[name] = directiveDef{create: fn, ty: TypeSwitch}
}

// RegisterOption should be called from init functions. Registers a
// directive taking exactly one value and no trailing option list.
func RegisterOption(name string, fn func(first FirstArg, options []Option) error) {
	name = strings.ToUpper(name)
	directives[name] = directiveDef{create: fn, ty: TypeOption}
}

// RegisterOptions should be called from init functions. Registers a
// directive taking a value followed by a comma-separated option list.
func RegisterOptions(name string, fn func(first FirstArg, options []Option) error) {
	name = strings.ToUpper(name)
	directives[name] = directiveDef{create: fn, ty: TypeOptions}
}

// Dispatch a TypeAddress directive.
func createAddress(name string, first *FirstArg, options []Option) error {
	name = strings.ToUpper(name)
	d, ok := directives[name]
	if !ok {
		return errors.New("Unknown directive: " + name)
	}
	if d.ty != TypeAddress {
		return errors.New("Not an address directive: " + name)
	}
	return d.create(*first, options)
}

// Dispatch a TypeOption directive.
func createOption(name string, first *FirstArg) error {
	name = strings.ToUpper(name)
	d, ok := directives[name]
	if !ok {
		return errors.New("Unknown directive: " + name)
	}
	if d.ty != TypeOption {
		return errors.New("Not a single-value directive: " + name)
	}
	return d.create(*first, nil)
}

// Dispatch a TypeOptions directive.
func createOptions(name string, first *FirstArg, options []Option) error {
	name = strings.ToUpper(name)
	d, ok := directives[name]
	if !ok {
		return errors.New("Unknown directive: " + name)
	}
	if d.ty != TypeOptions {
		return errors.New("Not an options directive: " + name)
	}
	return d.create(*first, options)
}

// Dispatch a TypeSwitch directive.
func createSwitch(name string) error {
	name = strings.ToUpper(name)
	d, ok := directives[name]
	if !ok {
		return errors.New("Unknown directive: " + name)
	}
	if d.ty != TypeSwitch {
		return errors.New("Not a switch directive: " + name)
	}
	return d.create(FirstArg{}, nil)
}

// LoadConfigFile reads a translator config file, dispatching each
// recognized directive to its registered handler.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	lineNumber = 0
	reader := bufio.NewReader(file)
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		err = line.parseLine()
		if err != nil {
			return err
		}
	}
	return nil
}

// Parse one line from file.
func (line *optionLine) parseLine() error {
	directive := line.parseDirective()
	if directive == nil {
		return nil
	}
	switch directiveType(directive.name) {
	case TypeAddress:
		first := line.parseFirst()
		if first == nil || !first.isAddr {
			err := fmt.Sprintf("Directive %s requires a hex address, line: %d\n", directive.name, lineNumber)
			return errors.New(err)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createAddress(directive.name, first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == nil {
			err := fmt.Sprintf("Directive %s not followed by a value, line: %d\n", directive.name, lineNumber)
			return errors.New(err)
		}
		return createOption(directive.name, first)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			err := fmt.Sprintf("Directive %s not followed by a value, line: %d\n", directive.name, lineNumber)
			return errors.New(err)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createOptions(directive.name, first, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			err := fmt.Sprintf("Switch directive %s followed by arguments, line: %d\n", directive.name, lineNumber)
			return errors.New(err)
		}
		return createSwitch(directive.name)
	case 0:
		err := fmt.Sprintf("No directive %s registered, line: %d\n", directive.name, lineNumber)
		return errors.New(err)
	}
	return nil
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for {
		if line.pos >= len(line.line) {
			return
		}
		if unicode.IsSpace(rune(line.line[line.pos])) {
			line.pos++
			continue
		}
		return
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}

	if line.line[line.pos] == '#' {
		return true
	}
	return false
}

// Return next letter or digit in line. 0 if EOL or space.
func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

// Peek at next character.
func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// Parse directive name token.
func (line *optionLine) parseDirective() *directiveName {
	// Skip leading space
	line.skipSpace()
	// Check if end of line.
	if line.isEOL() {
		return nil
	}

	d := directiveName{}

	// Get directive name
	for {
		if line.isEOL() {
			break
		}
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			d.name += string([]byte{by})
			line.pos++
			continue
		}
		break
	}

	d.name = strings.ToUpper(d.name)
	if d.name == "" {
		return nil
	}
	return &d
}

// Parse first argument following a directive.
func (line *optionLine) parseFirst() *FirstArg {
	// Skip leading space
	line.skipSpace()
	// Check if end of line.
	if line.isEOL() {
		return nil
	}

	value := ""
	for {
		if line.isEOL() {
			break
		}
		by := line.line[line.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) {
			value += string([]byte{by})
			line.pos++
			continue
		}
		break
	}
	if value == "" {
		return nil
	}

	first := FirstArg{value: value}

	addr, err := strconv.ParseUint(value, 16, 64)
	if err == nil {
		first.addr = addr
		first.isAddr = true
	}
	return &first
}

// Parse string that is "string" or just string.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	// If quote, set we are in quoted string
	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext(true)
	}

	for {
		by := line.getNext(inQuote)
		// If processing a quoted string "" gets replaced by signal quote
		if by == '"' && inQuote {
			by = line.getNext(inQuote)
			if by != '"' {
				// Hit end of string.
				return value, true
			}
		}

		space := unicode.IsSpace(rune(by))
		// Space or comma terminates a no quoted string.
		if !inQuote && (space || by == 0 || by == ',') {
			return value, true
		}

		value += string(by)
		// If we hit end of line, stop processing.
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

// Parse option name.
func (line *optionLine) getName() (string, error) {
	// Check if end of line.
	if line.isEOL() {
		return "", nil
	}

	// First character must be alphabetic.
	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		if !line.isEOL() {
			err := fmt.Sprintf("Invalid option encountered line: %d [%d]\n", lineNumber, line.pos)
			return "", errors.New(err)
		}
		return "", nil
	}
	value := ""

	// Already verified that first character is letter,
	// so grab until not letter or number.
	for {
		value += string([]byte{by})
		by = line.getNext(false)
		if by == 0 {
			break
		}
	}

	return value, nil
}

// Parse options for a line.
func (line *optionLine) parseOption() (*Option, error) {
	// Skip leading space
	line.skipSpace()

	// Grab option name
	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	// Empty option.
	option := Option{Name: value}

	// If at end of line done.
	if line.isEOL() {
		return &option, nil
	}

	// Check if equals option.
	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if ok {
			option.EqualOpt = v
		} else {
			err := fmt.Sprintf("Invalid quoted string line: %d [%d]\n", lineNumber, line.pos)
			return nil, errors.New(err)
		}
	}

	// Skip any spaces.
	line.skipSpace()

	// Grab all , options
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++ // Skip comma
		// Skip space between , and next option
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		// Skip any trailing spaces.
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options for line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}
