/*
 * tlibcore - Translator configuration settings
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

// Package config is the translator's own configuration file consumer:
// it registers the core directives (guest/host architecture, code
// arena sizing, chaining/TB-cache toggles, maximum block size,
// breakpoints) against package configparser and accumulates them into
// a Settings value an embedder's cmd/tlibcore can apply to exports.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/openhw-tlib/tlibcore/config/configparser"
)

// Breakpoint is one (pc, flags) pair read from a BREAK directive.
type Breakpoint struct {
	PC    uint64
	Flags uint32
}

// Settings is everything a config file can set about how the
// translator should be constructed and run.
type Settings struct {
	GuestArch string
	HostArch  string

	ArenaSize int

	ChainingEnabled bool
	TBCacheEnabled  bool
	MaxBlockInsns   int

	Breakpoints []Breakpoint
}

// newSettings returns defaults matching translator.New's own
// (chaining and the TB cache on, no block-size limit).
func newSettings() *Settings {
	return &Settings{ChainingEnabled: true, TBCacheEnabled: true}
}

var (
	mu     sync.Mutex
	active *Settings
)

// Load parses the config file at path into a fresh Settings.
//
// LoadConfigFile's directive dispatch happens synchronously within
// this call, so active only needs to be valid for the duration of the
// single LoadConfigFile call beneath it; Load is not safe to call
// concurrently with itself.
func Load(path string) (*Settings, error) {
	mu.Lock()
	active = newSettings()
	mu.Unlock()

	if err := configparser.LoadConfigFile(path); err != nil {
		mu.Lock()
		active = nil
		mu.Unlock()
		return nil, err
	}

	mu.Lock()
	s := active
	active = nil
	mu.Unlock()
	return s, nil
}

func init() {
	configparser.RegisterOption("ARCH", setArch)
	configparser.RegisterOption("HOSTARCH", setHostArch)
	configparser.RegisterOption("ARENA", setArena)
	configparser.RegisterOption("MAXBLOCK", setMaxBlock)
	configparser.RegisterSwitch("NOCHAINING", setNoChaining)
	configparser.RegisterSwitch("NOTBCACHE", setNoTBCache)
	configparser.RegisterAddress("BREAK", setBreak)
}

func setArch(first configparser.FirstArg, _ []configparser.Option) error {
	active.GuestArch = first.Value()
	return nil
}

func setHostArch(first configparser.FirstArg, _ []configparser.Option) error {
	active.HostArch = first.Value()
	return nil
}

func setArena(first configparser.FirstArg, _ []configparser.Option) error {
	size, err := parseSize(first.Value())
	if err != nil {
		return err
	}
	active.ArenaSize = size
	return nil
}

func setMaxBlock(first configparser.FirstArg, _ []configparser.Option) error {
	n, err := strconv.Atoi(first.Value())
	if err != nil {
		return fmt.Errorf("config: MAXBLOCK requires a number: %s", first.Value())
	}
	active.MaxBlockInsns = n
	return nil
}

func setNoChaining(_ configparser.FirstArg, _ []configparser.Option) error {
	active.ChainingEnabled = false
	return nil
}

func setNoTBCache(_ configparser.FirstArg, _ []configparser.Option) error {
	active.TBCacheEnabled = false
	return nil
}

func setBreak(first configparser.FirstArg, options []configparser.Option) error {
	pc, _ := first.Addr()
	var flags uint32
	for _, opt := range options {
		if strings.ToUpper(opt.Name) == "FLAGS" && opt.EqualOpt != "" {
			v, err := strconv.ParseUint(opt.EqualOpt, 16, 32)
			if err != nil {
				return fmt.Errorf("config: BREAK flags must be hex: %s", opt.EqualOpt)
			}
			flags = uint32(v)
		}
	}
	active.Breakpoints = append(active.Breakpoints, Breakpoint{PC: pc, Flags: flags})
	return nil
}

// parseSize accepts a decimal byte count with an optional K or M
// suffix (1 << 10 / 1 << 20 multiplier).
func parseSize(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("config: ARENA requires a size")
	}
	mult := 1
	switch value[len(value)-1] {
	case 'K', 'k':
		mult = 1 << 10
		value = value[:len(value)-1]
	case 'M', 'm':
		mult = 1 << 20
		value = value[:len(value)-1]
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size %q", value)
	}
	return n * mult, nil
}
