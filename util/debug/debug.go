/*
 * tlibcore - Log debug data to a file
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

// Package debug routes per-component trace output to a log file, keyed
// by named masks registered per component through RegisterMasks instead
// of a single global level. No package in this module registers masks.
package debug

import (
	"fmt"
	"os"
	"strings"
	"sync"

	config "github.com/openhw-tlib/tlibcore/config/configparser"
)

var (
	mu      sync.Mutex
	logFile *os.File

	// componentMasks maps a registered component to its named bits.
	componentMasks = map[string]map[string]int{}

	// active holds the accumulated (OR'd) mask currently set per component.
	active = map[string]int{}
)

// RegisterMasks lets a component declare the named trace bits it
// understands under its (case-insensitive) component name.
func RegisterMasks(component string, masks map[string]int) {
	mu.Lock()
	defer mu.Unlock()
	componentMasks[strings.ToUpper(component)] = masks
}

// SetMask turns on the named bit for component, as requested by a
// DEBUG config directive or the debug console.
func SetMask(component, name string) error {
	component = strings.ToUpper(component)
	name = strings.ToUpper(name)

	mu.Lock()
	defer mu.Unlock()

	masks, ok := componentMasks[component]
	if !ok {
		return fmt.Errorf("debug: unknown component %q", component)
	}
	bit, ok := masks[name]
	if !ok {
		return fmt.Errorf("debug: component %q has no mask %q", component, name)
	}
	active[component] |= bit
	return nil
}

// ClearMasks resets every accumulated mask, leaving registered
// component/name tables intact.
func ClearMasks() {
	mu.Lock()
	defer mu.Unlock()
	active = map[string]int{}
}

// Enabled reports whether any of bit's set bits are active for component.
func Enabled(component string, bit int) bool {
	mu.Lock()
	defer mu.Unlock()
	return active[strings.ToUpper(component)]&bit != 0
}

// Debugf writes a trace line for component if bit is currently active.
func Debugf(component string, bit int, format string, a ...interface{}) {
	if !Enabled(component, bit) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(logFile, component+": "+format+"\n", a...)
}

// register the LOGFILE directive on initialize.
func init() {
	config.RegisterOption("LOGFILE", setLogFile)
}

// setLogFile creates the debug trace file named by the LOGFILE directive.
func setLogFile(first config.FirstArg, _ []config.Option) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return fmt.Errorf("debug: log file already open: %s", logFile.Name())
	}

	file, err := os.Create(first.Value())
	if err != nil {
		return fmt.Errorf("debug: unable to create log file %s: %w", first.Value(), err)
	}
	logFile = file
	return nil
}
