/*
 * tlibcore - Debug options configuration.
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

// Package debugconfig registers the DEBUG config directive, dispatching
// named trace masks to whichever component (translator, tb, codearena,
// ir, regalloc, softtlb) registered them with package debug.
package debugconfig

import (
	"strings"

	config "github.com/openhw-tlib/tlibcore/config/configparser"
	"github.com/openhw-tlib/tlibcore/util/debug"
)

// register the DEBUG directive on initialize.
func init() {
	config.RegisterOptions("DEBUG", setDebug)
}

// setDebug handles "DEBUG <component> <mask>[,<mask>...]" lines,
// turning on each named mask for component via debug.SetMask.
func setDebug(first config.FirstArg, options []config.Option) error {
	component := strings.ToUpper(first.Value())

	for _, opt := range options {
		if err := debug.SetMask(component, opt.Name); err != nil {
			return err
		}
		for _, value := range opt.Value {
			if err := debug.SetMask(component, *value); err != nil {
				return err
			}
		}
	}
	return nil
}
