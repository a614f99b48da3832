/*
 * tlibcore - CLI entry point.
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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/openhw-tlib/tlibcore/config"
	"github.com/openhw-tlib/tlibcore/console"
	"github.com/openhw-tlib/tlibcore/exports"
	"github.com/openhw-tlib/tlibcore/ir"
	"github.com/openhw-tlib/tlibcore/telnet"
	"github.com/openhw-tlib/tlibcore/translator"
	"github.com/openhw-tlib/tlibcore/util/image"
	"github.com/openhw-tlib/tlibcore/util/logger"

	_ "github.com/openhw-tlib/tlibcore/config/debugconfig"
)

var appLogger *slog.Logger

const defaultRAMSize = 1 << 20

func main() {
	optConfig := getopt.StringLong("config", 'c', "tlibcore.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optImage := getopt.StringLong("image", 'i', "", "Guest image to load into RAM at address 0")
	optPort := getopt.StringLong("telnet", 't', "", "Telnet port for the remote console (disabled if empty)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	debug := false
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	appLogger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debug))
	slog.SetDefault(appLogger)

	appLogger.Info("tlibcore started")

	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		appLogger.Error("configuration file not found", "path", *optConfig)
		os.Exit(1)
	}

	settings, err := config.Load(*optConfig)
	if err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}

	// Guest RAM sizing is an embedder concern the core has no opinion
	// on; settings.ArenaSize governs the host code cache, not this.
	ram := make([]byte, defaultRAMSize)
	cb := newHostEmbedder(ram)

	if err := exports.TlibInit(settings.GuestArch, idleDecoder, cb); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	defer exports.TlibDispose()

	if err := exports.TlibSetRAM(ram); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if err := exports.TlibMapRange(0, uint64(len(ram)), 0); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if err := exports.TlibSetChainingEnabled(settings.ChainingEnabled); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if err := exports.TlibSetTBCacheEnabled(settings.TBCacheEnabled); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if settings.MaxBlockInsns > 0 {
		if err := exports.TlibSetMaximumBlockSize(settings.MaxBlockInsns); err != nil {
			appLogger.Error(err.Error())
			os.Exit(1)
		}
	}
	for _, bp := range settings.Breakpoints {
		if err := exports.TlibAddBreakpoint(bp.PC, bp.Flags); err != nil {
			appLogger.Error(err.Error())
			os.Exit(1)
		}
	}

	if *optImage != "" {
		var loader image.Loader
		if err := loader.Attach(*optImage); err != nil {
			appLogger.Error(err.Error())
			os.Exit(1)
		}
		if _, err := loader.LoadInto(ram, 0); err != nil {
			appLogger.Error(err.Error())
			os.Exit(1)
		}
		_ = loader.Detach()
	}

	if err := exports.TlibSetPC(0, 0, 0); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}

	hooks := newHookFanout()
	if err := exports.SetHookSink(hooks); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if err := exports.TlibSetBlockBeginHookPresent(true); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}
	if err := exports.TlibSetBlockFinishedHookPresent(true); err != nil {
		appLogger.Error(err.Error())
		os.Exit(1)
	}

	var telnetServer *telnet.Server
	if *optPort != "" {
		telnetServer, err = telnet.Start(*optPort)
		if err != nil {
			appLogger.Error(err.Error())
			os.Exit(1)
		}
	}

	go console.ConsoleReader()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down")
	if telnetServer != nil {
		telnetServer.Stop()
	}
	hooks.profiler.Stop()
	appLogger.Info("stopped")
}

// idleDecoder is a placeholder for the per-ISA front end an embedder
// links in; decoding itself is out of this core's scope (§1), so this
// CLI has nothing real to decode. It retires one "instruction" per
// block by parking pc in place and forcing a return to the dispatcher,
// which is enough to exercise the whole config/console/telnet/profiler
// wiring without pretending to emulate an architecture.
func idleDecoder(b *ir.Builder, pc, _ uint64, _ uint32) error {
	env := b.NewGlobalTemp(ir.Ptr, "env")
	next := b.NewTemp(ir.I64, "next")
	b.EmitInsnStart(pc, pc)
	b.EmitMovI(next, int64(pc))
	b.EmitSt(next, env, int64(translator.PCWordOffset*8))
	b.EmitExitTB(2)
	return nil
}
