/*
 * tlibcore - telnet console session, one per connection.
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

package telnet

import (
	"bufio"
	"fmt"
	"net"

	"github.com/openhw-tlib/tlibcore/console"
)

const (
	tnIAC   byte = 255
	tnWILL  byte = 251
	tnWONT  byte = 252
	tnDO    byte = 253
	tnEcho  byte = 1
	tnSGA   byte = 3
	tnLine  byte = 34
	tnBin   byte = 0
)

// initString asks the client for a plain line-at-a-time, locally-echoed
// session: we handle echo and line mode ourselves rather than the
// client's.
var initString = []byte{
	tnIAC, tnWONT, tnLine,
	tnIAC, tnWILL, tnEcho,
	tnIAC, tnWILL, tnSGA,
	tnIAC, tnWILL, tnBin,
}

// handleSession drives one console command loop for a single
// connection: negotiate, then read newline-terminated commands and
// dispatch each through console.ProcessCommand until the client
// disconnects or issues "quit".
func handleSession(conn net.Conn) {
	defer conn.Close()

	if _, err := conn.Write(initString); err != nil {
		return
	}
	fmt.Fprint(conn, "tlib> ")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := stripIAC(scanner.Text())

		quit, err := console.ProcessCommand(line)
		if err != nil {
			fmt.Fprintf(conn, "error: %s\r\n", err.Error())
		}
		if quit {
			return
		}
		fmt.Fprint(conn, "tlib> ")
	}
}

// stripIAC discards any telnet negotiation bytes a client echoed back
// into its first line of input, leaving the command text.
func stripIAC(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == tnIAC {
			i += 2 // skip the two bytes following IAC
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
