/*
 * tlibcore - telnet console server, listener.
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

// Package telnet exposes the console debugger over a single TCP port,
// one session per connection, so a remote embedder can attach the way
// it would to a local terminal.
package telnet

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server accepts connections on one port and runs a console session
// for each.
type Server struct {
	wg       sync.WaitGroup
	listener net.Listener
	shutdown chan struct{}
	conns    chan net.Conn
	port     string
}

// Start opens a listener on port and begins accepting console sessions.
func Start(port string) (*Server, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("telnet: failed to listen on port %s: %w", port, err)
	}

	s := &Server{
		listener: listener,
		shutdown: make(chan struct{}),
		conns:    make(chan net.Conn),
		port:     port,
	}

	s.wg.Add(2)
	go s.acceptConnections()
	go s.handleConnections()

	host, lport, err := net.SplitHostPort(s.listener.Addr().String())
	if err == nil {
		if len(lport) > 0 && lport[0] == ':' {
			lport = lport[1:]
		}
		if host == "::" || host == "" {
			host = "localhost"
		}
		slog.Info("telnet: console server started on " + host + ":" + lport)
	}

	return s, nil
}

// Stop closes the listener and waits (up to one second) for the accept
// and dispatch goroutines to exit. Sessions already running are neither
// closed nor waited for.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("telnet: timed out waiting for sessions to finish on port " + s.port)
	}
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
					return
				default:
					continue
				}
			}
			s.conns <- conn
		}
	}
}

func (s *Server) handleConnections() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.conns:
			go handleSession(conn)
		}
	}
}
