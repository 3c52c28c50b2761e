// Package tclserver is a scripted stand-in for the OpenOCD TCL control
// socket. It answers the command subset riceprobe drives against a halted
// or running target with a word-addressed memory.
package tclserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/nick-kraus/riceprobe-test/internal/protocol/frame"
)

const Version = "Open On-Chip Debugger 0.12.0"

// Server accepts one control connection at a time.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	state    string
	mem      map[uint64]uint64
	bps      map[string]bool
	wps      map[string]bool
	rtt      bool
	silent   map[string]bool
	override map[string]string
	// Split sends each response in pieces of this many bytes.
	split int
	conns map[net.Conn]struct{}

	wg sync.WaitGroup
}

// Start listens on a loopback port and closes the server when t ends.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tclserver listen: %v", err)
	}
	s := &Server{
		ln:       ln,
		state:    "running",
		mem:      make(map[uint64]uint64),
		bps:      make(map[string]bool),
		wps:      make(map[string]bool),
		silent:   make(map[string]bool),
		override: make(map[string]string),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Commands returns every command received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Respond makes cmd answer with resp instead of the built-in behavior.
func (s *Server) Respond(cmd, resp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override[cmd] = resp
}

// Silence makes the server never answer cmd.
func (s *Server) Silence(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[cmd] = true
}

// SplitResponses writes responses in n-byte pieces.
func (s *Server) SplitResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.split = n
}

// SetState forces the reported target state.
func (s *Server) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	r := frame.NewReader(conn, frame.DefaultLimits())
	for {
		payload, err := r.ReadFrame()
		if err != nil {
			return
		}
		cmd := string(payload)
		resp, reply, closeAfter := s.handle(cmd)
		if reply {
			if err := s.write(conn, resp); err != nil {
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

func (s *Server) write(conn net.Conn, resp string) error {
	s.mu.Lock()
	split := s.split
	s.mu.Unlock()
	wire := []byte(resp + string(frame.Terminator))
	if split <= 0 {
		_, err := conn.Write(wire)
		return err
	}
	for len(wire) > 0 {
		n := min(split, len(wire))
		if _, err := conn.Write(wire[:n]); err != nil {
			return err
		}
		wire = wire[n:]
	}
	return nil
}

func (s *Server) handle(cmd string) (resp string, reply, closeAfter bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	if s.silent[cmd] {
		return "", false, false
	}
	if r, ok := s.override[cmd]; ok {
		return r, true, false
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", true, false
	}
	switch fields[0] {
	case "version":
		return Version, true, false
	case "shutdown":
		return "shutdown command invoked", true, true
	case "halt":
		s.state = "halted"
		return "", true, false
	case "resume":
		s.state = "running"
		return "", true, false
	case "reset":
		mode := "run"
		if len(fields) > 1 {
			mode = fields[1]
		}
		if mode == "run" {
			s.state = "running"
		} else {
			s.state = "halted"
		}
		return "", true, false
	case "$_CHIPNAME.cpu":
		if len(fields) > 1 && fields[1] == "curstate" {
			return s.state, true, false
		}
	case "mrw":
		if addr, ok := parseArg(fields, 1); ok {
			return strconv.FormatUint(s.mem[addr], 10), true, false
		}
	case "mww":
		addr, ok1 := parseArg(fields, 1)
		val, ok2 := parseArg(fields, 2)
		if ok1 && ok2 {
			s.mem[addr] = val & 0xFFFFFFFF
			return "", true, false
		}
	case "bp":
		if len(fields) >= 3 {
			s.bps[fields[1]] = true
			return fmt.Sprintf("breakpoint set at %s", fields[1]), true, false
		}
	case "rbp":
		if len(fields) == 2 {
			if fields[1] == "all" {
				s.bps = make(map[string]bool)
			} else {
				delete(s.bps, fields[1])
			}
			return "", true, false
		}
	case "wp":
		if len(fields) >= 3 {
			s.wps[fields[1]] = true
			return "", true, false
		}
	case "rwp":
		if len(fields) == 2 {
			delete(s.wps, fields[1])
			return "", true, false
		}
	case "flash":
		if len(fields) == 6 && fields[1] == "read_bank" {
			return fmt.Sprintf("wrote %s bytes to file %s from flash bank %s at offset %s in 0.05s (80.000 KiB/s)",
				fields[5], fields[3], fields[2], fields[4]), true, false
		}
	case "rtt":
		return s.handleRTT(fields[1:]), true, false
	}
	return fmt.Sprintf("invalid command name \"%s\"", fields[0]), true, false
}

func (s *Server) handleRTT(args []string) string {
	if len(args) == 0 {
		return ""
	}
	switch args[0] {
	case "setup":
		return ""
	case "start":
		s.rtt = true
		return "rtt: Searching for control block 'SEGGER RTT'\nrtt: Control block found at 0x20000a0c"
	case "channels":
		if !s.rtt {
			return ""
		}
		return "Channels: up=1, down=1\nUp-channels:\n0: Terminal 1024 0\nDown-channels:\n0: Terminal 16 0"
	case "server":
		return ""
	}
	return ""
}

// Breakpoints returns the number of installed breakpoints.
func (s *Server) Breakpoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bps)
}

// Watchpoints returns the number of installed watchpoints.
func (s *Server) Watchpoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wps)
}

func parseArg(fields []string, i int) (uint64, bool) {
	if i >= len(fields) {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[i], 0, 64)
	return v, err == nil
}
