// Package testutil provides an in-process fake BaseX server for driver and
// gateway tests.
package testutil

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/xqlabs/basex-go/pkg/protocol"
)

// Reply is a scripted response to a command or query execution.
type Reply struct {
	Result string
	Info   string
	Err    string // non-empty means failure status
}

// Item is one scripted result item.
type Item struct {
	Type byte
	Data []byte
}

// Query is a scripted server-side query object.
type Query struct {
	Items    []Item
	Exec     Reply
	Updating bool

	id    string
	bound map[string]string
}

// Server speaks just enough of the server protocol to exercise the client:
// digest or legacy auth, commands, query objects, input streams and the
// event connection.
type Server struct {
	t  *testing.T
	ln net.Listener

	// LegacyAuth switches the greeting from "realm:nonce" to a bare
	// timestamp. Set before dialing.
	LegacyAuth bool
	Username   string
	Password   string

	mu       sync.Mutex
	commands map[string]Reply
	queries  map[string]*Query
	inputs   map[string][]byte // arg -> received (unescaped) input
	nextID   int

	eventLn    net.Listener
	eventToken string
	eventConn  *protocol.Conn
	eventReady chan struct{}
}

// NewServer starts a fake server on a loopback port.
func NewServer(t *testing.T) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	eventLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen (events): %v", err)
	}

	s := &Server{
		t:          t,
		ln:         ln,
		Username:   "admin",
		Password:   "admin",
		commands:   make(map[string]Reply),
		queries:    make(map[string]*Query),
		inputs:     make(map[string][]byte),
		eventLn:    eventLn,
		eventToken: "event-token-1",
		eventReady: make(chan struct{}),
	}

	go s.acceptLoop()
	go s.acceptEvents()

	t.Cleanup(func() {
		ln.Close()
		eventLn.Close()
	})
	return s
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Stub scripts the response for a command string.
func (s *Server) Stub(command string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = reply
}

// StubQuery scripts a query object for the given query text.
func (s *Server) StubQuery(text string, q *Query) {
	if q.bound == nil {
		q.bound = make(map[string]string)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[text] = q
}

// ReceivedInput returns the unescaped input stream received for arg.
func (s *Server) ReceivedInput(arg string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[arg]
}

// Bound returns the value bound to a variable of a stubbed query.
func (s *Server) Bound(text, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queries[text]; ok {
		return q.bound[name]
	}
	return ""
}

// Emit pushes an event to the registered event connection, blocking until
// a client has registered one.
func (s *Server) Emit(name, data string) {
	<-s.eventReady
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventConn.WriteString(name)
	s.eventConn.WriteString(data)
	s.eventConn.Flush()
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(nc)
	}
}

func (s *Server) acceptEvents() {
	nc, err := s.eventLn.Accept()
	if err != nil {
		return
	}
	conn := protocol.NewConn(nc)
	token, err := conn.ReadString()
	if err != nil || token != s.eventToken {
		nc.Close()
		return
	}
	conn.WriteByte(protocol.StatusOK)
	conn.Flush()

	s.mu.Lock()
	s.eventConn = conn
	s.mu.Unlock()
	close(s.eventReady)
}

func (s *Server) serve(nc net.Conn) {
	defer nc.Close()
	conn := protocol.NewConn(nc)

	greeting := "4567891230"
	if !s.LegacyAuth {
		greeting = "BaseX:" + greeting
	}
	conn.WriteString(greeting)
	conn.Flush()

	user, err := conn.ReadString()
	if err != nil {
		return
	}
	hash, err := conn.ReadString()
	if err != nil {
		return
	}
	if user != s.Username || hash != protocol.AuthResponse(s.Username, s.Password, greeting) {
		conn.WriteByte(0x01)
		conn.Flush()
		return
	}
	conn.WriteByte(protocol.StatusOK)
	conn.Flush()

	watched := false
	for {
		b, err := conn.ReadByte()
		if err != nil {
			return
		}
		if b >= 0x20 {
			// Not an opcode: first byte of a command string.
			rest, err := conn.ReadFrame()
			if err != nil {
				return
			}
			command := string(b) + string(rest)
			if command == "exit" {
				return
			}
			s.serveCommand(conn, command)
			continue
		}
		if !s.serveOpcode(conn, protocol.Opcode(b), &watched) {
			return
		}
	}
}

func (s *Server) serveCommand(conn *protocol.Conn, command string) {
	s.mu.Lock()
	reply, ok := s.commands[command]
	s.mu.Unlock()
	if !ok {
		reply = Reply{Err: fmt.Sprintf("Unknown command: %s", command)}
	}

	if reply.Err != "" {
		conn.WriteString(reply.Result)
		conn.WriteString(reply.Err)
		conn.WriteByte(0x01)
	} else {
		conn.WriteString(reply.Result)
		conn.WriteString(reply.Info)
		conn.WriteByte(protocol.StatusOK)
	}
	conn.Flush()
}

// queryReply writes the query-call response shape: frame, status byte,
// error text after a failing status.
func queryReply(conn *protocol.Conn, resp, errMsg string) {
	if errMsg != "" {
		conn.WriteString("")
		conn.WriteByte(0x01)
		conn.WriteString(errMsg)
	} else {
		conn.WriteString(resp)
		conn.WriteByte(protocol.StatusOK)
	}
	conn.Flush()
}

func (s *Server) queryByID(id string) *Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queries {
		if q.id == id {
			return q
		}
	}
	return nil
}

func (s *Server) serveOpcode(conn *protocol.Conn, op protocol.Opcode, watched *bool) bool {
	readFrames := func(n int) ([]string, bool) {
		frames := make([]string, n)
		for i := range frames {
			f, err := conn.ReadString()
			if err != nil {
				return nil, false
			}
			frames[i] = f
		}
		return frames, true
	}

	switch op {
	case protocol.OpQuery:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		s.mu.Lock()
		q, known := s.queries[frames[0]]
		if known {
			s.nextID++
			q.id = strconv.Itoa(s.nextID)
		}
		s.mu.Unlock()
		if !known {
			queryReply(conn, "", "Stopped at ., 1/1: [XPST0003] Unexpected query.")
			return true
		}
		queryReply(conn, q.id, "")

	case protocol.OpBind:
		frames, ok := readFrames(4)
		if !ok {
			return false
		}
		if q := s.queryByID(frames[0]); q != nil {
			s.mu.Lock()
			q.bound[frames[1]] = frames[2]
			s.mu.Unlock()
			queryReply(conn, "", "")
		} else {
			queryReply(conn, "", "Unknown Query ID: "+frames[0])
		}

	case protocol.OpContext:
		frames, ok := readFrames(3)
		if !ok {
			return false
		}
		if q := s.queryByID(frames[0]); q != nil {
			queryReply(conn, "", "")
		} else {
			queryReply(conn, "", "Unknown Query ID: "+frames[0])
		}

	case protocol.OpExecute:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		q := s.queryByID(frames[0])
		if q == nil {
			queryReply(conn, "", "Unknown Query ID: "+frames[0])
			return true
		}
		queryReply(conn, q.Exec.Result, q.Exec.Err)

	case protocol.OpInfo:
		if _, ok := readFrames(1); !ok {
			return false
		}
		queryReply(conn, "Query executed in 1.23 ms.", "")

	case protocol.OpOptions:
		if _, ok := readFrames(1); !ok {
			return false
		}
		queryReply(conn, "indent=no", "")

	case protocol.OpUpdating:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		q := s.queryByID(frames[0])
		if q != nil && q.Updating {
			queryReply(conn, "true", "")
		} else {
			queryReply(conn, "false", "")
		}

	case protocol.OpClose:
		if _, ok := readFrames(1); !ok {
			return false
		}
		queryReply(conn, "", "")

	case protocol.OpResults, protocol.OpFull:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		q := s.queryByID(frames[0])
		if q == nil {
			conn.WriteByte(0x00)
			conn.WriteByte(0x01)
			conn.WriteString("Unknown Query ID: " + frames[0])
			conn.Flush()
			return true
		}
		for _, item := range q.Items {
			conn.WriteByte(item.Type)
			// Item payloads may carry 0x00/0xFF and travel escaped.
			conn.Write(protocol.Escape(nil, item.Data))
			conn.WriteByte(0x00)
		}
		conn.WriteByte(0x00)
		if q.Exec.Err != "" {
			conn.WriteByte(0x01)
			conn.WriteString(q.Exec.Err)
		} else {
			conn.WriteByte(protocol.StatusOK)
		}
		conn.Flush()

	case protocol.OpCreate, protocol.OpAdd, protocol.OpReplace, protocol.OpStore:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		input, err := conn.ReadFrame()
		if err != nil {
			return false
		}
		s.mu.Lock()
		s.inputs[frames[0]] = input
		s.mu.Unlock()
		conn.WriteString(fmt.Sprintf("Resource '%s' stored in 1.23 ms.", frames[0]))
		conn.WriteByte(protocol.StatusOK)
		conn.Flush()

	case protocol.OpWatch:
		if !*watched {
			*watched = true
			_, portStr, _ := net.SplitHostPort(s.eventLn.Addr().String())
			conn.WriteString(portStr)
			conn.WriteString(s.eventToken)
			conn.Flush()
		}
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		conn.WriteString("Watcher '" + frames[0] + "' registered.")
		conn.WriteByte(protocol.StatusOK)
		conn.Flush()

	case protocol.OpUnwatch:
		frames, ok := readFrames(1)
		if !ok {
			return false
		}
		conn.WriteString("Watcher '" + frames[0] + "' removed.")
		conn.WriteByte(protocol.StatusOK)
		conn.Flush()

	default:
		return false
	}
	return true
}
