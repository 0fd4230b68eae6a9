// Package client implements sessions and queries on top of the BaseX
// server protocol.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/xqlabs/basex-go/pkg/protocol"
)

// Default connection parameters, matching a stock BaseX server install.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 1984
	DefaultUsername = "admin"
	DefaultPassword = "admin"
)

// Options configures a session.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout bounds the TCP connect. Zero means no timeout beyond the
	// context passed to Dial.
	DialTimeout time.Duration

	// Logger receives connection-level debug events. Nil disables logging.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Username == "" {
		o.Username = DefaultUsername
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	return o
}

// Addr returns the host:port the options resolve to.
func (o Options) Addr() string {
	o = o.withDefaults()
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Session is a single authenticated connection to a BaseX server.
//
// A Session is not goroutine-safe: every request must read its complete
// response before the next one starts. Use pkg/pool to share sessions
// between goroutines.
type Session struct {
	opts   Options
	conn   *protocol.Conn
	log    zerolog.Logger
	events *eventListener
	closed bool
}

// Dial connects to the server and performs the auth handshake.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", opts.Addr())
	if err != nil {
		return nil, fmt.Errorf("basex: dial %s: %w", opts.Addr(), err)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Session{
		opts: opts,
		conn: protocol.NewConn(nc),
		log:  logger,
	}
	if err := s.handshake(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	s.log.Debug().Str("addr", opts.Addr()).Str("user", opts.Username).Msg("session established")
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.conn.SetDeadline(ctx); err != nil {
		return err
	}
	defer s.conn.SetDeadline(context.Background())

	greeting, err := s.conn.ReadString()
	if err != nil {
		return fmt.Errorf("basex: read greeting: %w", err)
	}

	response := protocol.AuthResponse(s.opts.Username, s.opts.Password, greeting)
	if err := s.conn.WriteString(s.opts.Username); err != nil {
		return err
	}
	if err := s.conn.WriteString(response); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}

	status, err := s.conn.ReadByte()
	if err != nil {
		return fmt.Errorf("basex: read auth status: %w", err)
	}
	if status != protocol.StatusOK {
		return ErrAuth
	}
	return nil
}

// Execute runs a database command (e.g. "xquery 1+1", "list", "open db")
// and returns its result and info output. A *ServerError reports failures
// raised by the server; the session stays usable after one.
func (s *Session) Execute(ctx context.Context, command string) (result, info string, err error) {
	if s.closed {
		return "", "", ErrClosed
	}
	if err := s.conn.SetDeadline(ctx); err != nil {
		return "", "", err
	}
	defer s.conn.SetDeadline(context.Background())

	if err := s.conn.WriteString(command); err != nil {
		return "", "", s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return "", "", s.broken(err)
	}

	result, err = s.conn.ReadString()
	if err != nil {
		return "", "", s.broken(err)
	}
	info, err = s.conn.ReadString()
	if err != nil {
		return "", "", s.broken(err)
	}
	status, err := s.conn.ReadByte()
	if err != nil {
		return "", "", s.broken(err)
	}
	if status != protocol.StatusOK {
		return "", "", &ServerError{Info: info}
	}
	return result, info, nil
}

// Create creates a new database with the given name and initial input.
func (s *Session) Create(ctx context.Context, name string, input io.Reader) (string, error) {
	return s.sendInput(ctx, protocol.OpCreate, name, input)
}

// Add adds a document at path to the currently opened database.
func (s *Session) Add(ctx context.Context, path string, input io.Reader) (string, error) {
	return s.sendInput(ctx, protocol.OpAdd, path, input)
}

// Replace replaces the document at path in the currently opened database.
func (s *Session) Replace(ctx context.Context, path string, input io.Reader) (string, error) {
	return s.sendInput(ctx, protocol.OpReplace, path, input)
}

// Store stores a raw binary resource at path in the currently opened
// database.
func (s *Session) Store(ctx context.Context, path string, input io.Reader) (string, error) {
	return s.sendInput(ctx, protocol.OpStore, path, input)
}

// sendInput implements the four input-stream requests, which share one
// response shape: info frame, then status byte. The error text is the info
// frame itself.
func (s *Session) sendInput(ctx context.Context, op protocol.Opcode, arg string, input io.Reader) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	if err := s.conn.SetDeadline(ctx); err != nil {
		return "", err
	}
	defer s.conn.SetDeadline(context.Background())

	if err := s.conn.WriteOpcode(op); err != nil {
		return "", s.broken(err)
	}
	if err := s.conn.WriteString(arg); err != nil {
		return "", s.broken(err)
	}
	if err := s.conn.WriteEscaped(input); err != nil {
		return "", s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return "", s.broken(err)
	}

	info, err := s.conn.ReadString()
	if err != nil {
		return "", s.broken(err)
	}
	status, err := s.conn.ReadByte()
	if err != nil {
		return "", s.broken(err)
	}
	if status != protocol.StatusOK {
		return "", &ServerError{Info: info}
	}
	return info, nil
}

// Send writes a raw opcode with NUL-terminated arguments and returns the
// server's reply bytes verbatim, read until the connection goes idle. It is
// a low-level escape hatch for protocol exploration; a reply that spans
// multiple requests desynchronizes the session, so prefer the typed methods.
func (s *Session) Send(ctx context.Context, op protocol.Opcode, args ...string) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}

	if err := s.conn.WriteOpcode(op); err != nil {
		return nil, s.broken(err)
	}
	for _, arg := range args {
		if err := s.conn.WriteString(arg); err != nil {
			return nil, s.broken(err)
		}
	}
	if err := s.conn.Flush(); err != nil {
		return nil, s.broken(err)
	}

	wait := 2 * time.Second
	if d, ok := ctx.Deadline(); ok {
		wait = time.Until(d)
	}
	reply, err := s.conn.ReadAvailable(wait, 200*time.Millisecond)
	if err != nil {
		return reply, s.broken(err)
	}
	return reply, nil
}

// Close tells the server the session is done and closes the connection.
// Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.events != nil {
		s.events.stop()
		s.events = nil
	}

	// Best effort: the server closes our end after "exit" regardless.
	s.conn.SetDeadline(ctx)
	if err := s.conn.WriteString("exit"); err == nil {
		s.conn.Flush()
	}

	err := s.conn.Close()
	s.log.Debug().Str("addr", s.opts.Addr()).Msg("session closed")
	return err
}

// Closed reports whether Close has been called or a transport error has
// poisoned the connection.
func (s *Session) Closed() bool {
	return s.closed
}

// broken marks the session unusable after a transport or framing error.
// Server-reported errors keep the session alive; byte-stream errors cannot,
// because request and response framing is no longer aligned.
func (s *Session) broken(err error) error {
	s.closed = true
	s.conn.Close()
	if s.events != nil {
		s.events.stop()
		s.events = nil
	}
	s.log.Debug().Err(err).Msg("session poisoned by transport error")
	return fmt.Errorf("basex: connection broken: %w", err)
}
