package client

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xqlabs/basex-go/pkg/protocol"
)

// NotifyFunc receives the payload of a database event.
type NotifyFunc func(data string)

// eventListener owns the dedicated event connection the server hands out on
// the first WATCH, and dispatches incoming name/data pairs to notifiers.
// Notifiers run sequentially on a single goroutine.
type eventListener struct {
	conn *protocol.Conn

	mu        sync.Mutex
	notifiers map[string]NotifyFunc
	stopped   bool
}

// Watch subscribes to events of the named database. The notifier is invoked
// from a background goroutine for every event until Unwatch or Close.
func (s *Session) Watch(ctx context.Context, name string, notifier NotifyFunc) error {
	if s.closed {
		return ErrClosed
	}
	if notifier == nil {
		return fmt.Errorf("basex: watch %q: nil notifier", name)
	}
	if err := s.conn.SetDeadline(ctx); err != nil {
		return err
	}
	defer s.conn.SetDeadline(context.Background())

	if err := s.conn.WriteOpcode(protocol.OpWatch); err != nil {
		return s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return s.broken(err)
	}

	// First watch of the session: the server answers with the event port
	// and a token to register on the event connection.
	if s.events == nil {
		port, err := s.conn.ReadString()
		if err != nil {
			return s.broken(err)
		}
		token, err := s.conn.ReadString()
		if err != nil {
			return s.broken(err)
		}
		listener, err := dialEvents(ctx, s.opts.Host, port, token)
		if err != nil {
			s.broken(err)
			return fmt.Errorf("basex: watch %q: %w", name, err)
		}
		s.events = listener
		go s.events.loop(s.log)
	}

	if err := s.conn.WriteString(name); err != nil {
		return s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return s.broken(err)
	}
	info, err := s.conn.ReadString()
	if err != nil {
		return s.broken(err)
	}
	status, err := s.conn.ReadByte()
	if err != nil {
		return s.broken(err)
	}
	if status != protocol.StatusOK {
		return &ServerError{Info: info}
	}

	s.events.add(name, notifier)
	s.log.Debug().Str("name", name).Msg("watching database events")
	return nil
}

// Unwatch unsubscribes from events of the named database.
func (s *Session) Unwatch(ctx context.Context, name string) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.conn.SetDeadline(ctx); err != nil {
		return err
	}
	defer s.conn.SetDeadline(context.Background())

	if err := s.conn.WriteOpcode(protocol.OpUnwatch); err != nil {
		return s.broken(err)
	}
	if err := s.conn.WriteString(name); err != nil {
		return s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return s.broken(err)
	}
	info, err := s.conn.ReadString()
	if err != nil {
		return s.broken(err)
	}
	status, err := s.conn.ReadByte()
	if err != nil {
		return s.broken(err)
	}
	if status != protocol.StatusOK {
		return &ServerError{Info: info}
	}

	if s.events != nil {
		s.events.remove(name)
	}
	return nil
}

// dialEvents opens the event connection and registers the session token.
func dialEvents(ctx context.Context, host, port, token string) (*eventListener, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("dial event port: %w", err)
	}

	conn := protocol.NewConn(nc)
	conn.SetDeadline(ctx)
	if err := conn.WriteString(token); err != nil {
		nc.Close()
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		nc.Close()
		return nil, err
	}
	ack, err := conn.ReadByte()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("event registration: %w", err)
	}
	if ack != protocol.StatusOK {
		nc.Close()
		return nil, fmt.Errorf("event registration rejected")
	}
	conn.SetDeadline(context.Background())

	return &eventListener{
		conn:      conn,
		notifiers: make(map[string]NotifyFunc),
	}, nil
}

func (l *eventListener) add(name string, fn NotifyFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifiers[name] = fn
}

func (l *eventListener) remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.notifiers, name)
}

func (l *eventListener) get(name string) (NotifyFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn, ok := l.notifiers[name]
	return fn, ok
}

// loop reads name/data event pairs until the connection closes.
func (l *eventListener) loop(log zerolog.Logger) {
	for {
		name, err := l.conn.ReadString()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			l.mu.Unlock()
			if !stopped {
				log.Debug().Err(err).Msg("event connection closed")
			}
			return
		}
		data, err := l.conn.ReadString()
		if err != nil {
			return
		}
		if fn, ok := l.get(name); ok {
			fn(data)
		}
	}
}

func (l *eventListener) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.conn.Close()
}
