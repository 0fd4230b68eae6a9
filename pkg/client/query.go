package client

import (
	"context"

	"github.com/xqlabs/basex-go/pkg/protocol"
)

// Query is a server-side query object created by Session.Query. Like its
// session, a query is not goroutine-safe.
type Query struct {
	session *Session
	id      string
	closed  bool
}

// Query registers the query text with the server and returns a handle for
// binding variables and fetching results.
func (s *Session) Query(ctx context.Context, text string) (*Query, error) {
	id, err := s.queryCall(ctx, protocol.OpQuery, text)
	if err != nil {
		return nil, err
	}
	return &Query{session: s, id: id}, nil
}

// queryCall implements the query-object request shape: opcode, NUL-separated
// arguments, response frame, status byte. Unlike commands, the error text
// arrives after a failing status byte.
func (s *Session) queryCall(ctx context.Context, op protocol.Opcode, args ...string) (string, error) {
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
	for _, arg := range args {
		if err := s.conn.WriteString(arg); err != nil {
			return "", s.broken(err)
		}
	}
	if err := s.conn.Flush(); err != nil {
		return "", s.broken(err)
	}

	resp, err := s.conn.ReadString()
	if err != nil {
		return "", s.broken(err)
	}
	status, err := s.conn.ReadByte()
	if err != nil {
		return "", s.broken(err)
	}
	if status != protocol.StatusOK {
		msg, err := s.conn.ReadString()
		if err != nil {
			return "", s.broken(err)
		}
		return "", &ServerError{Info: msg}
	}
	return resp, nil
}

// ID returns the server-assigned query id.
func (q *Query) ID() string {
	return q.id
}

// Bind binds an external variable. typ may be empty or an XDM type name
// such as "xs:integer".
func (q *Query) Bind(ctx context.Context, name, value, typ string) error {
	if q.closed {
		return ErrClosed
	}
	_, err := q.session.queryCall(ctx, protocol.OpBind, q.id, name, value, typ)
	return err
}

// Context binds the query context item.
func (q *Query) Context(ctx context.Context, value, typ string) error {
	if q.closed {
		return ErrClosed
	}
	_, err := q.session.queryCall(ctx, protocol.OpContext, q.id, value, typ)
	return err
}

// Execute evaluates the query and returns the serialized result as one
// string.
func (q *Query) Execute(ctx context.Context) (string, error) {
	if q.closed {
		return "", ErrClosed
	}
	return q.session.queryCall(ctx, protocol.OpExecute, q.id)
}

// Info returns the query compilation and evaluation info.
func (q *Query) Info(ctx context.Context) (string, error) {
	if q.closed {
		return "", ErrClosed
	}
	return q.session.queryCall(ctx, protocol.OpInfo, q.id)
}

// Options returns the serialization options of the query.
func (q *Query) Options(ctx context.Context) (string, error) {
	if q.closed {
		return "", ErrClosed
	}
	return q.session.queryCall(ctx, protocol.OpOptions, q.id)
}

// Updating reports whether the query contains updating expressions.
func (q *Query) Updating(ctx context.Context) (bool, error) {
	if q.closed {
		return false, ErrClosed
	}
	resp, err := q.session.queryCall(ctx, protocol.OpUpdating, q.id)
	if err != nil {
		return false, err
	}
	return resp == "true", nil
}

// Close releases the server-side query object. Safe to call more than once.
func (q *Query) Close(ctx context.Context) error {
	if q.closed {
		return nil
	}
	q.closed = true
	_, err := q.session.queryCall(ctx, protocol.OpClose, q.id)
	return err
}

// Item is a single result item with its XDM type.
type Item struct {
	Type protocol.ItemType
	Data []byte
}

// Results streams query results and typed items. Both the query and its
// session are busy until the stream is exhausted or closed.
func (q *Query) Results(ctx context.Context) (*Results, error) {
	return q.iterate(ctx, protocol.OpResults)
}

// Full streams results like Results but includes database node references,
// for clients that address nodes by database path and pre value.
func (q *Query) Full(ctx context.Context) (*Results, error) {
	return q.iterate(ctx, protocol.OpFull)
}

func (q *Query) iterate(ctx context.Context, op protocol.Opcode) (*Results, error) {
	if q.closed {
		return nil, ErrClosed
	}
	s := q.session
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.conn.SetDeadline(ctx); err != nil {
		return nil, err
	}
	if err := s.conn.WriteOpcode(op); err != nil {
		return nil, s.broken(err)
	}
	if err := s.conn.WriteString(q.id); err != nil {
		return nil, s.broken(err)
	}
	if err := s.conn.Flush(); err != nil {
		return nil, s.broken(err)
	}
	return &Results{session: s}, nil
}

// Results iterates over the item stream of a RESULTS or FULL request.
//
//	results, err := query.Results(ctx)
//	for results.Next() {
//	    item := results.Item()
//	    ...
//	}
//	err = results.Err()
type Results struct {
	session *Session
	cur     Item
	err     error
	done    bool
}

// Next advances to the next item. It returns false when the stream ends or
// fails; check Err afterwards.
func (r *Results) Next() bool {
	if r.done || r.session.closed {
		return false
	}

	t, err := r.session.conn.ReadByte()
	if err != nil {
		r.err = r.session.broken(err)
		r.done = true
		return false
	}
	if t == 0 {
		r.finish()
		return false
	}

	data, err := r.session.conn.ReadFrame()
	if err != nil {
		r.err = r.session.broken(err)
		r.done = true
		return false
	}
	r.cur = Item{Type: protocol.ItemType(t), Data: data}
	return true
}

// finish consumes the trailing status byte (and error text on failure) so
// the session can be reused.
func (r *Results) finish() {
	r.done = true
	defer r.session.conn.SetDeadline(context.Background())

	status, err := r.session.conn.ReadByte()
	if err != nil {
		r.err = r.session.broken(err)
		return
	}
	if status != protocol.StatusOK {
		msg, err := r.session.conn.ReadString()
		if err != nil {
			r.err = r.session.broken(err)
			return
		}
		r.err = &ServerError{Info: msg}
	}
}

// Item returns the item read by the last successful Next.
func (r *Results) Item() Item {
	return r.cur
}

// Err returns the first error encountered during iteration, if any.
func (r *Results) Err() error {
	return r.err
}

// Close drains any unread items so the session becomes reusable. It returns
// the iteration error, if any.
func (r *Results) Close() error {
	for r.Next() {
	}
	return r.err
}
