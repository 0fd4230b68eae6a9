package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/xqlabs/basex-go/internal/testutil"
	"github.com/xqlabs/basex-go/pkg/protocol"
)

// QuerySuite runs the query layer against the fake server.
type QuerySuite struct {
	suite.Suite
	server  *testutil.Server
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *QuerySuite) SetupTest() {
	s.server = testutil.NewServer(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)

	var err error
	s.session, err = Dial(s.ctx, serverOptions(s.server))
	s.Require().NoError(err)
}

func (s *QuerySuite) TearDownTest() {
	s.session.Close(s.ctx)
	s.cancel()
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

// TestExecute runs the whole lifecycle: create, bind, execute, close.
func (s *QuerySuite) TestExecute() {
	const text = "declare variable $n external; $n * 2"
	s.server.StubQuery(text, &testutil.Query{
		Exec: testutil.Reply{Result: "42"},
	})

	q, err := s.session.Query(s.ctx, text)
	s.Require().NoError(err)
	s.NotEmpty(q.ID())

	s.Require().NoError(q.Bind(s.ctx, "$n", "21", "xs:integer"))
	s.Equal("21", s.server.Bound(text, "$n"))

	result, err := q.Execute(s.ctx)
	s.Require().NoError(err)
	s.Equal("42", result)

	s.Require().NoError(q.Close(s.ctx))
	s.NoError(q.Close(s.ctx)) // idempotent
}

// TestQuery_SyntaxError checks the failing path of query registration,
// where the error text follows the status byte.
func (s *QuerySuite) TestQuery_SyntaxError() {
	_, err := s.session.Query(s.ctx, "1 +")
	var serverErr *ServerError
	s.Require().ErrorAs(err, &serverErr)
	s.Contains(serverErr.Info, "XPST0003")
	s.False(s.session.Closed())
}

// TestResults iterates a typed item stream.
func (s *QuerySuite) TestResults() {
	s.server.StubQuery("//item", &testutil.Query{
		Items: []testutil.Item{
			{Type: byte(protocol.TypeElement), Data: []byte("<item>1</item>")},
			{Type: byte(protocol.TypeElement), Data: []byte("<item>2</item>")},
			{Type: byte(protocol.TypeInteger), Data: []byte("3")},
		},
	})

	q, err := s.session.Query(s.ctx, "//item")
	s.Require().NoError(err)

	results, err := q.Results(s.ctx)
	s.Require().NoError(err)

	var items []Item
	for results.Next() {
		items = append(items, results.Item())
	}
	s.Require().NoError(results.Err())
	s.Require().Len(items, 3)
	s.Equal("<item>1</item>", string(items[0].Data))
	s.Equal(protocol.TypeElement, items[0].Type)
	s.Equal(protocol.TypeInteger, items[2].Type)

	// Session must be reusable after a drained stream.
	s.Require().NoError(q.Close(s.ctx))
}

// TestResults_BinaryItems checks that escaped item payloads round-trip.
func (s *QuerySuite) TestResults_BinaryItems() {
	payload := []byte{0x00, 0xFF, 'x', 0xFF, 0x00}
	s.server.StubQuery("db:retrieve('db','blob')", &testutil.Query{
		Items: []testutil.Item{{Type: byte(protocol.TypeBase64Binary), Data: payload}},
	})

	q, err := s.session.Query(s.ctx, "db:retrieve('db','blob')")
	s.Require().NoError(err)

	results, err := q.Results(s.ctx)
	s.Require().NoError(err)
	s.Require().True(results.Next())
	s.Equal(payload, results.Item().Data)
	s.False(results.Next())
	s.NoError(results.Err())
}

// TestResults_ServerError checks an error terminating the item stream.
func (s *QuerySuite) TestResults_ServerError() {
	s.server.StubQuery("1 div 0", &testutil.Query{
		Exec: testutil.Reply{Err: "[FOAR0001] Division by zero."},
	})

	q, err := s.session.Query(s.ctx, "1 div 0")
	s.Require().NoError(err)

	results, err := q.Results(s.ctx)
	s.Require().NoError(err)
	s.False(results.Next())

	var serverErr *ServerError
	s.Require().ErrorAs(results.Err(), &serverErr)
	s.Contains(serverErr.Info, "FOAR0001")
	s.False(s.session.Closed())
}

// TestResults_Close drains unread items.
func (s *QuerySuite) TestResults_Close() {
	s.server.StubQuery("1 to 3", &testutil.Query{
		Items: []testutil.Item{
			{Type: byte(protocol.TypeInteger), Data: []byte("1")},
			{Type: byte(protocol.TypeInteger), Data: []byte("2")},
			{Type: byte(protocol.TypeInteger), Data: []byte("3")},
		},
	})

	q, err := s.session.Query(s.ctx, "1 to 3")
	s.Require().NoError(err)

	results, err := q.Results(s.ctx)
	s.Require().NoError(err)
	s.Require().True(results.Next())
	s.Require().NoError(results.Close())

	// Stream fully consumed: session usable again.
	s.NoError(q.Close(s.ctx))
}

// TestFull iterates with the FULL opcode.
func (s *QuerySuite) TestFull() {
	s.server.StubQuery("//node", &testutil.Query{
		Items: []testutil.Item{
			{Type: byte(protocol.TypeElement), Data: []byte("db/path/1")},
		},
	})

	q, err := s.session.Query(s.ctx, "//node")
	s.Require().NoError(err)

	results, err := q.Full(s.ctx)
	s.Require().NoError(err)
	s.Require().True(results.Next())
	s.Equal("db/path/1", string(results.Item().Data))
	s.False(results.Next())
	s.NoError(results.Err())
}

// TestUpdating checks the updating flag for both query kinds.
func (s *QuerySuite) TestUpdating() {
	s.server.StubQuery("delete node //stale", &testutil.Query{Updating: true})
	s.server.StubQuery("count(//a)", &testutil.Query{})

	q1, err := s.session.Query(s.ctx, "delete node //stale")
	s.Require().NoError(err)
	updating, err := q1.Updating(s.ctx)
	s.Require().NoError(err)
	s.True(updating)
	s.Require().NoError(q1.Close(s.ctx))

	q2, err := s.session.Query(s.ctx, "count(//a)")
	s.Require().NoError(err)
	updating, err = q2.Updating(s.ctx)
	s.Require().NoError(err)
	s.False(updating)
}

// TestInfoAndOptions reads query metadata.
func (s *QuerySuite) TestInfoAndOptions() {
	s.server.StubQuery("1", &testutil.Query{Exec: testutil.Reply{Result: "1"}})

	q, err := s.session.Query(s.ctx, "1")
	s.Require().NoError(err)

	info, err := q.Info(s.ctx)
	s.Require().NoError(err)
	s.Contains(info, "executed")

	opts, err := q.Options(s.ctx)
	s.Require().NoError(err)
	s.Contains(opts, "indent")
}

// TestQueryContext binds the context item.
func (s *QuerySuite) TestQueryContext() {
	s.server.StubQuery(".", &testutil.Query{Exec: testutil.Reply{Result: "<ctx/>"}})

	q, err := s.session.Query(s.ctx, ".")
	s.Require().NoError(err)
	s.Require().NoError(q.Context(s.ctx, "<ctx/>", "element()"))

	result, err := q.Execute(s.ctx)
	s.Require().NoError(err)
	s.Equal("<ctx/>", result)
}
