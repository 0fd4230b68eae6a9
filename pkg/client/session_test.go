package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/xqlabs/basex-go/internal/testutil"
)

// serverOptions builds session options pointing at a fake server.
func serverOptions(s *testutil.Server) Options {
	return Options{
		Host:     s.Host(),
		Port:     s.Port(),
		Username: s.Username,
		Password: s.Password,
	}
}

// SessionSuite runs the session layer against an in-process fake server.
type SessionSuite struct {
	suite.Suite
	server  *testutil.Server
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *SessionSuite) SetupTest() {
	s.server = testutil.NewServer(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)

	var err error
	s.session, err = Dial(s.ctx, serverOptions(s.server))
	s.Require().NoError(err)
}

func (s *SessionSuite) TearDownTest() {
	if s.session != nil {
		s.session.Close(s.ctx)
	}
	s.cancel()
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

// TestExecute runs a command and checks result and info.
func (s *SessionSuite) TestExecute() {
	s.server.Stub("xquery 1+1", testutil.Reply{Result: "2", Info: "Query executed."})

	result, info, err := s.session.Execute(s.ctx, "xquery 1+1")
	s.Require().NoError(err)
	s.Equal("2", result)
	s.Equal("Query executed.", info)
}

// TestExecute_ServerError checks that command failures surface as
// *ServerError and leave the session usable.
func (s *SessionSuite) TestExecute_ServerError() {
	s.server.Stub("open missing", testutil.Reply{Err: "Database 'missing' was not found."})
	s.server.Stub("xquery 1", testutil.Reply{Result: "1"})

	_, _, err := s.session.Execute(s.ctx, "open missing")
	var serverErr *ServerError
	s.Require().ErrorAs(err, &serverErr)
	s.Equal("Database 'missing' was not found.", serverErr.Info)

	// Session must survive a server-side error.
	result, _, err := s.session.Execute(s.ctx, "xquery 1")
	s.Require().NoError(err)
	s.Equal("1", result)
	s.False(s.session.Closed())
}

// TestCreate sends an input stream and checks the server received it intact.
func (s *SessionSuite) TestCreate() {
	info, err := s.session.Create(s.ctx, "factbook", bytes.NewReader([]byte("<country/>")))
	s.Require().NoError(err)
	s.Contains(info, "factbook")
	s.Equal([]byte("<country/>"), s.server.ReceivedInput("factbook"))
}

// TestStore_BinaryInput checks that escapeable bytes survive the wire.
func (s *SessionSuite) TestStore_BinaryInput() {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xFF, 0x00, 0xFF, 0xFF}

	_, err := s.session.Store(s.ctx, "img/logo.png", bytes.NewReader(payload))
	s.Require().NoError(err)
	s.Equal(payload, s.server.ReceivedInput("img/logo.png"))
}

// TestAddAndReplace exercises the remaining input requests.
func (s *SessionSuite) TestAddAndReplace() {
	_, err := s.session.Add(s.ctx, "docs/a.xml", bytes.NewReader([]byte("<a/>")))
	s.Require().NoError(err)
	s.Equal([]byte("<a/>"), s.server.ReceivedInput("docs/a.xml"))

	_, err = s.session.Replace(s.ctx, "docs/a.xml", bytes.NewReader([]byte("<b/>")))
	s.Require().NoError(err)
	s.Equal([]byte("<b/>"), s.server.ReceivedInput("docs/a.xml"))
}

// TestClose_Idempotent closes twice and checks post-close behavior.
func (s *SessionSuite) TestClose_Idempotent() {
	s.Require().NoError(s.session.Close(s.ctx))
	s.NoError(s.session.Close(s.ctx))
	s.True(s.session.Closed())

	_, _, err := s.session.Execute(s.ctx, "xquery 1")
	s.ErrorIs(err, ErrClosed)
}

// TestDial_BadCredentials expects ErrAuth for a wrong password.
func TestDial_BadCredentials(t *testing.T) {
	server := testutil.NewServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := serverOptions(server)
	opts.Password = "wrong"

	_, err := Dial(ctx, opts)
	assert.ErrorIs(t, err, ErrAuth)
}

// TestDial_LegacyGreeting authenticates against a timestamp-only greeting.
func TestDial_LegacyGreeting(t *testing.T) {
	server := testutil.NewServer(t)
	server.LegacyAuth = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Dial(ctx, serverOptions(server))
	if assert.NoError(t, err) {
		session.Close(ctx)
	}
}

// TestOptions_Defaults checks fallback connection parameters.
func TestOptions_Defaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultHost, opts.Host)
	assert.Equal(t, DefaultPort, opts.Port)
	assert.Equal(t, DefaultUsername, opts.Username)
	assert.Equal(t, DefaultPassword, opts.Password)
	assert.Equal(t, "localhost:1984", opts.Addr())
}
