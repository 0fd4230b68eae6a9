package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/xqlabs/basex-go/internal/testutil"
	"github.com/xqlabs/basex-go/pkg/client"
	"github.com/xqlabs/basex-go/pkg/pool"
)

// GatewaySuite runs the HTTP handlers against a fake upstream server.
type GatewaySuite struct {
	suite.Suite
	server  *testutil.Server
	service *Service
}

func (s *GatewaySuite) SetupTest() {
	s.server = testutil.NewServer(s.T())

	opts := client.Options{
		Host:     s.server.Host(),
		Port:     s.server.Port(),
		Username: s.server.Username,
		Password: s.server.Password,
	}
	p, err := pool.New(pool.Config{Options: opts, MaxSessions: 2})
	s.Require().NoError(err)
	s.T().Cleanup(p.Close)

	s.service = New("test", p, opts)
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

// do runs a request through the router and decodes the JSON response.
func (s *GatewaySuite) do(method, target string, body []byte, out any) *httptest.ResponseRecorder {
	s.T().Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.service.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

// TestCommand executes a command through POST /command.
func (s *GatewaySuite) TestCommand() {
	s.server.Stub("xquery 1+1", testutil.Reply{Result: "2", Info: "Query executed."})

	var resp commandResponse
	rec := s.do(http.MethodPost, "/command", []byte(`{"command":"xquery 1+1"}`), &resp)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("2", resp.Result)
	s.Equal("Query executed.", resp.Info)
	s.NotEmpty(rec.Header().Get("X-Request-Id"))
}

// TestCommand_BadRequest rejects empty and malformed bodies.
func (s *GatewaySuite) TestCommand_BadRequest() {
	for _, body := range []string{"", "{}", "{broken"} {
		rec := s.do(http.MethodPost, "/command", []byte(body), nil)
		s.Equal(http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

// TestCommand_ServerError maps upstream errors to 400.
func (s *GatewaySuite) TestCommand_ServerError() {
	s.server.Stub("open missing", testutil.Reply{Err: "Database 'missing' was not found."})

	rec := s.do(http.MethodPost, "/command", []byte(`{"command":"open missing"}`), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "was not found")
}

// TestQuery executes a query with bindings.
func (s *GatewaySuite) TestQuery() {
	const text = "declare variable $n external; $n * 2"
	s.server.StubQuery(text, &testutil.Query{Exec: testutil.Reply{Result: "42"}})

	body, _ := json.Marshal(queryRequest{
		Query:    text,
		Bindings: map[string]string{"$n": "21"},
	})

	var resp queryResponse
	rec := s.do(http.MethodPost, "/query", body, &resp)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("42", resp.Result)
	s.Equal("21", s.server.Bound(text, "$n"))
}

// TestQuery_Items returns the itemized result form.
func (s *GatewaySuite) TestQuery_Items() {
	s.server.StubQuery("//item", &testutil.Query{
		Items: []testutil.Item{
			{Type: 11, Data: []byte("<item>1</item>")},
			{Type: 56, Data: []byte("2")},
		},
	})

	var resp queryResponse
	rec := s.do(http.MethodPost, "/query", []byte(`{"query":"//item","items":true}`), &resp)

	s.Equal(http.StatusOK, rec.Code)
	s.Require().Len(resp.Items, 2)
	s.Equal("element()", resp.Items[0].Type)
	s.Equal("<item>1</item>", resp.Items[0].Data)
	s.Equal("xs:integer", resp.Items[1].Type)
}

// TestQuery_Error maps query failures to 400.
func (s *GatewaySuite) TestQuery_Error() {
	rec := s.do(http.MethodPost, "/query", []byte(`{"query":"1 +"}`), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "XPST0003")
}

// TestListDatabases parses the tabular LIST output.
func (s *GatewaySuite) TestListDatabases() {
	s.server.Stub("list", testutil.Reply{Result: "Name      Resources  Size     Input Path\n" +
		"----------------------------------------\n" +
		"factbook  1          1831738  /data/factbook.xml\n" +
		"shakespeare  37       12837126\n" +
		"\n" +
		"2 database(s).\n"})

	var resp []database
	rec := s.do(http.MethodGet, "/databases/", nil, &resp)

	s.Equal(http.StatusOK, rec.Code)
	s.Require().Len(resp, 2)
	s.Equal("factbook", resp[0].Name)
	s.Equal(1, resp[0].Resources)
	s.Equal(int64(1831738), resp[0].Size)
	s.Equal("shakespeare", resp[1].Name)
}

// TestCreateDatabase streams the body as database input.
func (s *GatewaySuite) TestCreateDatabase() {
	rec := s.do(http.MethodPut, "/databases/factbook", []byte("<country/>"), nil)
	s.Equal(http.StatusCreated, rec.Code)
	s.Equal([]byte("<country/>"), s.server.ReceivedInput("factbook"))
}

// TestDropDatabase issues the drop command.
func (s *GatewaySuite) TestDropDatabase() {
	s.server.Stub("drop db factbook", testutil.Reply{Info: "Database 'factbook' was dropped."})

	rec := s.do(http.MethodDelete, "/databases/factbook", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "dropped")
}

// TestAddResource opens the database and adds a document.
func (s *GatewaySuite) TestAddResource() {
	s.server.Stub("open factbook", testutil.Reply{Info: "Database 'factbook' was opened."})

	rec := s.do(http.MethodPost, "/databases/factbook/resources?path=docs/a.xml", []byte("<a/>"), nil)
	s.Equal(http.StatusCreated, rec.Code)
	s.Equal([]byte("<a/>"), s.server.ReceivedInput("docs/a.xml"))
}

// TestReplaceResource opens the database and replaces a document.
func (s *GatewaySuite) TestReplaceResource() {
	s.server.Stub("open factbook", testutil.Reply{Info: "Database 'factbook' was opened."})

	rec := s.do(http.MethodPut, "/databases/factbook/resources?path=docs/a.xml", []byte("<b/>"), nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]byte("<b/>"), s.server.ReceivedInput("docs/a.xml"))
}

// TestResource_MissingPath rejects requests without a path parameter.
func (s *GatewaySuite) TestResource_MissingPath() {
	rec := s.do(http.MethodPost, "/databases/factbook/resources", []byte("<a/>"), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

// TestHealth reports pool statistics.
func (s *GatewaySuite) TestHealth() {
	var resp map[string]any
	rec := s.do(http.MethodGet, "/health", nil, &resp)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok", resp["status"])
	s.Equal("test", resp["version"])
	s.Contains(resp, "pool")
}

// TestParseList_TableDriven tests LIST output parsing edge cases.
func TestParseList_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected []database
	}{
		{
			name:     "empty output",
			output:   "",
			expected: []database{},
		},
		{
			name:     "header only",
			output:   "Name  Resources  Size\n---------------------\n\n0 database(s).\n",
			expected: []database{},
		},
		{
			name:   "single database",
			output: "Name  Resources  Size\n---------------------\ndb1   2          345\n\n1 database(s).\n",
			expected: []database{
				{Name: "db1", Resources: 2, Size: 345},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseList(tt.output)
			require.Equal(t, tt.expected, got)
		})
	}
}

// TestWriteError_Mapping maps error kinds to status codes.
func TestWriteError_Mapping(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &client.ServerError{Info: "bad query"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	writeError(rec, assert.AnError)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
