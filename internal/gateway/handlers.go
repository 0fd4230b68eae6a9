package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
)

// commandRequest is the body of POST /command.
type commandRequest struct {
	Command string `json:"command"`
}

// commandResponse carries a command's result and info output.
type commandResponse struct {
	Result string `json:"result"`
	Info   string `json:"info,omitempty"`
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing command"})
		return
	}

	session, err := s.pool.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	result, info, err := session.Execute(r.Context(), req.Command)
	s.pool.Put(session, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Result: result, Info: info})
}

// queryRequest is the body of POST /query.
type queryRequest struct {
	Query    string            `json:"query"`
	Bindings map[string]string `json:"bindings,omitempty"`
	Context  string            `json:"context,omitempty"`
	Items    bool              `json:"items,omitempty"`
}

// queryItem is one typed item of an itemized query response.
type queryItem struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// queryResponse carries a query result, either serialized as one string or
// itemized.
type queryResponse struct {
	Result string      `json:"result,omitempty"`
	Items  []queryItem `json:"items,omitempty"`
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
		return
	}

	resp, err := s.runQuery(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) runQuery(r *http.Request, req *queryRequest) (*queryResponse, error) {
	ctx := r.Context()

	session, err := s.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { s.pool.Put(session, err) }()

	q, err := session.Query(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	defer q.Close(ctx)

	for name, value := range req.Bindings {
		if err = q.Bind(ctx, name, value, ""); err != nil {
			return nil, err
		}
	}
	if req.Context != "" {
		if err = q.Context(ctx, req.Context, ""); err != nil {
			return nil, err
		}
	}

	if !req.Items {
		var result string
		result, err = q.Execute(ctx)
		if err != nil {
			return nil, err
		}
		return &queryResponse{Result: result}, nil
	}

	results, err := q.Results(ctx)
	if err != nil {
		return nil, err
	}
	resp := &queryResponse{}
	for results.Next() {
		item := results.Item()
		resp.Items = append(resp.Items, queryItem{
			Type: item.Type.String(),
			Data: string(item.Data),
		})
	}
	if err = results.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// database is one row of the LIST output.
type database struct {
	Name      string `json:"name"`
	Resources int    `json:"resources,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

func (s *Service) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	session, err := s.pool.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	result, _, err := session.Execute(r.Context(), "list")
	s.pool.Put(session, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parseList(result))
}

// parseList extracts database rows from the tabular LIST output:
//
//	Name      Resources  Size     Input Path
//	----------------------------------------
//	factbook  1          1831738  /data/factbook.xml
//
//	1 database(s).
func parseList(output string) []database {
	databases := []database{}
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return databases
	}
	for _, line := range lines[2:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		db := database{Name: fields[0]}
		if len(fields) > 1 {
			db.Resources, _ = strconv.Atoi(fields[1])
		}
		if len(fields) > 2 {
			db.Size, _ = strconv.ParseInt(fields[2], 10, 64)
		}
		databases = append(databases, db)
	}
	return databases
}

func (s *Service) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	session, err := s.pool.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	info, err := session.Create(r.Context(), name, r.Body)
	s.pool.Put(session, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"info": info})
}

func (s *Service) handleDropDatabase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	session, err := s.pool.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	_, info, err := session.Execute(r.Context(), fmt.Sprintf("drop db %s", name))
	s.pool.Put(session, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"info": info})
}

func (s *Service) handleAddResource(w http.ResponseWriter, r *http.Request) {
	s.handleResource(w, r, false)
}

func (s *Service) handleReplaceResource(w http.ResponseWriter, r *http.Request) {
	s.handleResource(w, r, true)
}

// handleResource adds or replaces a document inside a database. Both need
// the database opened on the same session first.
func (s *Service) handleResource(w http.ResponseWriter, r *http.Request, replace bool) {
	name := chi.URLParam(r, "name")
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing path parameter"})
		return
	}

	session, err := s.pool.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	_, _, err = session.Execute(r.Context(), fmt.Sprintf("open %s", name))
	if err != nil {
		s.pool.Put(session, err)
		writeError(w, err)
		return
	}

	var info string
	if replace {
		info, err = session.Replace(r.Context(), path, r.Body)
	} else {
		info, err = session.Add(r.Context(), path, r.Body)
	}
	s.pool.Put(session, err)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if replace {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"info": info})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"pool": map[string]int64{
			"acquires": stats.Acquires,
			"dials":    stats.Dials,
			"reuses":   stats.Reuses,
			"discards": stats.Discards,
			"in_use":   stats.InUse,
			"idle":     int64(stats.Idle),
		},
	})
}
