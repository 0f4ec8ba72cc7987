// Package cachettest provides an in-memory status page API for tests.
package cachettest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Update is a recorded PUT /components/{id}.
type Update struct {
	ComponentID int
	Status      int
	Description string
}

// Group mirrors the API group shape.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Component mirrors the API component shape.
type Component struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	GroupID     int    `json:"group_id"`
	Status      int    `json:"status"`
	Description string `json:"description"`
}

// Server is a fake Cachet API. All fields are guarded by the embedded mutex;
// use the accessor methods from tests.
type Server struct {
	*httptest.Server

	Token string

	mu         sync.Mutex
	nextID     int
	groups     []Group
	components []Component
	updates    []Update
	calls      map[string]int

	// Fail makes matching requests answer 500. Keys are "METHOD /path"
	// without the query string, e.g. "PUT /components/1".
	fail map[string]bool
}

// NewServer starts a fake API expecting token.
func NewServer(token string) *Server {
	s := &Server{
		Token:  token,
		nextID: 1,
		calls:  make(map[string]int),
		fail:   make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL returns the API base, mirroring a real endpoint with /api/v1.
func (s *Server) BaseURL() string {
	return s.Server.URL + "/api/v1"
}

// AddGroup seeds an existing group and returns its id.
func (s *Server) AddGroup(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.groups = append(s.groups, Group{ID: id, Name: name})
	return id
}

// AddComponent seeds an existing component and returns its id.
func (s *Server) AddComponent(name string, groupID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.components = append(s.components, Component{ID: id, Name: name, GroupID: groupID, Status: 1})
	return id
}

// FailOn makes requests for key ("METHOD /path") return 500.
func (s *Server) FailOn(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[key] = true
}

// Groups returns a copy of the known groups.
func (s *Server) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Group(nil), s.groups...)
}

// Components returns a copy of the known components.
func (s *Server) Components() []Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Component(nil), s.components...)
}

// Updates returns the recorded component updates in arrival order.
func (s *Server) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

// Calls returns how many requests matched key ("METHOD /path").
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) allocID() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	key := r.Method + " " + path

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++

	if r.Header.Get("X-Cachet-Token") != s.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []string{"unauthorized"}})
		return
	}
	if s.fail[key] {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "/ping":
		writeJSON(w, http.StatusOK, map[string]any{"data": "Pong!"})

	case r.Method == http.MethodGet && path == "/components/groups":
		name := r.URL.Query().Get("name")
		out := []Group{}
		for _, g := range s.groups {
			if name == "" || g.Name == name {
				out = append(out, g)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": out})

	case r.Method == http.MethodPost && path == "/components/groups":
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		g := Group{ID: s.allocID(), Name: body.Name}
		s.groups = append(s.groups, g)
		writeJSON(w, http.StatusOK, map[string]any{"data": g})

	case r.Method == http.MethodGet && path == "/components":
		name := r.URL.Query().Get("name")
		groupID, _ := strconv.Atoi(r.URL.Query().Get("group_id"))
		out := []Component{}
		for _, c := range s.components {
			if (name == "" || c.Name == name) && (groupID == 0 || c.GroupID == groupID) {
				out = append(out, c)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": out})

	case r.Method == http.MethodPost && path == "/components":
		var body struct {
			Name    string `json:"name"`
			Status  int    `json:"status"`
			GroupID int    `json:"group_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		c := Component{ID: s.allocID(), Name: body.Name, GroupID: body.GroupID, Status: body.Status}
		s.components = append(s.components, c)
		writeJSON(w, http.StatusOK, map[string]any{"data": c})

	case r.Method == http.MethodPut && strings.HasPrefix(path, "/components/"):
		id, err := strconv.Atoi(strings.TrimPrefix(path, "/components/"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		var body struct {
			Status      int    `json:"status"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for i := range s.components {
			if s.components[i].ID == id {
				s.components[i].Status = body.Status
				s.components[i].Description = body.Description
				s.updates = append(s.updates, Update{ComponentID: id, Status: body.Status, Description: body.Description})
				writeJSON(w, http.StatusOK, map[string]any{"data": s.components[i]})
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
