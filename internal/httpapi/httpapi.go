// Package httpapi is the thin HTTP query surface over the KV store
// (spec.md §1 OUT OF SCOPE: "HTTP query surface and JSON encodings, treated
// as pure serializers over the database"). It never writes; the reader loop
// owns all writes.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/mina-debugger/internal/store"
)

// Server serves read-only JSON views over a store.KV.
type Server struct {
	kv     store.KV
	router *mux.Router
}

// New builds the router; call Handler() to get an http.Handler to serve.
func New(kv store.KV) *Server {
	s := &Server{kv: kv, router: mux.NewRouter()}
	s.router.HandleFunc("/connections/{key}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/connections", s.handleRange).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

// Handler returns the composed http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	v, ok, err := s.kv.Get(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{"key": key, "value": v})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	vals, err := s.kv.Range(prefix)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, vals)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
