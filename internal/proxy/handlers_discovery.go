package proxy

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klppl/fedid/internal/discovery"
)

func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "missing resource", http.StatusBadRequest)
		return
	}

	resp, err := s.discovery.ResolveWebFinger(resource)
	if err != nil {
		if errors.Is(err, discovery.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/jrd+json")
	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xrd+xml; charset=utf-8")
	w.Write([]byte(s.discovery.HostMeta()))
}

func (s *Server) handleNodeInfoDiscovery(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.discovery.NodeInfoDiscovery(), http.StatusOK)
}

func (s *Server) handleNodeInfoSchema(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	info := s.discovery.NodeInfoSchema(version)
	if info == nil {
		http.Error(w, "unsupported nodeinfo version", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; profile=\"http://nodeinfo.diaspora.software/ns/schema/"+version+"#\"")
	jsonResponse(w, info, http.StatusOK)
}
