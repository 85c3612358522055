package proxy

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/klppl/fedid/internal/federr"
)

func (s *Server) lookupLocalActor(w http.ResponseWriter, r *http.Request) (username string, ok bool) {
	username = chi.URLParam(r, "username")
	if username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return "", false
	}
	return username, true
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}

	doc, err := s.engine.SerializeActor(a)
	if err != nil {
		if errors.Is(err, federr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	apResponse(w, doc)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}
	page := r.URL.Query().Get("page") == "true"
	doc, err := s.engine.SerializeFollowers(a, page)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	apResponse(w, doc)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}
	page := r.URL.Query().Get("page") == "true"
	doc, err := s.engine.SerializeFollowing(a, page)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	apResponse(w, doc)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}

	page := r.URL.Query().Get("page") == "true"
	var beforeID int64
	if v := r.URL.Query().Get("min_id"); v != "" {
		beforeID, _ = strconv.ParseInt(v, 10, 64)
	}

	doc, err := s.engine.SerializeOutbox(a, page, beforeID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	apResponse(w, doc)
}

func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}
	apResponse(w, s.engine.SerializeFeatured(a))
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil || a == nil {
		http.NotFound(w, r)
		return
	}

	uri := s.cfg.BaseURL(r.URL.Path)
	doc, err := s.engine.SerializeActivity(uri)
	if err != nil {
		if errors.Is(err, federr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	apResponse(w, doc)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	username, ok := s.lookupLocalActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	a, err := s.engine.Store.GetLocalActorByUsername(username)
	if err != nil || a == nil {
		http.NotFound(w, r)
		return
	}

	uri := s.cfg.BaseURL(r.URL.Path)
	obj, err := s.engine.Store.GetObjectByURI(uri)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if obj == nil || obj.Deleted() {
		http.NotFound(w, r)
		return
	}

	doc := s.engine.SerializeObject(obj, a.URI)
	apResponse(w, doc)
}
