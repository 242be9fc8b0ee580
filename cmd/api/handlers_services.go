package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"servicehub/pkg/auth"
	"servicehub/pkg/httpx"
	"servicehub/pkg/store"
)

const servicesCacheKey = "services:all"

func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	var svc store.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if svc == (store.Service{}) {
		httpx.Error(w, http.StatusBadRequest, "empty listing")
		return
	}
	id, err := s.Services.Create(r.Context(), svc)
	if err != nil {
		log.Printf("create service: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.invalidateServicesCache(r)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": true,
		"insertedId":   id.String(),
	})
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	if cached, ok, err := s.Cache.Get(r.Context(), servicesCacheKey); err == nil && ok {
		s.Metrics.IncCacheHit()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cached))
		return
	}
	s.Metrics.IncCacheMiss()
	items, err := s.Services.List(r.Context(), "")
	if err != nil {
		log.Printf("list services: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	body, err := json.Marshal(items)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.Cache.Set(r.Context(), servicesCacheKey, string(body), s.ServicesCacheTTL); err != nil {
		log.Printf("cache services: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) manageServices(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	email := r.URL.Query().Get("email")
	if !auth.OwnsIdentity(sess, email) {
		s.Metrics.IncAuthOutcome("forbidden")
		httpx.Message(w, http.StatusForbidden, "forbidden access")
		return
	}
	items, err := s.Services.List(r.Context(), email)
	if err != nil {
		log.Printf("manage services: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (s *Server) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	delete(fields, "_id")
	delete(fields, "id")
	res, err := s.Services.Update(r.Context(), id, fields)
	if err != nil {
		log.Printf("update service: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.invalidateServicesCache(r)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged":  true,
		"matchedCount":  res.Matched,
		"modifiedCount": res.Modified,
	})
}

func (s *Server) deleteService(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := s.Services.Delete(r.Context(), id)
	if err != nil {
		log.Printf("delete service: %v", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.invalidateServicesCache(r)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": true,
		"deletedCount": deleted,
	})
}

func (s *Server) invalidateServicesCache(r *http.Request) {
	if err := s.Cache.Del(r.Context(), servicesCacheKey); err != nil {
		log.Printf("invalidate services cache: %v", err)
	}
}
