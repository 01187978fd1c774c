package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"citypulse.live/internal/claims"
	"citypulse.live/internal/registry"
	"citypulse.live/internal/store"
)

// apiServer holds the small REST surface around the realtime core:
// event creation/ending, live locations, claim inventories.
type apiServer struct {
	st       store.Store
	reg      *registry.Registry
	resolver *claims.Resolver
	log      *log.Logger
}

func (a *apiServer) health(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":    "healthy",
		"websocket": a.reg.Stats(),
		"timestamp": time.Now().UTC(),
	})
}

func (a *apiServer) locations(rw http.ResponseWriter, r *http.Request) {
	locs := a.reg.Locations()
	type entry struct {
		UserID      string     `json:"user_id"`
		Coordinates [2]float64 `json:"coordinates"`
		Timestamp   time.Time  `json:"timestamp"`
	}
	out := make([]entry, 0, len(locs))
	for _, l := range locs {
		out = append(out, entry{
			UserID:      l.UserID,
			Coordinates: [2]float64{l.Location.Lng, l.Location.Lat},
			Timestamp:   l.UpdatedAt,
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"locations": out,
		"total":     len(out),
	})
}

type createEventReq struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	CreatorID   string     `json:"creator_id"`
	Coordinates [2]float64 `json:"coordinates"` // [lng, lat]
	Address     string     `json:"address"`
}

func (a *apiServer) createEvent(rw http.ResponseWriter, r *http.Request) {
	var req createEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(rw, http.StatusBadRequest, "malformed body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.CreatorID) == "" {
		httpError(rw, http.StatusBadRequest, "title and creator_id are required")
		return
	}
	loc := store.Point{Lng: req.Coordinates[0], Lat: req.Coordinates[1]}
	if !loc.Valid() {
		httpError(rw, http.StatusBadRequest, "coordinates out of range")
		return
	}

	now := time.Now().UTC()
	id, err := a.st.InsertEvent(r.Context(), store.Event{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		CreatorID:   req.CreatorID,
		Location:    loc,
		Address:     req.Address,
		Status:      store.EventActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		a.log.Printf("create event: %v", err)
		httpError(rw, http.StatusInternalServerError, "failed to create event")
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]any{
		"id":      id,
		"title":   req.Title,
		"message": "Event created successfully",
	})
}

func (a *apiServer) endEvent(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		CreatorID string `json:"creator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(rw, http.StatusBadRequest, "malformed body")
		return
	}

	ev, err := a.st.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpError(rw, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		httpError(rw, http.StatusInternalServerError, "failed to load event")
		return
	}
	if ev.CreatorID != body.CreatorID {
		httpError(rw, http.StatusForbidden, "only the creator can end an event")
		return
	}

	ended, err := a.st.EndEvent(r.Context(), id)
	if err != nil {
		a.log.Printf("end event %s: %v", id, err)
		httpError(rw, http.StatusInternalServerError, "failed to end event")
		return
	}
	if ended == nil {
		// active -> ended happens at most once.
		httpError(rw, http.StatusConflict, "event already ended")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"id":      ended.ID,
		"status":  ended.Status,
		"message": "Event ended",
	})
}

func (a *apiServer) inventory(rw http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	items, err := a.resolver.Inventory(r.Context(), userID)
	if err != nil {
		a.log.Printf("inventory for %s: %v", userID, err)
		httpError(rw, http.StatusInternalServerError, "failed to load inventory")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"user_id":      userID,
		"collectibles": items,
		"total":        len(items),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func httpError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
