package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/backtrack-hq/chatcore/internal/auth"
	"github.com/backtrack-hq/chatcore/internal/chat"
)

const defaultHistoryLimit = 50

type postMessageRequest struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"clientMessageId"`
}

type createDirectRequest struct {
	Email string `json:"email"`
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return chat.Validation("request body too large")
		}
		return chat.Validation("invalid JSON body")
	}
	return nil
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	summaries, err := s.svc.ListRooms(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": summaries})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, chat.Validation("limit must be an integer"))
			return
		}
		limit = n
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, chat.Validation("before must be an RFC 3339 timestamp"))
			return
		}
		before = t
	}

	hist, err := s.svc.History(r.Context(), chi.URLParam(r, "room"), user, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	payload, created, err := s.svc.PostMessage(r.Context(), chi.URLParam(r, "room"), user, req.Body, req.ClientMessageID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	state, err := s.svc.MarkRead(r.Context(), chi.URLParam(r, "room"), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRoomMeta(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	meta, err := s.svc.RoomMeta(r.Context(), chi.URLParam(r, "room"), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	members, err := s.svc.RoomMembers(r.Context(), chi.URLParam(r, "room"), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": chi.URLParam(r, "room"), "members": members})
}

func (s *Server) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req createDirectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.svc.CreateDirect(r.Context(), user, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"room": rm.Name})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req createGroupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.svc.CreateGroup(r.Context(), user, req.Name, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"room": rm.Name, "name": rm.DisplayName})
}
