package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"huddle/pkg/types"
)

// HistoryResponse is a page of messages, oldest first.
type HistoryResponse struct {
	Messages []*types.Message `json:"messages"`
}

// UnreadResponse lists the caller's unread markers.
type UnreadResponse struct {
	Unread []types.UnreadCount `json:"unread"`
	Total  int                 `json:"total"`
}

func (s *Server) privateHistory(w http.ResponseWriter, r *http.Request) {
	other := chi.URLParam(r, "userId")
	if !types.IsValidUserID(other) {
		s.sendError(w, r, errInvalidUserParam)
		return
	}
	s.history(w, r, types.PrivateRoomKey(caller(r), other))
}

func (s *Server) groupHistory(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, r, errInvalidGroupParam)
		return
	}
	s.history(w, r, types.GroupRoomKey(groupID))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, roomKey string) {
	limit, before, err := pageParams(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	messages, err := s.deps.Router.History(r.Context(), caller(r), roomKey, limit, before)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

func (s *Server) unreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Router.UnreadCounts(r.Context(), caller(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	s.sendJSON(w, http.StatusOK, UnreadResponse{Unread: counts, Total: total})
}

func (s *Server) markGroupRead(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, r, errInvalidGroupParam)
		return
	}
	s.markRead(w, r, types.GroupRoomKey(groupID))
}

func (s *Server) markPrivateRead(w http.ResponseWriter, r *http.Request) {
	other := chi.URLParam(r, "userId")
	if !types.IsValidUserID(other) {
		s.sendError(w, r, errInvalidUserParam)
		return
	}
	s.markRead(w, r, types.PrivateRoomKey(caller(r), other))
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request, roomKey string) {
	if err := s.deps.Router.MarkRead(r.Context(), caller(r), roomKey); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "room_key": roomKey})
}
