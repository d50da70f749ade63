package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"huddle/pkg/types"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// CreateNotificationRequest is posted by collaborator subsystems.
type CreateNotificationRequest struct {
	UserID  string `json:"user_id" validate:"required,max=50,chatid"`
	Type    string `json:"type" validate:"max=50"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"max=2000"`
}

// NotificationsResponse lists notifications, newest first.
type NotificationsResponse struct {
	Notifications []*types.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, r, errInvalidLimit)
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	list, err := s.deps.Store.ListNotifications(r.Context(), caller(r), limit)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	s.sendJSON(w, http.StatusOK, NotificationsResponse{Notifications: list, Unread: unread})
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if !s.decode(w, r, &req) {
		return
	}

	n := &types.Notification{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
	}
	if err := s.deps.Router.Notify(r.Context(), n); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, n)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.MarkNotificationRead(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	updated, err := s.deps.Store.MarkAllNotificationsRead(r.Context(), caller(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteNotification(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
