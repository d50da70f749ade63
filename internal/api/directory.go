package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"huddle/pkg/types"
)

// CreateUserRequest registers a directory entry.
type CreateUserRequest struct {
	ID   string `json:"id" validate:"required,max=50,chatid"`
	Name string `json:"name" validate:"max=200"`
}

// CreateGroupRequest creates a group owned by the caller.
type CreateGroupRequest struct {
	ID      string   `json:"id" validate:"required,max=64,chatid"`
	Name    string   `json:"name" validate:"required,max=200"`
	Members []string `json:"members" validate:"dive,required,max=50,chatid"`
}

// AddMemberRequest adds a user to a group roster.
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required,max=50,chatid"`
}

// GroupResponse is a group with its live member count.
type GroupResponse struct {
	*types.Group
	OnlineMembers int `json:"online_members"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.deps.Directory.CreateUser(r.Context(), req.ID, req.Name)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, user)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !s.decode(w, r, &req) {
		return
	}
	group, err := s.deps.Directory.CreateGroup(r.Context(), req.ID, req.Name, caller(r), req.Members)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, s.groupResponse(group))
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, r, errInvalidGroupParam)
		return
	}
	if err := s.deps.Directory.IsMember(r.Context(), groupID, caller(r)); err != nil {
		s.sendError(w, r, err)
		return
	}
	group, err := s.deps.Directory.GetGroup(r.Context(), groupID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.groupResponse(group))
}

func (s *Server) groupResponse(g *types.Group) GroupResponse {
	online := 0
	if s.deps.Presence != nil {
		for _, m := range g.Members {
			if s.deps.Presence.IsOnline(m) {
				online++
			}
		}
	}
	return GroupResponse{Group: g, OnlineMembers: online}
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	var req AddMemberRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Directory.IsMember(r.Context(), groupID, caller(r)); err != nil {
		s.sendError(w, r, err)
		return
	}
	if err := s.deps.Directory.AddMember(r.Context(), groupID, req.UserID); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// removeMember lets members remove anyone, and anyone remove themselves.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := chi.URLParam(r, "userId")
	if userID != caller(r) {
		if err := s.deps.Directory.IsMember(r.Context(), groupID, caller(r)); err != nil {
			s.sendError(w, r, err)
			return
		}
	}
	if err := s.deps.Directory.RemoveMember(r.Context(), groupID, userID); err != nil {
		s.sendError(w, r, err)
		return
	}
	if s.deps.Subscriptions != nil {
		s.deps.Subscriptions.DropUserFromRoom(userID, types.GroupRoomKey(groupID))
	}
	w.WriteHeader(http.StatusNoContent)
}
