package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cececho/internal/authz"
	"cececho/internal/calls"
	"cececho/internal/chat"
	"cececho/internal/logging"
	"cececho/pkg/interfaces"
	"cececho/pkg/types"
)

type createCallRequest struct {
	Callee    string `json:"callee" validate:"omitempty,ident"`
	GroupID   string `json:"groupId" validate:"omitempty,ident"`
	CallType  string `json:"callType" validate:"omitempty,oneof=audio video"`
	MeetingID string `json:"meetingId" validate:"omitempty,max=128"`
}

type updateCallRequest struct {
	Status string `json:"status" validate:"required"`
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required,ident"`
}

type sendMessageRequest struct {
	Receiver    string `json:"receiver" validate:"omitempty,ident"`
	GroupID     string `json:"groupId" validate:"omitempty,ident"`
	Content     string `json:"content" validate:"max=65536"`
	MessageType string `json:"messageType" validate:"omitempty,max=32"`
	FileURL     string `json:"fileUrl" validate:"omitempty,url"`
	FileName    string `json:"fileName" validate:"omitempty,max=255"`
	FileSize    int64  `json:"fileSize" validate:"gte=0"`
}

// FUNCTIONAL DISCOVERY: POST /api/chat/calls - a callee starts a direct call, a groupId a broadcast
func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	caller := principal(r)

	var (
		call *types.Call
		err  error
	)
	switch {
	case req.Callee != "" && req.GroupID != "":
		err = types.WrapError(types.CodeValidation, "Provide either callee or groupId, not both", types.ErrAmbiguousRecipient)
	case req.Callee != "":
		call, _, err = s.deps.Calls.StartDirect(r.Context(), calls.DirectCall{
			CallerID:   caller.UserID,
			CallerRole: caller.Role,
			CalleeID:   req.Callee,
			CallType:   req.CallType,
			MeetingID:  req.MeetingID,
		})
	case req.GroupID != "":
		call, _, err = s.deps.Calls.StartBroadcast(r.Context(), calls.Broadcast{
			CallerID:  caller.UserID,
			GroupID:   req.GroupID,
			CallType:  req.CallType,
			MeetingID: req.MeetingID,
		})
	default:
		err = types.WrapError(types.CodeValidation, "Either callee or groupId is required", types.ErrAmbiguousRecipient)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	view, err := s.enrichCall(r.Context(), call)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, view)
}

// FUNCTIONAL DISCOVERY: PUT /api/chat/calls/{id} - only the caller or callee may move a call
func (s *Server) updateCall(w http.ResponseWriter, r *http.Request) {
	var req updateCallRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	status, err := types.ParseCallStatus(req.Status)
	if err != nil {
		respondError(w, types.WrapError(types.CodeValidation, "Invalid call status", err))
		return
	}

	actor := principal(r).UserID
	callID := chi.URLParam(r, "id")

	existing, err := s.deps.Calls.Get(r.Context(), callID)
	if err != nil {
		respondError(w, err)
		return
	}
	// Broadcasts have no callee, so the caller is the only participant
	if existing.IsBroadcast() {
		if err := authz.RequireBroadcastCaller(existing, actor); err != nil {
			respondError(w, err)
			return
		}
	}

	call, _, err := s.deps.Calls.UpdateStatus(r.Context(), actor, callID, status)
	if err != nil {
		respondError(w, err)
		return
	}
	view, err := s.enrichCall(r.Context(), call)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, view)
}

// FUNCTIONAL DISCOVERY: GET /api/chat/groups - an access point: sweep, enroll, then list
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Membership.ListGroupsForUser(r.Context(), principal(r).UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	views, err := s.enrichGroups(r.Context(), groups)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, views)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).UserID
	s.refreshMembership(r.Context(), userID)

	notVisible := types.NotFound("Group not found or you are not a member")
	group, err := s.deps.Store.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, interfaces.ErrNotFound) {
		respondError(w, notVisible)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	if !group.HasMember(userID) {
		respondError(w, notVisible)
		return
	}

	views, err := s.enrichGroups(r.Context(), []*types.Group{group})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, views[0])
}

// refreshMembership runs the access-point sweep and enrollment. Failures are
// logged; the read proceeds on whatever state the store holds.
func (s *Server) refreshMembership(ctx context.Context, userID string) {
	if _, err := s.deps.Membership.CleanupExpired(ctx); err != nil {
		logging.Warn().Err(err).Msg("Community cleanup failed during group read")
	}
	if _, err := s.deps.Membership.EnsureStudentMembership(ctx, userID); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("Community enrollment failed during group read")
	}
}

// FUNCTIONAL DISCOVERY: PUT /api/chat/groups/add-member/{id} - group admins only
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	group, err := s.deps.Membership.AddMember(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	views, err := s.enrichGroups(r.Context(), []*types.Group{group})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, views[0])
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	msg, err := s.deps.Chat.Send(r.Context(), chat.Outgoing{
		SenderID:    principal(r).UserID,
		ReceiverID:  req.Receiver,
		GroupID:     req.GroupID,
		Content:     req.Content,
		MessageType: req.MessageType,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, msg)
}

func (s *Server) groupMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Chat.GroupHistory(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, messages)
}

// directMessages returns the conversation with userId and marks their messages read.
func (s *Server) directMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Chat.DirectHistory(r.Context(), principal(r).UserID, chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, messages)
}

// FUNCTIONAL DISCOVERY: POST /api/admin/cec-assemble/cleanup - on-demand sweep for admins
func (s *Server) runCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Enforcer.Authorize(principal(r).Role, authz.ObjCommunity, authz.ActCleanup); err != nil {
		respondError(w, err)
		return
	}
	result, err := s.deps.Membership.CleanupExpired(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

// deleteUser removes the account after dropping it from the community group.
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Enforcer.Authorize(principal(r).Role, authz.ObjUser, authz.ActDelete); err != nil {
		respondError(w, err)
		return
	}
	userID := chi.URLParam(r, "id")
	if !types.IsValidUserID(userID) {
		respondError(w, types.ValidationError(types.ErrInvalidUserID))
		return
	}

	if _, err := s.deps.Store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			respondError(w, types.NotFound("User not found"))
			return
		}
		respondError(w, err)
		return
	}
	if err := s.deps.Membership.RemoveMembership(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}
	if err := s.deps.Store.DeleteUser(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}

	closed := 0
	if s.deps.Registry != nil {
		closed = s.deps.Registry.DisconnectUser(userID)
	}

	logging.Info().
		Str("user_id", userID).
		Str("actor", principal(r).UserID).
		Int("connections_closed", closed).
		Msg("User deleted")
	respondData(w, http.StatusOK, map[string]string{"id": userID})
}

func (s *Server) webrtcConfig(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.config.ICE)
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
	}
	if s.deps.Registry != nil {
		resp.Connections = s.deps.Registry.GetStats()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
