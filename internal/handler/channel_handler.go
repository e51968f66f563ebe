package handler

import (
	"net/http"

	"crewchat/internal/app/rtc"
	"crewchat/internal/pkg/auth/jwt"
	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/req"
	"crewchat/internal/pkg/resp"
)

// ChannelHandler serves the explicit channel membership endpoints. These change
// durable membership; watching a channel on a live connection is a separate,
// per-connection act done over the websocket.
type ChannelHandler struct {
	coordinator *rtc.Coordinator
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(coordinator *rtc.Coordinator) *ChannelHandler {
	return &ChannelHandler{coordinator: coordinator}
}

type channelMembershipRequest struct {
	ChannelID string `json:"channelId"`
}

// Join handles POST /api/channels/join.
func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return
	}

	var body channelMembershipRequest
	if cerr := req.BindJSON(r, &body); cerr != nil {
		resp.RespondError(w, r, cerr)
		return
	}
	if body.ChannelID == "" {
		resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams, "channelId is required"))
		return
	}

	if cerr := h.coordinator.JoinChannel(r.Context(), payload.UserID, body.ChannelID); cerr != nil {
		resp.RespondError(w, r, cerr)
		return
	}

	resp.RespondSuccess(w, r, nil)
}

// Leave handles POST /api/channels/leave.
func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return
	}

	var body channelMembershipRequest
	if cerr := req.BindJSON(r, &body); cerr != nil {
		resp.RespondError(w, r, cerr)
		return
	}
	if body.ChannelID == "" {
		resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams, "channelId is required"))
		return
	}

	if cerr := h.coordinator.LeaveChannel(r.Context(), payload.UserID, body.ChannelID); cerr != nil {
		resp.RespondError(w, r, cerr)
		return
	}

	resp.RespondSuccess(w, r, nil)
}
