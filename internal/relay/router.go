package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quitline-realtime/internal/domain"
	"quitline-realtime/internal/transport"
	"quitline-realtime/pkg/audit"
	"quitline-realtime/pkg/logger"
	"quitline-realtime/pkg/sanitize"
)

// route dispatches one inbound client event by name.
func (h *Hub) route(ctx context.Context, c *Client, env *transport.Envelope) {
	switch env.Event {
	case transport.EventJoinRoom:
		h.handleJoinRoom(c, env.Data)
	case transport.EventLeaveRoom:
		h.handleLeaveRoom(c, env.Data)
	case transport.EventSendMessage:
		h.handleSendMessage(ctx, c, env.Data)
	case transport.EventTyping:
		h.handleTyping(ctx, c, env.Data)
	case transport.EventCheckOnline:
		h.handleCheckOnline(ctx, c, env.Data)
	case transport.EventStartCall:
		h.handleStartCall(ctx, c, env.Data)
	case transport.EventAcceptCall:
		h.handleAcceptCall(ctx, c, env.Data)
	case transport.EventRejectCall:
		h.handleRejectCall(ctx, c, env.Data)
	case transport.EventEndCall:
		h.handleEndCall(ctx, c, env.Data)
	default:
		h.sendError(c, "unknown event: "+env.Event)
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendToClient(c, transport.EventError, &transport.ErrorPayload{Message: message})
}

// memberOf rejects events for rooms the connection never joined.
func (h *Hub) memberOf(c *Client, roomID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[roomID]
}

func (h *Hub) handleJoinRoom(c *Client, data json.RawMessage) {
	var payload transport.JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid joinRoom payload")
		return
	}
	h.joinRoom(c, payload.RoomID)
	h.metrics.RecordEvent(transport.EventJoinRoom)
	h.auditRoom(h.audit.LogRoomJoin, c.identity.ID, payload.RoomID)
}

func (h *Hub) handleLeaveRoom(c *Client, data json.RawMessage) {
	var payload transport.LeaveRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid leaveRoom payload")
		return
	}
	h.leaveRoom(c, payload.RoomID)
	h.metrics.RecordEvent(transport.EventLeaveRoom)
	h.auditRoom(h.audit.LogRoomLeave, c.identity.ID, payload.RoomID)
}

// handleSendMessage stamps identity and authoritative id/timestamp, then
// echoes the message to the whole room, sender included. Clients never insert
// a sent message locally; the echo is the single source of truth.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid sendMessage payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		h.sendError(c, "not a member of room")
		return
	}
	body := sanitize.MessageBody(payload.Body)
	if body == "" {
		h.sendError(c, "empty message body")
		return
	}

	msg := &domain.Message{
		ID:       uuid.New(),
		RoomID:   payload.RoomID,
		SenderID: c.identity.ID,
		Body:     body,
		SentAt:   time.Now().UTC(),
	}

	if _, err := h.publishToRoom(ctx, payload.RoomID, transport.EventNewMessage, msg, uuid.Nil, uuid.Nil); err != nil {
		logger.Error("failed to relay message",
			zap.String("room_id", payload.RoomID.String()),
			zap.Error(err))
		h.sendError(c, "failed to deliver message")
		return
	}
	h.metrics.RecordMessage()
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid typing payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		return
	}

	out := &transport.UserTypingPayload{
		IdentityID: c.identity.ID,
		RoomID:     payload.RoomID,
		IsTyping:   payload.IsTyping,
	}
	// Typing is best-effort; a lost indicator self-heals on the client.
	if _, err := h.publishToRoom(ctx, payload.RoomID, transport.EventUserTyping, out, uuid.Nil, c.identity.ID); err != nil {
		logger.Debug("failed to relay typing indicator", zap.Error(err))
	}
}

func (h *Hub) handleCheckOnline(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.CheckOnlinePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.IdentityID == uuid.Nil {
		h.sendError(c, "invalid checkOnline payload")
		return
	}

	online, err := h.presence.IsOnline(ctx, payload.IdentityID)
	if err != nil {
		// Probe failure is silent on the client; dropping the reply keeps
		// its previous known state intact.
		logger.Warn("presence lookup failed",
			zap.String("identity_id", payload.IdentityID.String()),
			zap.Error(err))
		return
	}

	h.sendToClient(c, transport.EventOnlineStatus, &transport.OnlineStatusPayload{
		IdentityID: payload.IdentityID,
		IsOnline:   online,
		At:         time.Now().UTC(),
	})
	h.metrics.RecordEvent(transport.EventCheckOnline)
}

func (h *Hub) handleStartCall(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.StartCallPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid startCall payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		h.sendError(c, "not a member of room")
		return
	}

	out := &transport.IncomingCallPayload{
		RoomID: payload.RoomID,
		Caller: c.identity,
		Token:  payload.CallerToken,
	}
	receivers, err := h.publishToRoom(ctx, payload.RoomID, transport.EventIncomingCall, out, uuid.Nil, c.identity.ID)
	if err != nil {
		h.sendError(c, "failed to deliver call invite")
		return
	}

	// receivers counts relay instances subscribed to the room channel. If
	// this instance is the only one and holds no other member, nobody rang.
	if receivers <= 1 && h.localRoomPeers(payload.RoomID, c.identity.ID) == 0 {
		h.sendError(c, "counterpart is not connected")
		return
	}
	h.auditCall(audit.EventCallInvite, c.identity.ID, payload.RoomID, "")
}

func (h *Hub) handleAcceptCall(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.AcceptCallPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil || payload.CallerID == uuid.Nil {
		h.sendError(c, "invalid acceptCall payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		h.sendError(c, "not a member of room")
		return
	}
	if payload.AccepterToken == "" {
		h.sendError(c, "acceptCall requires a media token")
		return
	}

	out := &transport.CallAcceptedPayload{
		RoomID: payload.RoomID,
		Token:  payload.AccepterToken,
	}
	if _, err := h.publishToRoom(ctx, payload.RoomID, transport.EventCallAccepted, out, payload.CallerID, uuid.Nil); err != nil {
		h.sendError(c, "failed to deliver acceptance")
		return
	}
	h.metrics.CallStarted()
	h.auditCall(audit.EventCallAccept, c.identity.ID, payload.RoomID, "")
}

func (h *Hub) handleRejectCall(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.RejectCallPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil || payload.CallerID == uuid.Nil {
		h.sendError(c, "invalid rejectCall payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		return
	}

	out := &transport.CallRejectedPayload{
		RoomID: payload.RoomID,
		Callee: c.identity,
	}
	if _, err := h.publishToRoom(ctx, payload.RoomID, transport.EventCallRejected, out, payload.CallerID, uuid.Nil); err != nil {
		logger.Warn("failed to deliver rejection", zap.Error(err))
		return
	}
	h.auditCall(audit.EventCallReject, c.identity.ID, payload.RoomID, "")
}

func (h *Hub) handleEndCall(ctx context.Context, c *Client, data json.RawMessage) {
	var payload transport.EndCallPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == uuid.Nil {
		h.sendError(c, "invalid endCall payload")
		return
	}
	if !h.memberOf(c, payload.RoomID) {
		return
	}

	out := &transport.CallEndedPayload{
		RoomID: payload.RoomID,
		Reason: payload.Reason,
	}
	if _, err := h.publishToRoom(ctx, payload.RoomID, transport.EventCallEnded, out, uuid.Nil, c.identity.ID); err != nil {
		logger.Warn("failed to deliver call end", zap.Error(err))
		return
	}
	// Ring-phase cancellations never incremented the active gauge.
	if payload.Reason != "cancelled" && payload.Reason != "timeout" {
		h.metrics.CallEnded()
	}
	h.auditCall(audit.EventCallEnd, c.identity.ID, payload.RoomID, payload.Reason)
}
