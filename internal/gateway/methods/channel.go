// Package methods holds the gateway RPC method groups.
package methods

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// SessionAuthorizer checks that a user may join a scan session's topic.
type SessionAuthorizer interface {
	Authorize(ctx context.Context, id, userID string) (*scansession.ScanSession, error)
}

// ChannelMethods handles channel.join, channel.leave, channel.broadcast.
type ChannelMethods struct {
	server   *gateway.Server
	sessions SessionAuthorizer
}

func NewChannelMethods(server *gateway.Server, sessions SessionAuthorizer) *ChannelMethods {
	return &ChannelMethods{server: server, sessions: sessions}
}

func (m *ChannelMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodChannelJoin, m.handleJoin)
	router.Register(protocol.MethodChannelLeave, m.handleLeave)
	router.Register(protocol.MethodChannelBroadcast, m.handleBroadcast)
}

func (m *ChannelMethods) handleJoin(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.JoinParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	sessionID, ok := protocol.SessionIDFromTopic(params.Topic)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "topic must be scan-session-{id}"))
		return
	}
	if !params.Presence.Role.Valid() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "presence.role must be mobile or desktop"))
		return
	}

	// Both devices act as the session owner: the desktop signed in directly,
	// the phone through the auth bridge.
	if _, err := m.sessions.Authorize(ctx, sessionID, client.UserID()); err != nil {
		switch {
		case errors.Is(err, scansession.ErrNotFound):
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "scan session not found"))
		case errors.Is(err, scansession.ErrNotOwner):
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrForbidden, "scan session belongs to another user"))
		default:
			slog.Error("authorize scan session failed", "session", sessionID, "error", err)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "could not load scan session"))
		}
		return
	}

	// Presence is keyed by the authenticated user, not what the client claims.
	params.Presence.UserID = client.UserID()
	members := m.server.Join(ctx, client, params.Topic, params.Presence)

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"topic":    params.Topic,
		"presence": members,
	}))
}

func (m *ChannelMethods) handleLeave(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.LeaveParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if err := m.server.Leave(ctx, client, params.Topic); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotSubscribed, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"topic": params.Topic}))
}

func (m *ChannelMethods) handleBroadcast(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var env protocol.BroadcastEnvelope
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &env); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid broadcast params"))
			return
		}
	}
	if env.Event == "" || strings.HasPrefix(env.Event, "$") {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid event name"))
		return
	}
	if env.Event == protocol.BroadcastImageData {
		var msg protocol.CapturedImageMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.Validate() != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid image_data payload"))
			return
		}
	}

	if rl := m.server.RateLimiter(); rl != nil && !rl.Allow(client.UserID()) {
		m.server.Metrics().RateLimited.Inc()
		resp := protocol.NewErrorResponse(req.ID, protocol.ErrResourceExhausted, "rate limited")
		resp.Error.Retryable = true
		resp.Error.RetryAfterMs = 1000
		client.SendResponse(resp)
		return
	}

	if err := m.server.Broadcast(ctx, client, env.Topic, env.Event, env.Payload); err != nil {
		if errors.Is(err, gateway.ErrNotJoined) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotSubscribed, "join the topic before broadcasting"))
			return
		}
		slog.Warn("broadcast publish failed", "topic", env.Topic, "event", env.Event, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "broadcast failed"))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{}))
}
