package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/tracing"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	ctx, span := tracing.Start(ctx, tracing.ScopeGateway, "rpc "+req.Method,
		attribute.String("rpc.method", req.Method),
		tracing.User(client.userID),
	)
	defer span.End()
	defer r.server.metrics.ObserveRPC(req.Method, time.Now())

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
}

// --- Built-in handlers ---

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ConnectParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid connect params"))
			return
		}
	}
	if params.Protocol != 0 && params.Protocol != protocol.ProtocolVersion {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, "unsupported protocol version"))
		return
	}
	if params.Token == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "access token required"))
		return
	}

	claims, err := r.server.tokens.Validate(params.Token, authbridge.TypeAccess)
	if err != nil {
		slog.Warn("security.token_invalid", "client", client.id, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid access token"))
		return
	}

	client.Authenticate(claims.UserID)
	slog.Info("websocket client authenticated", "client", client.id, "user", claims.UserID)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ConnectResult{
		Protocol: protocol.ProtocolVersion,
		UserID:   claims.UserID,
		ClientID: client.id,
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":  "ok",
		"clients": r.server.ClientCount(),
	}))
}
