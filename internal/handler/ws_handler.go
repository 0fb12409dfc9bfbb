package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/session-service/internal/audit"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/internal/gateway"
	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/session-service/internal/service"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// WSOptions configures a WSHandler.
type WSOptions struct {
	// AllowedOrigins lists browser origins allowed to open a socket. Empty
	// or "*" allows any origin.
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *hub.Hub
	gateway  *gateway.Gateway
	service  service.SessionService
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	routes   map[string]videoHandler
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, gw *gateway.Gateway, svc service.SessionService, opts WSOptions) *WSHandler {
	return &WSHandler{
		hub:     h,
		gateway: gw,
		service: svc,
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		routes: map[string]videoHandler{
			domain.MsgTypeJoinRoom:          svc.HandleJoinRoom,
			domain.MsgTypeLeaveRoom:         svc.HandleLeaveRoom,
			domain.MsgTypeClaimHost:         svc.HandleClaimHost,
			domain.MsgTypeRequestBecomeHost: svc.HandleRequestBecomeHost,
			domain.MsgTypeReleaseHost:       svc.HandleReleaseHost,
			domain.MsgTypeEndSession:        svc.HandleEndSession,
			domain.MsgTypeRequestDrawLock:   svc.HandleRequestDrawLock,
			domain.MsgTypeReleaseDrawLock:   svc.HandleReleaseDrawLock,
		},
	}
}

// originChecker accepts requests without an Origin header, which come from
// non-browser clients.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// videoHandler serves a message that carries only a videoId.
type videoHandler func(ctx context.Context, client *hub.Client, videoID string) error

// HandleWebSocket authenticates the request, upgrades it and starts the
// connection's pumps. Unauthenticated requests are refused before upgrade.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := log.Ctx(ctx)

	identity, err := h.gateway.Authenticate(ctx, gateway.CredentialsFromRequest(r))
	if err != nil {
		audit.Log(ctx, audit.ActionAuthFailed, r.URL.Query().Get(gateway.QueryVideoID), nil, "connection rejected")
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	logger := log.ForConnection(l, clientID, string(identity.Kind()), identity.ParticipantID())
	client := hub.NewClient(h.hub, clientID, conn, identity, logger)
	kind := string(identity.Kind())

	// End any session this connection was hosting
	client.SetDisconnectHandler(func(c *hub.Client) {
		h.metrics.ConnectionClosed(kind)
		if err := h.service.HandleDisconnect(h.clientContext(c), c); err != nil {
			c.Logger.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)
	h.metrics.ConnectionOpened(kind)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

// clientContext carries the connection's logger. The upgrade request's
// context ends with the handshake, so it cannot be used.
func (h *WSHandler) clientContext(c *hub.Client) context.Context {
	return log.WithLogger(context.Background(), c.Logger)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := h.clientContext(client)
	l := client.Logger
	if h.known(base.Type) {
		h.metrics.MessageReceived(base.Type)
	}

	switch base.Type {
	case domain.MsgTypePing:
		client.SendMessage(domain.BaseMessage{Type: domain.MsgTypePong})
		return

	case domain.MsgTypeSyncPulse:
		var msg domain.SyncPulseMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.VideoID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid sync_pulse message"))
			return
		}
		if err := h.service.HandleSyncPulse(ctx, client, &msg); err != nil {
			l.Error().Err(err).Str(log.FieldVideoID, msg.VideoID).Msg("sync pulse failed")
		}
		return

	case domain.MsgTypeCursorMove, domain.MsgTypeDrawingStroke, domain.MsgTypeLiveAnnotationStroke:
		var msg domain.EphemeralMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.VideoID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid "+base.Type+" message"))
			return
		}
		if err := h.service.HandleEphemeral(ctx, client, base.Type, &msg); err != nil {
			l.Error().Err(err).Str(log.FieldVideoID, msg.VideoID).Msg("relay failed")
		}
		return
	}

	handle, ok := h.routes[base.Type]
	if !ok {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
		return
	}

	var msg domain.VideoMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.VideoID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid "+base.Type+" message"))
		return
	}
	if err := handle(ctx, client, msg.VideoID); err != nil {
		l.Error().Err(err).Str(log.FieldEvent, base.Type).Str(log.FieldVideoID, msg.VideoID).Msg("handler failed")
	}
}

func (h *WSHandler) known(msgType string) bool {
	switch msgType {
	case domain.MsgTypePing, domain.MsgTypeSyncPulse,
		domain.MsgTypeCursorMove, domain.MsgTypeDrawingStroke, domain.MsgTypeLiveAnnotationStroke:
		return true
	}
	_, ok := h.routes[msgType]
	return ok
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}
