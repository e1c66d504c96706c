package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/common"
	ws "github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades authenticated dashboards to a push channel.
type WebSocketHandler struct {
	hub      *ws.Hub
	guard    *auth.Guard
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler. Cross-origin upgrades
// are accepted only from allowedOrigins.
func NewWebSocketHandler(hub *ws.Hub, guard *auth.Guard, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:   hub,
		guard: guard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if slices.Contains(allowedOrigins, origin) {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

// Serve authenticates the request with the bearer header or, for browsers,
// the token cookie and then hands the connection to the hub.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if errors.Is(err, common.ErrMissingCredential) {
		if cookie, cerr := r.Cookie(TokenCookie); cerr == nil && cookie.Value != "" {
			token, err = cookie.Value, nil
		}
	}
	if err != nil {
		respond.Error(w, err)
		return
	}
	user, err := h.guard.AuthenticateToken(r.Context(), token)
	if err != nil {
		fail(w, r, err, "Websocket authentication failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	client := ws.NewClient(h.hub, conn, user.ID)
	select {
	case h.hub.Register <- client:
	case <-h.hub.Done():
		conn.Close()
		return
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleIncomingWSMessage)
		select {
		case h.hub.Unregister <- client:
		case <-h.hub.Done():
		}
	}()
}

// handleIncomingWSMessage processes messages received from a dashboard.
func (h *WebSocketHandler) handleIncomingWSMessage(client *ws.Client, message []byte) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("identity_id", client.IdentityID).Msg("Error decoding websocket message")
		return
	}

	switch msg.Action {
	case ws.ActionPing:
		h.hub.Reply(client, ws.NewPongMessage())
	default:
		log.Warn().Str("action", msg.Action).Msg("Unknown websocket action received")
		h.hub.Reply(client, ws.NewErrorMessage("Unknown action: "+msg.Action))
	}
}
