package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"crewchat/internal/app/rtc"
	"crewchat/internal/pkg/logx"
	"crewchat/internal/pkg/resp"
)

// WSHandler performs the authenticated websocket handshake and hands accepted
// connections to the hub.
type WSHandler struct {
	auth     *rtc.Authenticator
	hub      *rtc.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler. allowedOrigins restricts which browser
// origins may open a connection; an empty list permits any origin (development).
func NewWSHandler(auth *rtc.Authenticator, hub *rtc.Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		auth: auth,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Serve handles GET /ws. The credential is validated before the upgrade, so a
// rejected client gets a plain JSON error instead of a half-open socket.
// Browsers cannot set headers on websocket requests, so the token also travels
// in the query string.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	profile, cerr := h.auth.Authenticate(r.Context(), token)
	if cerr != nil {
		resp.RespondError(w, r, cerr)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logx.Warn("Websocket upgrade failed", "error", err, "user_id", profile.ID)
		return
	}

	conn := rtc.NewConn(sock, profile)

	logx.Info(
		"Websocket connection established",
		"conn_id", conn.ID(),
		"user_id", profile.ID,
	)

	h.hub.Run(conn)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
