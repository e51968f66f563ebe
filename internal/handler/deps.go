/*
Package handler exposes the HTTP surface: the websocket handshake endpoint,
the channel membership endpoints, and the router that binds them together
with the middleware chain.
*/
package handler

import (
	"crewchat/internal/app/rtc"
	"crewchat/internal/configs"
)

// AppDeps aggregates the dependencies the HTTP layer needs, injected once at
// startup.
type AppDeps struct {
	Config      *configs.AppConfig
	Auth        *rtc.Authenticator
	Hub         *rtc.Hub
	Coordinator *rtc.Coordinator
}
