// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package api

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/websocket"
)

// handleStatusSocket upgrades the connection and registers the client
// for live status updates.
//
// GET /ws/status
func (rt *Router) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	if rt.hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("live updates not enabled")
		return
	}

	upgrader := gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     rt.checkWSOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(rt.hub, conn)
	rt.hub.Register <- client
	client.Start()
}

// checkWSOrigin mirrors the CORS origin allowlist for websocket
// upgrades. An empty allowlist accepts same-origin requests only,
// which is what gorilla's default does when CheckOrigin is nil.
func (rt *Router) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(rt.wsOrigins) == 0 {
		return false
	}
	for _, allowed := range rt.wsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
