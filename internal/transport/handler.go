// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// ServeFunc handles one accepted stream until it fails or ctx ends.
type ServeFunc func(ctx context.Context, conn io.ReadWriter) error

// Handler accepts WebSocket clients and hands each one to serve.
type Handler struct {
	Serve    ServeFunc
	Username string // Basic auth is required when set
	Password string
	Logger   *slog.Logger

	upgrader websocket.Upgrader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	if h.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="coffer"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := NewWebSocketConnection(ws)
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Info("bus client connected", "remote", r.RemoteAddr)
	if err := h.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		log.Debug("bus client ended", "remote", r.RemoteAddr, "error", err)
	}
	log.Info("bus client disconnected", "remote", r.RemoteAddr)
}
