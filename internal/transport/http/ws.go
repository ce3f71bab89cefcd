package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"e2ee-relay/internal/auth"
	"e2ee-relay/internal/relay"

	"github.com/coder/websocket"
)

// Close codes for refused connections; 4xxx is the application range.
const (
	closeMissingCredential websocket.StatusCode = 4401
	closeInvalidCredential websocket.StatusCode = 4403
)

// wsConn adapts a websocket connection to registry.Conn. A failed or timed
// out write marks the connection dead so later fan-outs skip it.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       atomic.Bool
}

func (c *wsConn) Send(payload []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

func (c *wsConn) Open() bool {
	return !c.closed.Load()
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originsIfSet(h.cfg.CORSOrigins),
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	// The credential travels as a connection-establishment parameter, not a
	// frame. Refuse before any registry state exists.
	userID, err := h.tokens.ResolveIdentity(token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingCredential) {
			_ = conn.Close(closeMissingCredential, "missing token")
		} else {
			_ = conn.Close(closeInvalidCredential, "invalid token")
		}
		return
	}

	conn.SetReadLimit(h.cfg.WSMaxFrameBytes)

	wc := &wsConn{conn: conn, writeTimeout: h.cfg.WSWriteTimeout}
	h.reg.Register(userID, wc)
	defer func() {
		// Every exit path of the connection's lifetime releases its slot.
		h.reg.Unregister(userID, wc)
		wc.closed.Store(true)
		_ = conn.CloseNow()
	}()

	if err := wc.Send(relay.ReadyFrame()); err != nil {
		return
	}
	h.logger.Info("websocket connected", "user_id", userID)

	// Frames from one connection are handled in receipt order; connections
	// run concurrently with each other.
	for {
		readCtx, cancel := context.WithTimeout(r.Context(), h.cfg.WSIdleTimeout)
		typ, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.logger.Info("websocket closed", "user_id", userID)
			} else {
				h.logger.Warn("websocket read ended", "user_id", userID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.relay.HandleFrame(r.Context(), userID, data)
	}
}
