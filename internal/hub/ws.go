package hub

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Subprotocol is the application subprotocol spoken over the WebSocket.
const Subprotocol = "bt-chat-v1"

// writeTimeout is the max time to wait for a single frame write.
const writeTimeout = 5 * time.Second

// AdmitFunc authorizes a streaming subscription. It returns the canonical
// room name on success; a non-empty reason denies the subscription.
type AdmitFunc func(r *http.Request, roomName string) (canonical string, reason string)

// WSHandler upgrades requests to WebSockets and streams room frames to
// the client. The connection is read-only from the client's side; posts
// go through the REST surface.
type WSHandler struct {
	hub            *Hub
	admit          AdmitFunc
	originPatterns []string
	logger         *zap.Logger
}

func NewWSHandler(h *Hub, admit AdmitFunc, originPatterns []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: h, admit: admit, originPatterns: originPatterns, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   acceptSubprotocols(r),
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	canonical, reason := h.admit(r, r.URL.Query().Get("room"))
	if reason != "" {
		conn.Close(websocket.StatusPolicyViolation, reason)
		return
	}

	// CloseRead keeps control frames pumping and cancels the context
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())

	sub := h.hub.Subscribe(canonical, func() {
		conn.Close(websocket.StatusPolicyViolation, "too slow to keep up")
	})
	defer h.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame := <-sub.Frames():
			if err := writeFrame(ctx, conn, frame); err != nil {
				return
			}
		}
	}
}

// acceptSubprotocols builds the negotiable list for one handshake. The
// application subprotocol comes first; the client's own offers follow, so
// a client that only sends a bt-auth.<token> entry (its token carrier)
// still gets a subprotocol echoed back and completes the handshake.
func acceptSubprotocols(r *http.Request) []string {
	protos := []string{Subprotocol}
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			p = strings.TrimSpace(p)
			if p != "" && p != Subprotocol {
				protos = append(protos, p)
			}
		}
	}
	return protos
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}
