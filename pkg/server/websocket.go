package server

import (
	"bytes"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrameLimit caps one inbound frame. A frame may carry several lines.
const wsFrameLimit = 64 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
	Subprotocols:    []string{"text.ircv3.net"},
}

// WebSocketHandler upgrades requests to WebSocket and serves each one as a
// session. Inbound text frames hold one or more lines; every outbound line
// is sent as its own frame without the trailing CRLF.
func (srv *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		_ = srv.ServeConn(bridgeWebSocket(ws), "websocket")
	})
}

// wsConn is the session side of an in-memory pipe whose other end is pumped
// to and from a WebSocket. The pipe gives sessions ordinary deadline
// semantics.
type wsConn struct {
	net.Conn
	remote net.Addr
}

func (c *wsConn) RemoteAddr() net.Addr { return c.remote }

func bridgeWebSocket(ws *websocket.Conn) *wsConn {
	local, peer := net.Pipe()
	ws.SetReadLimit(wsFrameLimit)
	go wsInbound(ws, peer)
	go wsOutbound(ws, peer)
	return &wsConn{Conn: local, remote: ws.RemoteAddr()}
}

func wsInbound(ws *websocket.Conn, peer net.Conn) {
	defer func() { _ = peer.Close() }()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error", "remote", ws.RemoteAddr().String(), "err", err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\r', '\n')
		}
		if _, err := peer.Write(data); err != nil {
			return
		}
	}
}

func wsOutbound(ws *websocket.Conn, peer net.Conn) {
	defer func() { _ = ws.Close() }()
	buf := make([]byte, wsFrameLimit)
	for {
		n, err := peer.Read(buf)
		if err != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
		line := bytes.TrimRight(buf[:n], "\r\n")
		if err := ws.WriteMessage(websocket.TextMessage, line); err != nil {
			_ = peer.Close()
			return
		}
	}
}
