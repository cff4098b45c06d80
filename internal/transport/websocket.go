package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WebSocketDialer dials websocket endpoints.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the upgrade; zero means the gorilla default.
	HandshakeTimeout time.Duration
	// Header is sent with the upgrade request, e.g. Origin or auth headers.
	Header http.Header
	// WriteTimeout bounds each frame write; zero means 10s.
	WriteTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, h Handler) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ws := &webSocket{
		conn:         conn,
		handler:      h,
		writeTimeout: writeTimeout,
	}
	go ws.readLoop()
	return ws, nil
}

// webSocket adapts one gorilla connection to the Transport contract.
type webSocket struct {
	conn         *websocket.Conn
	handler      Handler
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (ws *webSocket) Send(f Frame) error {
	kind := websocket.TextMessage
	if f.Binary {
		kind = websocket.BinaryMessage
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	return ws.conn.WriteMessage(kind, f.Data)
}

func (ws *webSocket) Close() error {
	ws.writeMu.Lock()
	deadline := time.Now().Add(ws.writeTimeout)
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	ws.writeMu.Unlock()
	return ws.conn.Close()
}

// readLoop delivers inbound frames in arrival order and reports the
// terminal error exactly once. Control frames are handled by gorilla.
func (ws *webSocket) readLoop() {
	for {
		kind, data, err := ws.conn.ReadMessage()
		if err != nil {
			ws.closeOnce.Do(func() {
				ws.handler.HandleClose(err)
			})
			return
		}
		switch kind {
		case websocket.TextMessage:
			ws.handler.HandleFrame(Frame{Data: data})
		case websocket.BinaryMessage:
			ws.handler.HandleFrame(Frame{Binary: true, Data: data})
		}
	}
}
