package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	gorillaWriteWait = 10 * time.Second
	gorillaPongWait  = 60 * time.Second
	maxFrameSize     = 1 << 20
)

// GorillaTransport adapts a *websocket.Conn (the teacher's primary
// transport) to the session.Transport interface.
type GorillaTransport struct {
	conn *websocket.Conn
}

// NewGorillaTransport wraps an already-upgraded gorilla/websocket
// connection. The read limit and pong deadline match the teacher's
// pkg/websocket/client.go conventions, generalized to this protocol's
// larger (document-snapshot-sized) frames.
func NewGorillaTransport(conn *websocket.Conn) *GorillaTransport {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(gorillaPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(gorillaPongWait))
		return nil
	})
	return &GorillaTransport{conn: conn}
}

func (t *GorillaTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(gorillaPongWait))
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *GorillaTransport) WriteFrame(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(gorillaWriteWait))
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *GorillaTransport) Close() error {
	return t.conn.Close()
}

func (t *GorillaTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
