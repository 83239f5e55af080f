package session

import (
	"context"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	gobwasWriteWait = 10 * time.Second
	gobwasReadWait  = 60 * time.Second
)

// GobwasTransport adapts a raw net.Conn upgraded via gobwas/ws to the
// session.Transport interface, grounded on the teacher's ws/ variant
// which favors gobwas for lower per-connection allocation overhead at
// high connection counts.
type GobwasTransport struct {
	conn net.Conn
}

func NewGobwasTransport(conn net.Conn) *GobwasTransport {
	return &GobwasTransport{conn: conn}
}

func (t *GobwasTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(gobwasReadWait))
	for {
		data, op, err := wsutil.ReadClientData(t.conn)
		if err != nil {
			return nil, err
		}
		switch op {
		case ws.OpText, ws.OpBinary:
			return data, nil
		case ws.OpClose:
			return nil, net.ErrClosed
		case ws.OpPing:
			if err := wsutil.WriteServerMessage(t.conn, ws.OpPong, nil); err != nil {
				return nil, err
			}
		}
	}
}

func (t *GobwasTransport) WriteFrame(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(gobwasWriteWait))
	}
	return wsutil.WriteServerMessage(t.conn, ws.OpBinary, data)
}

func (t *GobwasTransport) Close() error {
	return t.conn.Close()
}

func (t *GobwasTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
