package ws

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// keepAliveManager periodically pings the peer while the connection is open
// and aborts the connection when a ping goes unanswered for a whole
// interval.
//
// Its lifetime is tied to the connection's inbound context: terminal state
// transitions stop the ticker goroutine.
type keepAliveManager struct {
	conn     *Conn
	interval time.Duration
	awaiting atomic.Bool
}

func startKeepAlive(c *Conn, interval time.Duration) *keepAliveManager {
	m := &keepAliveManager{conn: c, interval: interval}
	go m.run(c.ctx)
	return m
}

func (m *keepAliveManager) run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if m.awaiting.Load() {
			// No pong since the previous ping: the peer is gone.
			m.conn.log.Warn(evKeepAliveTimeout, zap.Duration("interval", m.interval))
			m.conn.Abort()
			return
		}

		// The ping payload carries the send time so the peer's echo
		// identifies which ping it answers.
		var p [8]byte
		binary.BigEndian.PutUint64(p[:], uint64(time.Now().UnixMilli()))
		m.awaiting.Store(true)
		if err := m.conn.SendPing(ctx, p[:]); err != nil {
			return
		}
	}
}

// pongReceived clears the outstanding-ping flag. Invoked by the receive loop
// for every Pong opcode, solicited or not.
func (m *keepAliveManager) pongReceived(payload []byte) {
	m.awaiting.Store(false)
}
