// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/models"
)

// Close codes. The 4xxx range is application policy.
const (
	CloseNormal          = websocket.CloseNormalClosure     // 1000
	ClosePolicyViolation = websocket.ClosePolicyViolation   // 1008
	CloseServerError     = websocket.CloseInternalServerErr // 1011
	CloseSlowConsumer    = websocket.CloseTryAgainLater     // 1013
	CloseIdle            = 4000
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// connIDCounter hands out unique, monotonically increasing connection
// ids so broadcast iteration has a stable order.
var connIDCounter atomic.Uint64

// Conn is one live WebSocket with an authenticated subject, a role set
// and exactly one channel.
type Conn struct {
	id        uint64
	subjectID string
	roles     models.RoleSet
	channel   Channel

	// referee marks a connection that claimed the referee seat at
	// handshake; it gates nothing by itself, the role set does.
	referee bool

	ws      *websocket.Conn
	send    chan *models.Frame
	limiter *rate.Limiter

	hub    *Hub
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(h *Hub, ws *websocket.Conn, subjectID string, roles models.RoleSet, channel Channel, referee bool) *Conn {
	return &Conn{
		id:        connIDCounter.Add(1),
		subjectID: subjectID,
		roles:     roles,
		channel:   channel,
		referee:   referee,
		ws:        ws,
		send:      make(chan *models.Frame, h.cfg.SendQueueSize),
		limiter:   rate.NewLimiter(rate.Limit(h.cfg.CommandRate), h.cfg.CommandBurst),
		hub:       h,
		closed:    make(chan struct{}),
	}
}

// ID returns the connection's process-local id.
func (c *Conn) ID() uint64 { return c.id }

// SubjectID returns the authenticated principal.
func (c *Conn) SubjectID() string { return c.subjectID }

// Roles returns the verified role set.
func (c *Conn) Roles() models.RoleSet { return c.roles }

// Channel returns the channel the connection is attached to.
func (c *Conn) Channel() Channel { return c.channel }

// Referee reports the effective connection role.
func (c *Conn) Referee() bool { return c.referee }

// Send enqueues a frame without blocking. A full queue reports false;
// the caller evicts the connection.
func (c *Conn) Send(frame *models.Frame) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// SendError delivers an ERROR frame to this connection only.
func (c *Conn) SendError(kind, message, correlationID string) {
	frame := &models.Frame{
		Type:      models.FrameError,
		Timestamp: time.Now().UTC(),
		Data: models.ErrorData{
			Kind:          kind,
			Message:       message,
			CorrelationID: correlationID,
		},
	}
	if !c.Send(frame) {
		c.hub.evict(c, CloseSlowConsumer, "slow_consumer")
	}
}

// close sends a close control frame and tears the socket down. Safe to
// call from any goroutine, once wins.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("close control write failed")
		}
		_ = c.ws.Close()
	})
}

// readPump owns the socket's read side. Any received frame counts as
// liveness; a connection silent past the idle timeout is evicted with
// 4000 "idle".
func (c *Conn) readPump(ctx context.Context) {
	defer c.hub.detach(c)

	idle := c.hub.cfg.IdleTimeout
	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.SendError("MalformedCommand", "frame is not valid JSON", "")
			continue
		}

		if frame.Type == models.FramePing {
			c.Send(&models.Frame{
				Type:          models.FramePong,
				Timestamp:     time.Now().UTC(),
				CorrelationID: frame.CorrelationID,
			})
			continue
		}

		if !c.limiter.Allow() {
			c.SendError("RateLimited", "command rate exceeded", frame.CorrelationID)
			continue
		}

		c.hub.commands.Handle(ctx, c, &frame)
	}
}

func (c *Conn) handleReadError(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.hub.evict(c, CloseIdle, "idle")
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
		logging.Debug().Err(err).Uint64("conn_id", c.id).Msg("unexpected websocket close")
	}
}

// writePump owns the socket's write side: queued frames and the server
// heartbeat. Each write is bounded by the send timeout so one stuck
// socket cannot hold the goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.writeFrame(frame); err != nil {
				c.hub.evict(c, CloseSlowConsumer, "slow_consumer")
				return
			}

		case <-c.closed:
			return

		case <-ticker.C:
			deadline := time.Now().Add(c.hub.cfg.SendTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeFrame(frame *models.Frame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.SendTimeout)); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error().Err(err).Str("frame_type", string(frame.Type)).Msg("frame marshal failed")
		return nil
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
