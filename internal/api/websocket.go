package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// Command names accepted on the WebSocket.
const (
	CmdSet  = "set"
	CmdGet  = "get"
	CmdList = "list"
)

// Protocol error codes not owned by the device package.
const (
	WSErrInvalidJSON = "invalid_json"
	WSErrUnknownCmd  = "unknown_cmd"
)

const (
	defaultSendBuffer   = 256
	commandTimeout      = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 10 * time.Second
)

// wsCommand is an inbound {"cmd": ...} message.
type wsCommand struct {
	Cmd  string `json:"cmd"`
	Dev  string `json:"dev"`
	Attr string `json:"attr"`
	Val  any    `json:"val"`
}

// wsReply is a response sent to a single client.
type wsReply map[string]any

func okReply(fields wsReply) wsReply {
	if fields == nil {
		fields = wsReply{}
	}
	fields["status"] = "ok"
	return fields
}

func errReply(code string) wsReply {
	return wsReply{"status": "error", "error": code}
}

func greeting() wsReply {
	return okReply(wsReply{"msg": "connected"})
}

// WSClient is a Subscriber backed by a WebSocket connection.
//
// Outbound messages go through a bounded buffer drained by writePump. Send
// never blocks: a full or closed buffer is reported as an error.
type WSClient struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	subject string

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string, buffer int) *WSClient {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &WSClient{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, buffer),
	}
}

// ID implements Subscriber.
func (c *WSClient) ID() string { return c.id }

// Send implements Subscriber.
func (c *WSClient) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close implements Subscriber. writePump sends a close frame and releases
// the connection once the buffer is drained.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket authenticates, upgrades and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, subject, s.wsCfg.SendBuffer)
	s.hub.Connect(client)
	if err := s.hub.SendTo(client, greeting()); err != nil {
		s.logger.Warn("websocket greeting failed", "id", client.ID(), "error", err)
	}
	s.logger.Info("websocket client connected", "id", client.ID(), "subject", subject)

	go client.writePump(s.wsCfg)
	go s.readPump(client)
}

// readPump reads commands until the connection fails, then disconnects the
// client from the hub.
func (s *Server) readPump(c *WSClient) {
	defer func() {
		s.hub.Disconnect(c)
		c.conn.Close()
	}()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	pingInterval, pongWait := keepalive(s.wsCfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "id", c.ID(), "error", err)
			} else {
				s.logger.Debug("websocket closed", "id", c.ID(), "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, even when the
		// browser does not answer protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		reply := s.handleCommand(ctx, message)
		cancel()

		if err := s.hub.SendTo(c, reply); err != nil {
			s.logger.Debug("websocket reply dropped", "id", c.ID(), "error", err)
		}
	}
}

// keepalive returns the ping interval and pong timeout, falling back to
// 30s and 10s when unset or non-positive.
func keepalive(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return pingInterval, pongWait
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, writeWait := keepalive(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand executes one inbound message and returns the reply. The
// connection stays open on every error.
func (s *Server) handleCommand(ctx context.Context, data []byte) wsReply {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errReply(WSErrInvalidJSON)
	}

	switch cmd.Cmd {
	case CmdSet:
		if err := s.registry.SetAttribute(ctx, cmd.Dev, cmd.Attr, cmd.Val); err != nil {
			return errReply(device.ErrorCode(err))
		}
		return okReply(wsReply{"dev": cmd.Dev, "attr": cmd.Attr, "val": cmd.Val})

	case CmdGet:
		d, err := s.registry.Get(cmd.Dev)
		if err != nil {
			return errReply(device.ErrorCode(err))
		}
		return okReply(wsReply{"dev": cmd.Dev, "state": d.Read()})

	case CmdList:
		return okReply(wsReply{"devices": s.registry.ListAll()})

	default:
		return errReply(WSErrUnknownCmd)
	}
}
