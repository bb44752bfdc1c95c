package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

const (
	maxMessageSize  = 256 * 1024
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	// The websocket connection.
	conn *websocket.Conn

	user *types.User

	// Buffered channel of outbound messages, closed by Close.
	send chan []byte

	// guards send against writes after close
	sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, user *types.User) *Client {
	return newClient(conn, user, sendChannelSize)
}

func newClient(conn *websocket.Conn, user *types.User, bufferSize int) *Client {
	return &Client{
		conn: conn,
		user: user,
		send: make(chan []byte, bufferSize),
	}
}

// Send queues data for the write loop without blocking. It returns false if the client is closed or its buffer is
// full.
func (c *Client) Send(data []byte) bool {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the send channel, the write loop flushes what is queued, sends a close frame and exits.
// Close may be called more than once.
func (c *Client) Close() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadLoop pumps messages from the websocket connection to handle until the connection fails or is closed.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(handle func(raw []byte)) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				globals.AppLogger.Info("websocket closed unexpectedly", "user", c.user.Id, "error", err)
			}
			return
		}
		handle(raw)
	}
}

// WriteLoop pumps messages from the send channel to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Close was called.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				globals.AppLogger.Debug("could not write to websocket, exiting write loop", "user", c.user.Id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop", "user", c.user.Id)
				return
			}
		}
	}
}
