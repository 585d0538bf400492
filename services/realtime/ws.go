package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10 // must be less than pongWait
	sendBufSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origins are checked by the API's CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// push queues msg; a client whose buffer is full is disconnected.
func (c *client) push(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades the request to a WebSocket and streams the events of channel to it
// as JSON FeedEvents until either side closes the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		return errors.Wrap(err, "upgrading connection")
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	sub, err := h.Subscribe(channel, func(evt core.FeedEvent) {
		msg, err := evt.Marshal()
		if err != nil {
			h.logger.Error(fmt.Sprintf("realtime: encoding event: %v", err), err)
			return
		}
		c.push(msg)
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer sub.Close()
	defer c.close()

	go c.writePump()
	c.readPump() // blocks until the connection closes
	return nil
}

// writePump forwards queued events to the connection and pings it every pingPeriod.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames (pong, close) and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WSFeed is a core.Feed reading the events of a remote API's realtime endpoint.
// Each subscription holds its own connection; there is no reconnection and no replay.
type WSFeed struct {
	baseURL string // e.g. ws://localhost:8000/v1/realtime
	token   string
	dialer  *websocket.Dialer
	logger  core.Logger
}

var _ core.Feed = (*WSFeed)(nil)

func NewWSFeed(baseURL, token string, logger core.Logger) *WSFeed {
	return &WSFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// URL returns the endpoint streaming channel.
func (f *WSFeed) URL(channel string) (string, error) {
	collection, scopeID, ok := core.SplitChannelName(channel)
	if !ok {
		return "", errors.Errorf("invalid channel %q", channel)
	}
	u := f.baseURL + "/" + url.PathEscape(collection) + "/" + url.PathEscape(scopeID)
	if f.token != "" {
		u += "?" + url.Values{"token": {f.token}}.Encode()
	}
	return u, nil
}

func (f *WSFeed) Subscribe(channel string, handler func(core.FeedEvent)) (core.Subscription, error) {
	u, err := f.URL(channel)
	if err != nil {
		return nil, err
	}
	conn, resp, err := f.dialer.Dial(u, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s: %s", channel, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", channel)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !sub.isClosing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					f.logger.Warn(fmt.Sprintf("realtime: %s feed stopped: %v", channel, err), err)
				}
				return
			}
			var evt core.FeedEvent
			if err = json.Unmarshal(msg, &evt); err != nil {
				f.logger.Warn(fmt.Sprintf("realtime: decoding %s event: %v", channel, err), err)
				continue
			}
			handler(evt)
		}
	}()
	return sub, nil
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}

	mu      sync.Mutex
	closing bool
}

func (s *wsSubscription) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close closes the connection and waits for the reader to stop.
func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := s.conn.Close()
	<-s.done
	return err
}

// Done is closed once the subscription stops receiving events.
func (s *wsSubscription) Done() <-chan struct{} { return s.done }
