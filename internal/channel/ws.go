// internal/channel/ws.go
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// WSProvider connects channels through a websocket realtime relay. The relay fans a
// frame out to every other connection joined to the same topic and synthesizes leave
// presence when a connection drops, so a hard client crash still shows up as an
// opponent departure.
type WSProvider struct {
	relayURL string
	token    string
	log      *logrus.Logger
}

// NewWSProvider builds a provider for the given relay endpoint. token is the bearer
// credential minted by the identity provider.
func NewWSProvider(relayURL, token string, log *logrus.Logger) *WSProvider {
	return &WSProvider{relayURL: relayURL, token: token, log: log}
}

func (p *WSProvider) Channel(roomID string) Channel {
	return &wsChannel{
		relayURL: p.relayURL,
		token:    p.token,
		log:      p.log,
		topic:    "room:" + roomID,
	}
}

type wsChannel struct {
	relayURL string
	token    string
	log      *logrus.Logger
	topic    string

	mu         sync.Mutex
	onMessage  []func(Message)
	onPresence []func(PresenceEvent)
	conn       *websocket.Conn
	cancel     context.CancelFunc
	tracked    string
}

func (c *wsChannel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *wsChannel) OnPresence(fn func(PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = append(c.onPresence, fn)
}

func (c *wsChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	endpoint, err := url.Parse(c.relayURL)
	if err != nil {
		return fmt.Errorf("%w: bad relay url: %v", ErrSubscribeFailed, err)
	}
	q := endpoint.Query()
	q.Set("topic", c.topic)
	endpoint.RawQuery = q.Encode()

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(dialCtx, endpoint.String(), &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{"neontype"},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	c.conn = conn

	readCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(readCtx, conn)
	return nil
}

func (c *wsChannel) Track(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.tracked = userID
	c.mu.Unlock()
	return c.write(ctx, frame{Kind: "presence", Presence: &PresenceEvent{Kind: PresenceJoin, UserID: userID}})
}

func (c *wsChannel) Send(ctx context.Context, msg Message) error {
	return c.write(ctx, frame{Kind: "message", Message: &msg})
}

func (c *wsChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	tracked := c.tracked
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if tracked != "" {
		writeCtx, cancelWrite := context.WithTimeout(ctx, 2*time.Second)
		data, _ := json.Marshal(frame{Kind: "presence", Presence: &PresenceEvent{Kind: PresenceLeave, UserID: tracked}})
		if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			c.log.Warnf("failed to send leave presence on %s: %v", c.topic, err)
		}
		cancelWrite()
	}
	cancel()
	return conn.Close(websocket.StatusNormalClosure, "leaving room")
}

func (c *wsChannel) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("channel %s not subscribed", c.topic)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.topic, err)
	}
	return nil
}

func (c *wsChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if ctx.Err() == nil && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.log.Warnf("read error on %s: %v", c.topic, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warnf("invalid frame on %s: %v", c.topic, err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *wsChannel) dispatch(f frame) {
	c.mu.Lock()
	msgFns := append([]func(Message){}, c.onMessage...)
	presFns := append([]func(PresenceEvent){}, c.onPresence...)
	tracked := c.tracked
	c.mu.Unlock()

	switch {
	case f.Kind == "message" && f.Message != nil:
		for _, fn := range msgFns {
			fn(*f.Message)
		}
	case f.Kind == "presence" && f.Presence != nil:
		if f.Presence.UserID == tracked {
			return
		}
		for _, fn := range presFns {
			fn(*f.Presence)
		}
	}
}
