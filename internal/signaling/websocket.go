package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/codec"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	dialRetries = 4
)

// WSBus talks to the relay server's /ws/signal endpoint. Each subscribed
// topic owns one websocket; publishing requires a live subscription.
type WSBus struct {
	baseURL   string
	token     string
	frameType int
	log       *zap.Logger

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewWSBus builds a bus for baseURL (e.g. ws://localhost:8080/ws/signal).
// token is sent as a bearer credential. Payloads of a JSON codec go out as
// text frames so browser members on the same topic read them as strings;
// everything else is sent as binary.
func NewWSBus(baseURL, token string, c codec.Codec, log *zap.Logger) *WSBus {
	frameType := websocket.BinaryMessage
	if c != nil && c.Name() == (codec.JSON{}).Name() {
		frameType = websocket.TextMessage
	}
	return &WSBus{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		frameType: frameType,
		log:       log.Named("wsbus"),
		conns:     make(map[string]*wsConn),
	}
}

type wsConn struct {
	bus      *WSBus
	topic    string
	conn     *websocket.Conn
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

func (b *WSBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	if _, ok := b.conns[topic]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}
	b.mu.Unlock()

	conn, err := b.dial(ctx, topic)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		bus:      b,
		topic:    topic,
		conn:     conn,
		incoming: make(chan []byte, subscriptionBuffer),
		outgoing: make(chan []byte, subscriptionBuffer),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.conns[topic] = c
	b.mu.Unlock()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (b *WSBus) dial(ctx context.Context, topic string) (*websocket.Conn, error) {
	u, err := url.Parse(b.baseURL + "/" + url.PathEscape(topic))
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL: %w", err)
	}

	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("dial %s: %s", u.Redacted(), resp.Status))
			}
			b.log.Debug("dial failed, retrying", zap.String("topic", topic), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, dialRetries), ctx)); err != nil {
		return nil, fmt.Errorf("connect to signaling server: %w", err)
	}
	return conn, nil
}

func (c *wsConn) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.bus.log.Warn("signaling socket closed", zap.String("topic", c.topic), zap.Error(err))
			}
			return
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.bus.frameType, data); err != nil {
				c.bus.log.Warn("signaling write failed", zap.String("topic", c.topic), zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) C() <-chan []byte { return c.incoming }

// Close is safe to call more than once.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.bus.mu.Lock()
		if c.bus.conns[c.topic] == c {
			delete(c.bus.conns, c.topic)
		}
		c.bus.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (b *WSBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	c, ok := b.conns[topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("publish %s: %w", topic, ErrClosed)
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("publish %s: %w", topic, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}
