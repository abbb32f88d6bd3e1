package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultReconnectDelay = 3 * time.Second

// WSClient handles the WebSocket connection to the tick feed and message routing.
type WSClient struct {
	url            string
	topics         []string
	reconnectDelay time.Duration
	handler        func([]byte)
	logger         *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a client that subscribes to the tick topic of every instrument.
func NewWSClient(url string, instruments []string, reconnectDelay time.Duration, logger *zap.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	topics := make([]string, 0, len(instruments))
	for _, name := range instruments {
		topics = append(topics, Topic(name))
	}
	return &WSClient{
		url:            url,
		topics:         topics,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect establishes the WebSocket connection and subscribes to the tick
// topics. It does not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, err := c.dialAndSubscribe(ctx)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.setConn(conn)
	c.logger.Info("WebSocket connected", zap.String("url", c.url), zap.Int("topics", len(c.topics)))
	return nil
}

// Listen reads messages until ctx is done, reconnecting and resubscribing
// after every read error.
func (c *WSClient) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	}()

	for {
		conn := c.getConn()
		if conn == nil {
			return fmt.Errorf("websocket not connected")
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("WebSocket read error", zap.Error(err))

			if err := c.reconnect(ctx); err != nil {
				return nil
			}
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries indefinitely until it succeeds or ctx is done.
func (c *WSClient) reconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.dialAndSubscribe(ctx)
		if err != nil {
			c.logger.Warn("Retrying reconnect...", zap.Error(err))
			continue
		}

		if old := c.setConn(conn); old != nil {
			_ = old.Close()
		}
		c.logger.Info("Reconnected successfully")
		return nil
	}
}

func (c *WSClient) dialAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(SubscribeRequest{Op: "subscribe", Args: c.topics}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket subscribe failed: %w", err)
	}
	return conn, nil
}

func (c *WSClient) getConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *WSClient) setConn(conn *websocket.Conn) *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.conn
	c.conn = conn
	return old
}
