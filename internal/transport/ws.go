package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/convo/internal/protocol"
)

// WSClient talks to the assistant service over a single WebSocket connection.
// Requests are correlated with responses by request id. The connection is
// dialed on first use and redialed on the next call after it drops.
type WSClient struct {
	url            string
	dialer         *websocket.Dialer
	requestTimeout time.Duration
	writeTimeout   time.Duration

	mu   sync.Mutex
	conn *wsConn
}

var _ Transport = (*WSClient)(nil)

// wsConn is one live connection and the requests waiting on it.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.ResponseFrame
	done    chan struct{}
	err     error
}

// NewWSClient creates a new WebSocket transport. A zero timeout leaves
// requests bounded only by the caller's context.
func NewWSClient(url string, timeout time.Duration) *WSClient {
	return &WSClient{
		url:            url,
		dialer:         websocket.DefaultDialer,
		requestTimeout: timeout,
		writeTimeout:   10 * time.Second,
	}
}

// FetchHistory sends a history_get frame.
func (c *WSClient) FetchHistory(ctx context.Context, token string) (json.RawMessage, error) {
	return c.call(ctx, protocol.RequestFrame{
		BaseFrame: protocol.BaseFrame{Type: protocol.TypeHistoryGet},
		Token:     token,
	})
}

// PostMessage sends a message_send frame.
func (c *WSClient) PostMessage(ctx context.Context, token, text string) (json.RawMessage, error) {
	return c.call(ctx, protocol.RequestFrame{
		BaseFrame: protocol.BaseFrame{Type: protocol.TypeMessageSend},
		Token:     token,
		Message:   text,
	})
}

// DeleteHistory sends a history_clear frame.
func (c *WSClient) DeleteHistory(ctx context.Context, token string) error {
	_, err := c.call(ctx, protocol.RequestFrame{
		BaseFrame: protocol.BaseFrame{Type: protocol.TypeHistoryClear},
		Token:     token,
	})
	return err
}

// Login sends a login frame.
func (c *WSClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	data, err := c.call(ctx, protocol.RequestFrame{
		BaseFrame: protocol.BaseFrame{Type: protocol.TypeLogin},
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return LoginResult{}, err
	}

	var lb loginBody
	if err := json.Unmarshal(data, &lb); err != nil {
		return LoginResult{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	return lb.result()
}

// Close closes the current connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.writeMu.Lock()
	conn.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.writeMu.Unlock()
	return conn.ws.Close()
}

func (c *WSClient) call(ctx context.Context, req protocol.RequestFrame) (json.RawMessage, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, wsError(req.Type, err)
	}

	req.BaseFrame = protocol.NewBase(req.Type, uuid.New().String())
	ch, err := conn.register(req.RequestID)
	if err != nil {
		return nil, wsError(req.Type, err)
	}
	defer conn.unregister(req.RequestID)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", req.Type, err)
	}
	if err := conn.write(data, c.writeTimeout); err != nil {
		c.drop(conn, err)
		return nil, wsError(req.Type, err)
	}

	select {
	case resp := <-ch:
		if resp.Type == protocol.TypeError {
			return nil, &Error{
				Failure: FailureStatus,
				Status:  resp.Status,
				Code:    resp.Code,
				Message: resp.Message,
			}
		}
		return resp.Data, nil
	case <-conn.done:
		return nil, wsError(req.Type, conn.err)
	case <-ctx.Done():
		return nil, wsError(req.Type, ctx.Err())
	}
}

// connect returns the live connection, dialing a new one when needed.
func (c *WSClient) connect(ctx context.Context) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	conn := &wsConn{
		ws:      ws,
		pending: make(map[string]chan protocol.ResponseFrame),
		done:    make(chan struct{}),
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// drop forgets conn so the next call redials, and fails its waiting requests.
func (c *WSClient) drop(conn *wsConn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.fail(err)
	conn.ws.Close()
}

func (c *WSClient) readLoop(conn *wsConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocket read error: %v", err)
			}
			c.drop(conn, fmt.Errorf("connection closed: %w", err))
			return
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("Failed to decode frame: %v", err)
			continue
		}
		conn.deliver(resp)
	}
}

func (c *wsConn) register(requestID string) (chan protocol.ResponseFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan protocol.ResponseFrame, 1)
	c.pending[requestID] = ch
	return ch, nil
}

func (c *wsConn) unregister(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// deliver hands resp to its waiting request. Frames nobody waits for are dropped.
func (c *wsConn) deliver(resp protocol.ResponseFrame) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (c *wsConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *wsConn) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func wsError(frameType string, err error) *Error {
	return &Error{
		Failure: failureOf(err),
		Message: fmt.Sprintf("failed to send %s frame", frameType),
		Err:     err,
	}
}
