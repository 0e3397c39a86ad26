package stub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/convo/internal/protocol"
)

// WSConfig holds WebSocket connection settings.
type WSConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	RequestTimeout time.Duration
}

// DefaultWSConfig returns the settings used by the dev service.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 65536,
		RequestTimeout: 30 * time.Second,
	}
}

// WSServer serves the chat operations as request and response frames.
type WSServer struct {
	cfg      WSConfig
	service  *Service
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConnection
}

// wsConnection is a single client connection.
type wsConnection struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(cfg WSConfig, service *Service) *WSServer {
	return &WSServer{
		cfg:     cfg,
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[string]*wsConnection),
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *WSServer) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := &wsConnection{
		id:   uuid.New().String(),
		conn: ws,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	s.register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// Connections returns the number of open connections.
func (s *WSServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll closes every open connection.
func (s *WSServer) CloseAll() {
	s.mu.Lock()
	conns := make([]*wsConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *WSServer) register(conn *wsConnection) {
	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()
	log.Printf("Connection registered: %s", conn.id)
}

func (s *WSServer) unregister(conn *wsConnection) {
	s.mu.Lock()
	delete(s.conns, conn.id)
	s.mu.Unlock()
	log.Printf("Connection unregistered: %s", conn.id)
}

func (s *WSServer) readPump(conn *wsConnection) {
	defer func() {
		s.unregister(conn)
		conn.close()
	}()

	conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		go s.handleFrame(conn, data)
	}
}

func (s *WSServer) writePump(conn *wsConnection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case message := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				conn.close()
				return
			}

		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}

		case <-conn.done:
			conn.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			conn.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleFrame runs one request frame and answers it.
func (s *WSServer) handleFrame(conn *wsConnection, data []byte) {
	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "", &APIError{Status: http.StatusBadRequest, Code: protocol.ErrorCodeInvalidFrame, Message: "invalid JSON frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	if req.Type == protocol.TypeLogin {
		resp, apiErr := s.service.Login(ctx, req.Username, req.Password)
		s.reply(conn, req.RequestID, resp, apiErr)
		return
	}

	username, apiErr := s.service.Authorize(req.Token)
	if apiErr != nil {
		s.sendError(conn, req.RequestID, apiErr)
		return
	}

	switch req.Type {
	case protocol.TypeHistoryGet:
		records, apiErr := s.service.History(ctx, username)
		s.reply(conn, req.RequestID, records, apiErr)
	case protocol.TypeMessageSend:
		resp, apiErr := s.service.Send(ctx, username, req.Message)
		s.reply(conn, req.RequestID, resp, apiErr)
	case protocol.TypeHistoryClear:
		apiErr := s.service.Clear(ctx, username)
		s.reply(conn, req.RequestID, map[string]bool{"ok": true}, apiErr)
	default:
		s.sendError(conn, req.RequestID, &APIError{Status: http.StatusBadRequest, Code: protocol.ErrorCodeInvalidFrame, Message: "unknown frame type: " + req.Type})
	}
}

func (s *WSServer) reply(conn *wsConnection, requestID string, body any, apiErr *APIError) {
	if apiErr != nil {
		s.sendError(conn, requestID, apiErr)
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		s.sendError(conn, requestID, internalError(err))
		return
	}
	s.sendJSON(conn, protocol.ResultFrame{
		BaseFrame: protocol.NewBase(protocol.TypeResult, requestID),
		Data:      data,
	})
}

func (s *WSServer) sendError(conn *wsConnection, requestID string, apiErr *APIError) {
	s.sendJSON(conn, protocol.ErrorFrame{
		BaseFrame: protocol.NewBase(protocol.TypeError, requestID),
		Status:    apiErr.Status,
		Code:      apiErr.Code,
		Message:   apiErr.Message,
	})
}

func (s *WSServer) sendJSON(conn *wsConnection, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return
	}
	select {
	case conn.send <- data:
	case <-conn.done:
	}
}

func (c *wsConnection) close() {
	c.once.Do(func() {
		close(c.done)
	})
}
