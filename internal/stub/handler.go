package stub

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// usernameKey is the echo context key holding the authenticated user.
const usernameKey = "username"

// Handler handles HTTP requests.
type Handler struct {
	service *Service
	ws      *WSServer
}

// NewHandler creates a new handler.
func NewHandler(service *Service, ws *WSServer) *Handler {
	return &Handler{
		service: service,
		ws:      ws,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/auth/login", h.Login)

	chat := e.Group("/api/chat", h.RequireAuth)
	chat.GET("/history", h.GetHistory)
	chat.DELETE("/history", h.ClearHistory)
	chat.POST("/message", h.SendMessage)

	e.GET("/ws", h.ws.HandleWebSocket)
	e.GET("/health", h.Health)
}

// RequireAuth rejects requests without a valid bearer token.
func (h *Handler) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		username, apiErr := h.service.Authorize(bearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
		if apiErr != nil {
			return writeError(c, apiErr)
		}
		c.Set(usernameKey, username)
		return next(c)
	}
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a token.
// POST /api/auth/login
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, badRequest("invalid request body"))
	}

	resp, apiErr := h.service.Login(c.Request().Context(), req.Username, req.Password)
	if apiErr != nil {
		return writeError(c, apiErr)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetHistory returns the conversation.
// GET /api/chat/history
func (h *Handler) GetHistory(c echo.Context) error {
	records, apiErr := h.service.History(c.Request().Context(), c.Get(usernameKey).(string))
	if apiErr != nil {
		return writeError(c, apiErr)
	}
	return c.JSON(http.StatusOK, records)
}

// SendMessageRequest is the body of POST /api/chat/message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage stores a user message and returns the assistant's reply.
// POST /api/chat/message
func (h *Handler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, badRequest("invalid request body"))
	}

	resp, apiErr := h.service.Send(c.Request().Context(), c.Get(usernameKey).(string), req.Message)
	if apiErr != nil {
		return writeError(c, apiErr)
	}
	return c.JSON(http.StatusOK, resp)
}

// ClearHistory deletes the conversation.
// DELETE /api/chat/history
func (h *Handler) ClearHistory(c echo.Context) error {
	if apiErr := h.service.Clear(c.Request().Context(), c.Get(usernameKey).(string)); apiErr != nil {
		return writeError(c, apiErr)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func writeError(c echo.Context, apiErr *APIError) error {
	return c.JSON(apiErr.Status, apiErr)
}
