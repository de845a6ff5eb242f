// Package server exposes the HTTP control surface: thin JSON handlers that
// map 1:1 onto session manager operations.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wabridge/session"
	"wabridge/wa"
)

// Sessions is the lifecycle surface the HTTP layer drives.
type Sessions interface {
	Connect(ctx context.Context, tenantID string) error
	Disconnect(ctx context.Context, tenantID string) error
	Logout(ctx context.Context, tenantID string) error
	Send(ctx context.Context, tenantID, phone, text string) (wa.Receipt, error)
	Status(ctx context.Context, tenantID string) (session.Status, string, error)
}

// tenantRequest accepts both snake_case and camelCase tenant keys, since
// callers of this API use both.
type tenantRequest struct {
	TenantID    string `json:"tenant_id"`
	TenantIDAlt string `json:"tenantId"`
}

func (r tenantRequest) tenant() string {
	if r.TenantID != "" {
		return r.TenantID
	}
	return r.TenantIDAlt
}

type sendMessageRequest struct {
	TenantID string `json:"tenant_id"`
	Phone    string `json:"phone"`
	Message  string `json:"message"`
}

// New builds the gin engine with all routes installed.
func New(sessions Sessions, hub *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// CORS for browser dashboards polling QR/status.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s := &handlers{sessions: sessions}

	r.GET("/", s.handleHealth)
	r.GET("/health", s.handleHealth)
	r.POST("/connect", s.handleConnect)
	r.POST("/disconnect", s.handleDisconnect)
	r.POST("/logout", s.handleLogout)
	r.POST("/send-message", s.handleSendMessage)
	r.GET("/status", s.handleStatus)
	r.GET("/status/:tenant_id", s.handleStatus)
	if hub != nil {
		r.GET("/ws", hub.Serve)
	}

	return r
}

type handlers struct {
	sessions Sessions
}

func (s *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"service":   "wabridge",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *handlers) handleConnect(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.tenant() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	if err := s.sessions.Connect(c.Request.Context(), req.tenant()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to connect WhatsApp session",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "initializing WhatsApp connection"})
}

func (s *handlers) handleDisconnect(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.tenant() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	if err := s.sessions.Disconnect(c.Request.Context(), req.tenant()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to disconnect WhatsApp session",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "disconnected successfully"})
}

func (s *handlers) handleLogout(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.tenant() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	if err := s.sessions.Logout(c.Request.Context(), req.tenant()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to log out WhatsApp session",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "session wiped completely, you can reconnect now",
	})
}

func (s *handlers) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message cannot be empty"})
		return
	}

	receipt, err := s.sessions.Send(c.Request.Context(), req.TenantID, req.Phone, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to send WhatsApp message"
		if errors.Is(err, session.ErrNoActiveSession) || errors.Is(err, session.ErrNotAuthenticated) {
			msg = "no active WhatsApp session for tenant"
		}
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "message sent via WhatsApp",
		"data":    receipt,
	})
}

func (s *handlers) handleStatus(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if tenantID == "" {
		tenantID = c.Query("tenant_id")
	}
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	status, qr, err := s.sessions.Status(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to fetch session status",
			"details": err.Error(),
		})
		return
	}

	resp := gin.H{"status": status}
	if qr != "" {
		resp["qr_code"] = qr
	}
	c.JSON(http.StatusOK, resp)
}
