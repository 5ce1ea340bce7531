// Package api exposes the push subsystem over HTTP: the registration
// endpoint used by browsers and the privileged dispatch endpoint used by the
// admin console.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"

	"github.com/fonzu/push"
)

// Registrar is the subscription lifecycle consumed by the handlers.
type Registrar interface {
	Register(ctx context.Context, sub *push.Subscription) error
	Unregister(ctx context.Context, endpoint string) error
}

// Dispatcher fans a notification out and reports aggregate counts.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *push.Notification) (*push.DispatchSummary, error)
}

// Server is the HTTP boundary.
type Server struct {
	router       *gin.Engine
	lifecycle    Registrar
	dispatcher   Dispatcher
	appServerKey string // base64url VAPID public key, empty when unconfigured
	adminToken   string // dispatch bearer secret; empty disables the check (dev mode)
}

// NewServer wires the routes. appServerKey may be empty when no VAPID key is
// configured; adminToken empty means dispatch is open (development only).
func NewServer(lifecycle Registrar, dispatcher Dispatcher, appServerKey, adminToken string) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:       router,
		lifecycle:    lifecycle,
		dispatcher:   dispatcher,
		appServerKey: appServerKey,
		adminToken:   adminToken,
	}

	api := router.Group("/api/push")
	{
		api.POST("", s.handleRegistration)
		api.POST("/send", s.bearerAuth, s.handleSend)
		api.GET("/vapid-public-key", s.handlePublicKey)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "push"})
	})

	return s
}

// Handler returns the root http.Handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// registrationRequest is the browser-facing wire format. The action query
// parameter selects subscribe or unsubscribe.
type registrationRequest struct {
	Endpoint string    `json:"endpoint"`
	Keys     push.Keys `json:"keys"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleRegistration serves POST /api/push?action=subscribe|unsubscribe.
func (s *Server) handleRegistration(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Message: "invalid request body"})
		return
	}

	var err error
	switch action := c.Query("action"); action {
	case "subscribe":
		err = s.lifecycle.Register(c.Request.Context(), &push.Subscription{
			Endpoint: req.Endpoint,
			Keys:     req.Keys,
		})
	case "unsubscribe":
		err = s.lifecycle.Unregister(c.Request.Context(), req.Endpoint)
	default:
		c.JSON(http.StatusBadRequest, statusResponse{Message: "unknown action: " + action})
		return
	}

	if err != nil {
		if errors.Is(err, push.ErrValidation) {
			c.JSON(http.StatusBadRequest, statusResponse{Message: err.Error()})
			return
		}
		clog.FromContext(c.Request.Context()).Errorf("registration failed: %v", err)
		c.JSON(http.StatusInternalServerError, statusResponse{Message: "registration failed"})
		return
	}

	c.JSON(http.StatusOK, statusResponse{Success: true, Message: "ok"})
}

type sendRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Image string `json:"image,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

type sendResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RecipientCount int    `json:"recipientCount"`
	FailedCount    int    `json:"failedCount"`
}

// handleSend serves POST /api/push/send. Only aggregate counts are reported;
// individual endpoints are not addressable by the admin.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, sendResponse{Message: "invalid request body"})
		return
	}

	summary, err := s.dispatcher.Dispatch(c.Request.Context(), &push.Notification{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Image: req.Image,
		Icon:  req.Icon,
		Badge: req.Badge,
	})
	if err != nil {
		if errors.Is(err, push.ErrValidation) {
			c.JSON(http.StatusBadRequest, sendResponse{Message: err.Error()})
			return
		}
		clog.FromContext(c.Request.Context()).Errorf("dispatch failed: %v", err)
		c.JSON(http.StatusInternalServerError, sendResponse{Message: "dispatch failed"})
		return
	}

	msg := "notification sent"
	switch summary.Status {
	case push.StatusDisabled:
		msg = "push delivery is not configured"
	case push.StatusNoSubscribers:
		msg = "no active subscribers"
	}
	c.JSON(http.StatusOK, sendResponse{
		Success:        true,
		Message:        msg,
		RecipientCount: summary.Delivered,
		FailedCount:    summary.Failed,
	})
}

// handlePublicKey serves the applicationServerKey clients subscribe with.
func (s *Server) handlePublicKey(c *gin.Context) {
	if s.appServerKey == "" {
		c.JSON(http.StatusNotFound, statusResponse{Message: "no VAPID key configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": s.appServerKey})
}

// bearerAuth guards the dispatch endpoint with a shared-secret bearer token.
// No configured secret disables the check, the deliberate open-in-dev mode.
func (s *Server) bearerAuth(c *gin.Context) {
	if s.adminToken == "" {
		return
	}

	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, statusResponse{Message: push.ErrUnauthorized.Error()})
		return
	}
}
