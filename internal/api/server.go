// Package api exposes the collaborator-facing HTTP surface: push
// subscription opt-in/out, preference documents, the in-app notification
// list, and topic-push onboarding URLs.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hearth/internal/channel"
	"hearth/internal/notify"
	"hearth/internal/storage"
	"hearth/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled bool
	Addr    string
}

// Server wires the store and the optional topic-push sender behind gin
// handlers. The zero value is not usable; call New.
type Server struct {
	cfg   Config
	store *storage.Store
	ntfy  *channel.Ntfy
	log   logx.Logger

	http *http.Server
}

// New builds the server. ntfy may be nil when topic push is not
// configured; the onboarding endpoint then answers 404.
func New(cfg Config, store *storage.Store, ntfy *channel.Ntfy, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8086"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, store: store, ntfy: ntfy, log: log.With(logx.String("component", "api"))}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, s)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, s *Server) {
	api := router.Group("/api")
	{
		api.POST("/subscriptions", s.createSubscription)
		api.DELETE("/subscriptions", s.deleteSubscription)

		api.GET("/preferences/:recipient", s.getPreferences)
		api.PUT("/preferences/:recipient", s.putPreferences)

		api.GET("/notifications/:recipient", s.listNotifications)
		api.POST("/notifications/:recipient/read", s.markRead)
		api.DELETE("/notifications/:recipient/read", s.clearRead)

		api.GET("/push/onboarding", s.pushOnboarding)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() {
	if !s.cfg.Enabled {
		return
	}
	s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped", logx.Err(err))
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type subscriptionDTO struct {
	RecipientID string `json:"recipient_id"`
	Endpoint    string `json:"endpoint"`
	Keys        struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) createSubscription(c *gin.Context) {
	var dto subscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub := notify.Subscription{
		RecipientID: dto.RecipientID,
		Endpoint:    dto.Endpoint,
		P256dh:      dto.Keys.P256dh,
		Auth:        dto.Keys.Auth,
	}
	if err := s.store.PutSubscription(c.Request.Context(), sub); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "subscription registered"})
}

func (s *Server) deleteSubscription(c *gin.Context) {
	var dto subscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if dto.RecipientID == "" || dto.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id and endpoint are required"})
		return
	}
	if err := s.store.DeactivateSubscription(c.Request.Context(), dto.RecipientID, dto.Endpoint); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription removed"})
}

func (s *Server) getPreferences(c *gin.Context) {
	prefs, err := s.store.Preferences(c.Request.Context(), c.Param("recipient"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) putPreferences(c *gin.Context) {
	var prefs notify.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prefs.RecipientID = c.Param("recipient")
	if err := s.store.PutPreferences(c.Request.Context(), prefs); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) listNotifications(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := s.store.ListNotifications(c.Request.Context(), c.Param("recipient"), limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	if items == nil {
		items = []notify.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

type markReadDTO struct {
	IDs []string `json:"ids"`
}

func (s *Server) markRead(c *gin.Context) {
	var dto markReadDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(dto.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
		return
	}
	if err := s.store.MarkRead(c.Request.Context(), c.Param("recipient"), dto.IDs); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked read"})
}

func (s *Server) clearRead(c *gin.Context) {
	removed, err := s.store.ClearRead(c.Request.Context(), c.Param("recipient"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) pushOnboarding(c *gin.Context) {
	if s.ntfy == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "topic push is not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscribe_url": s.ntfy.SubscribeURL(),
		"web_url":       s.ntfy.WebURL(),
		"qr_code_url":   s.ntfy.QRCodeURL(),
	})
}

func (s *Server) writeStoreError(c *gin.Context, err error) {
	var verr *storage.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "reasons": verr.Reasons})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.log.Error("store operation failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
