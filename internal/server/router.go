package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/metrics"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/prompts"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/visits"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	adminCredentialHeader = "X-Admin-Password"
	defaultHeartbeat      = 25 * time.Second
	maxRequestBodyBytes   = 16 << 20
)

var (
	errMissingPromptService = errors.New("prompt service dependency required")
	errMissingVisitCounter  = errors.New("visit counter dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
)

type Dependencies struct {
	Prompts   *prompts.Service
	Visits    *visits.Counter
	Realtime  *RealtimeDispatcher
	Metrics   *metrics.Metrics
	Heartbeat time.Duration
	// BlobDirectory is served under BlobServePath when both are set.
	BlobDirectory string
	BlobServePath string
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Prompts == nil {
		return nil, errMissingPromptService
	}
	if deps.Visits == nil {
		return nil, errMissingVisitCounter
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware())

	handler := &httpHandler{
		prompts:   deps.Prompts,
		visits:    deps.Visits,
		realtime:  deps.Realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	api := router.Group("/api")
	api.Use(limitRequestBody(maxRequestBodyBytes))
	api.POST("/auth", handler.handleAuth)
	api.GET("/prompts", handler.handleListPrompts)
	api.POST("/prompts", handler.handleUpsertPrompt)
	api.DELETE("/prompts", handler.handleDeletePrompt)
	api.POST("/like", handler.handleLike)
	api.GET("/visit", handler.handleVisit)
	api.GET("/events", handler.handleEvents)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.BlobDirectory != "" && deps.BlobServePath != "" {
		router.Static(deps.BlobServePath, deps.BlobDirectory)
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", adminCredentialHeader},
		ExposeHeaders: []string{"Cache-Control"},
		MaxAge:        12 * time.Hour,
	})
}

func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/api/events" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

type httpHandler struct {
	prompts   *prompts.Service
	visits    *visits.Counter
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type authRequestPayload struct {
	Password string `json:"password"`
}

func (h *httpHandler) handleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.prompts.IsAdmin(request.Password) {
		h.logger.Info("admin authentication rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListPrompts(c *gin.Context) {
	items, err := h.prompts.List(c.Request.Context(), c.GetHeader(adminCredentialHeader))
	if err != nil {
		h.writeServiceError(c, err, "list_failed")
		return
	}
	c.JSON(http.StatusOK, items)
}

// upsertRequestPayload embeds the stored shape so unknown fields are dropped
// and the credential is kept out of the record.
type upsertRequestPayload struct {
	prompts.Prompt
	AuthPassword string `json:"authPassword"`
}

// UnmarshalJSON keeps the promoted Prompt decoder from swallowing the
// credential field.
func (p *upsertRequestPayload) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &p.Prompt); err != nil {
		return err
	}
	var credential struct {
		AuthPassword string `json:"authPassword"`
	}
	if err := json.Unmarshal(data, &credential); err != nil {
		return err
	}
	p.AuthPassword = credential.AuthPassword
	return nil
}

func (h *httpHandler) handleUpsertPrompt(c *gin.Context) {
	var request upsertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	persisted, err := h.prompts.Upsert(c.Request.Context(), prompts.UpsertRequest{
		Prompt:     request.Prompt,
		Credential: request.AuthPassword,
	})
	if err != nil {
		h.writeServiceError(c, err, "save_failed")
		return
	}
	c.JSON(http.StatusOK, persisted)
}

type deleteRequestPayload struct {
	ID           string `json:"id"`
	AuthPassword string `json:"authPassword"`
}

func (h *httpHandler) handleDeletePrompt(c *gin.Context) {
	var request deleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	deletedID, err := h.prompts.Delete(c.Request.Context(), request.ID, request.AuthPassword)
	if err != nil {
		h.writeServiceError(c, err, "delete_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": deletedID})
}

type likeRequestPayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleLike(c *gin.Context) {
	var request likeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	likes, err := h.prompts.Like(c.Request.Context(), request.ID)
	if err != nil {
		h.writeServiceError(c, err, "like_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes": likes})
}

func (h *httpHandler) handleVisit(c *gin.Context) {
	c.Header("Cache-Control", "no-store, max-age=0")
	count, err := h.visits.Visit(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "visit_failed", "count": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type promptChangeEventPayload struct {
	Change    prompts.ChangeKind `json:"change"`
	PromptIDs []string           `json:"promptIds"`
	Timestamp string             `json:"timestamp"`
	Source    string             `json:"source"`
}

type heartbeatEventPayload struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	audience := AudiencePublic
	if h.prompts.IsAdmin(c.GetHeader(adminCredentialHeader)) {
		audience = AudienceAdmin
	}

	requestCtx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(requestCtx, audience)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-requestCtx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, promptChangeEventPayload{
				Change:    message.Change,
				PromptIDs: message.PromptIDs,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatEventPayload{
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}

// writeServiceError maps service sentinels onto HTTP statuses. Failures
// without a client-facing meaning become 500 responses carrying the service
// error code.
func (h *httpHandler) writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, prompts.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	case errors.Is(err, prompts.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": badRequestReason(err)})
		return
	case errors.Is(err, prompts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	response := gin.H{"error": fallback}
	var serviceErr *prompts.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code() != "" {
		response["code"] = serviceErr.Code()
	}
	h.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, response)
}

func badRequestReason(err error) string {
	var serviceErr *prompts.ServiceError
	if !errors.As(err, &serviceErr) {
		return "invalid_request"
	}
	code := serviceErr.Code()
	if index := strings.LastIndex(code, "."); index >= 0 {
		return code[index+1:]
	}
	return "invalid_request"
}
