package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/middlewares"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/session"
	"bitbucket.org/mmdatafocus/pos_sync/syncengine"
	"bitbucket.org/mmdatafocus/pos_sync/syncworker"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type workerService interface {
	Status() syncworker.Status
	RunOnce(ctx context.Context) error
}

type engineService interface {
	PushOutbox(ctx context.Context) (int, error)
	PullChanges(ctx context.Context) (int, error)
	Bootstrap(ctx context.Context) error
	PendingCount(ctx context.Context) (int64, error)
	RecordMutation(ctx context.Context, entityType, entityID string, op models.OutboxOperation, payload json.RawMessage) (*models.OutboxEntry, error)
}

type sessionService interface {
	middlewares.Authenticator
	Login(ctx context.Context, email, password string) (*session.Session, error)
	Logout(ctx context.Context) error
	Current(ctx context.Context) (*session.Session, error)
}

var (
	_ workerService  = (*syncworker.Worker)(nil)
	_ engineService  = (*syncengine.Engine)(nil)
	_ sessionService = (*session.Orchestrator)(nil)
)

type api struct {
	worker   workerService
	engine   engineService
	sessions sessionService
	logger   *logrus.Logger
}

func newRouter(a api, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.AuthMiddleware(a.sessions))
	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	sess := r.Group("/api/session")
	sess.POST("/login", a.login)
	sess.POST("/logout", middlewares.RequireSession(), a.logout)
	sess.GET("/current", middlewares.RequireSession(), a.current)

	sync := r.Group("/api/sync", middlewares.RequireSession())
	sync.GET("/status", a.status)
	sync.POST("/run", a.runOnce)
	sync.POST("/push", a.pushOnly)
	sync.POST("/pull", a.pullOnly)
	sync.POST("/bootstrap", a.bootstrap)
	sync.POST("/mutations", a.recordMutation)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	allowed := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if allowed == "" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = splitAndTrim(allowed)
		cfg.AllowCredentials = true
	}
	cfg.AddAllowHeaders("token", "Authorization", "X-Correlation-Id")
	cfg.AddExposeHeaders("X-Correlation-Id")
	return cfg
}

type loginRequest struct {
	Email               string `json:"email"`
	Password            string `json:"password"`
	ConfirmTenantSwitch bool   `json:"confirm_tenant_switch"`
}

func (a api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()
	if req.ConfirmTenantSwitch {
		ctx = session.WithTenantSwitchConfirmed(ctx)
	}
	s, err := a.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a api) logout(c *gin.Context) {
	if err := a.sessions.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a api) current(c *gin.Context) {
	s, err := a.sessions.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a api) status(c *gin.Context) {
	pending, err := a.engine.PendingCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	st := a.worker.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":           st.State,
		"last_error":      st.LastError,
		"backoff_seconds": st.Backoff.Seconds(),
		"pending":         pending,
	})
}

func (a api) runOnce(c *gin.Context) {
	if err := a.worker.RunOnce(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.worker.Status())
}

func (a api) pushOnly(c *gin.Context) {
	n, err := a.engine.PushOutbox(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushed": n})
}

func (a api) pullOnly(c *gin.Context) {
	n, err := a.engine.PullChanges(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": n})
}

func (a api) bootstrap(c *gin.Context) {
	if err := a.engine.Bootstrap(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type mutationRequest struct {
	EntityType string          `json:"entity_type" binding:"required"`
	EntityId   string          `json:"entity_id" binding:"required"`
	Operation  string          `json:"operation" binding:"required"`
	Payload    json.RawMessage `json:"payload"`
}

func (a api) recordMutation(c *gin.Context) {
	var req mutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	entry, err := a.engine.RecordMutation(c.Request.Context(), req.EntityType, req.EntityId, models.OutboxOperation(req.Operation), req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.Is(err, syncworker.ErrCycleInFlight), errors.Is(err, syncworker.ErrLockHeld):
		status = http.StatusConflict
	default:
		switch apperr.Classify(err) {
		case apperr.KindAuthentication:
			status = http.StatusUnauthorized
		case apperr.KindAuthorization:
			status = http.StatusForbidden
		case apperr.KindConsistencyGuard:
			status = http.StatusConflict
		case apperr.KindConnectivity:
			status = http.StatusServiceUnavailable
		case apperr.KindApplication:
			if apperr.KindOf(err) == apperr.KindApplication {
				status = http.StatusBadRequest
			}
		}
	}
	body := gin.H{"error": err.Error()}
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			fields := logrus.Fields{
				"module": "http",
				"path":   c.Request.URL.Path,
			}
			if id, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
				fields["correlation_id"] = id
			}
			if email, ok := utils.GetEmailFromContext(c.Request.Context()); ok {
				fields["email"] = email
			}
			logger.WithFields(fields).Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
