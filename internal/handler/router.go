package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
)

// RouterOptions carries the pieces the router mounts but does not own.
type RouterOptions struct {
	Limiter      *httpmiddleware.RateLimiter
	Metrics      http.Handler
	AllowOrigins []string
}

// Router wires middleware and routes.
func (h *Handler) Router(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(h.log))
	r.Use(httpmiddleware.SecurityHeaders())

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := r.Group("/v1")
	if opts.Limiter != nil {
		v1.Use(opts.Limiter.GinMiddleware())
	}
	v1.POST("/devices/register", h.RegisterDevice)

	authed := v1.Group("", auth.Bearer(h.auth.SigningKey, h.auth.Issuer))
	authed.POST("/scans", auth.RequireRole(auth.RoleScanner, auth.RoleAdmin), h.Scan)

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/admin/attendance", h.RecordManual)
	admin.POST("/admin/students/:external_id/token", h.IssueToken)
	admin.GET("/events/:id/records", h.ListRecords)

	return r
}
