package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/ledger"
)

// DeviceRegistry records enrolled scanner devices.
type DeviceRegistry interface {
	UpsertDevice(ctx context.Context, deviceID string) error
}

// AuthConfig carries the JWT and enrollment settings.
type AuthConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	// EnrollKey gates device registration; empty disables it.
	EnrollKey string
}

type Handler struct {
	svc     *attendance.Service
	devices DeviceRegistry
	auth    AuthConfig
	log     *zap.Logger
	health  map[string]func(context.Context) bool
}

func New(svc *attendance.Service, devices DeviceRegistry, authCfg AuthConfig, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:     svc,
		devices: devices,
		auth:    authCfg,
		log:     log,
		health:  make(map[string]func(context.Context) bool),
	}
}

// AddHealthCheck registers a named dependency probe for /healthz.
func (h *Handler) AddHealthCheck(name string, probe func(context.Context) bool) {
	h.health[name] = probe
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, probe := range h.health {
		ok := probe(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Scans ----------

type scanRequest struct {
	Token   string `json:"token" binding:"required"`
	EventID string `json:"event_id" binding:"required"`
	Session string `json:"session" binding:"required"`
}

// Scan admits a QR scan into an event session.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Admit(c.Request.Context(), attendance.ScanRequest{
		Token:   req.Token,
		EventID: req.EventID,
		Session: req.Session,
	})
	h.writeResult(c, res, err)
}

// ---------- Manual attendance ----------

type manualRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	EventID   string `json:"event_id" binding:"required"`
	Session   string `json:"session" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

// RecordManual applies an administrator's sign-in or sign-out.
func (h *Handler) RecordManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Record(c.Request.Context(), attendance.ManualEntry{
		StudentID: req.StudentID,
		EventID:   req.EventID,
		Session:   req.Session,
		Action:    req.Action,
	})
	h.writeResult(c, res, err)
}

func (h *Handler) writeResult(c *gin.Context, res attendance.Result, err error) {
	if err != nil {
		if attendance.IsInvalidInput(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusFor(res), res)
}

func statusFor(res attendance.Result) int {
	switch res.Outcome {
	case attendance.OutcomeCreated:
		return http.StatusCreated
	case attendance.OutcomeUpdated:
		return http.StatusOK
	}
	switch res.Reason {
	case attendance.ReasonInvalidToken:
		return http.StatusBadRequest
	case attendance.ReasonStudentNotFound, attendance.ReasonOrganizationNotFound, attendance.ReasonEventNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// ---------- Tokens ----------

// IssueToken re-issues the QR token of a student.
func (h *Handler) IssueToken(c *gin.Context) {
	externalID := c.Param("external_id")
	token, err := h.svc.IssueToken(c.Request.Context(), externalID)
	if errors.Is(err, attendance.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student_external_id": externalID, "token": token})
}

// ---------- Records ----------

// ListRecords pages through an event's attendance records.
func (h *Handler) ListRecords(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	records, err := h.svc.ListRecords(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "limit": limit, "offset": offset})
}

// ---------- Devices ----------

type registerRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	EnrollKey string `json:"enroll_key" binding:"required"`
}

// RegisterDevice enrolls a scanner and returns its access token.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.auth.EnrollKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.EnrollKey), []byte(h.auth.EnrollKey)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "enrollment refused"})
		return
	}
	if h.devices != nil {
		if err := h.devices.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
			return
		}
	}

	tok, err := auth.Issue(req.DeviceID, auth.RoleScanner, h.auth.Issuer, h.auth.SigningKey, h.auth.AccessTTL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	h.log.Info("device enrolled", zap.String("device_id", req.DeviceID))
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.Token,
		"expires_at":   tok.ExpiresAt.Unix(),
	})
}
