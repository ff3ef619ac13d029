package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
	"auralis/internal/auth"
	"auralis/internal/calllog"
	"auralis/internal/calls"
	"auralis/internal/poller"
	"auralis/internal/reporting"
	"auralis/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call internal services, return JSON.
type Handlers struct {
	Calls   *calls.Service
	Logs    *calllog.Service
	Reports *reporting.Service
	Auth    *auth.Manager
	Poll    poller.Config
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  h.Calls.Records().Configured(),
		"time":   time.Now().UTC(),
	})
}

// --- Calls ---

type initiateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type initiateResponse struct {
	Success          bool         `json:"success"`
	CallID           string       `json:"callId"`
	ElevenLabsCallID string       `json:"elevenlabsCallId,omitempty"`
	TwilioCallSid    string       `json:"twilioCallSid,omitempty"`
	Status           calls.Status `json:"status"`
	Message          string       `json:"message"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, apperr.Validation("invalid json", "body must be {\"phoneNumber\": \"+E164\"}"))
		return
	}
	rec, err := h.Calls.Initiate(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, initiateResponse{
		Success:          true,
		CallID:           rec.CallID,
		ElevenLabsCallID: rec.ElevenLabsCallID,
		TwilioCallSid:    rec.TwilioCallSid,
		Status:           rec.Status,
		Message:          "call initiated",
	})
}

func (h Handlers) ListCalls(c *gin.Context) {
	recs, err := h.Calls.List(c.Request.Context(), queryInt(c, "limit", calls.DefaultListLimit), queryInt(c, "days", 0))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs, "count": len(recs)})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type endRequest struct {
	// Reason is user_ended (default) or timeout. A timeout ends the call
	// as failed.
	Reason string `json:"reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(c, apperr.Validation("invalid json", "body must be empty or {\"reason\": \"user_ended|timeout\"}"))
		return
	}
	status, reason := calls.StatusCompleted, calls.EndReasonUser
	switch req.Reason {
	case "", calls.EndReasonUser:
	case calls.EndReasonTimeout:
		status, reason = calls.StatusFailed, calls.EndReasonTimeout
	default:
		WriteError(c, apperr.Validation("invalid end reason", req.Reason))
		return
	}
	rec, err := h.Calls.MarkEnded(c.Request.Context(), c.Param("id"), status, reason)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": rec})
}

func (h Handlers) CallMessages(c *gin.Context) {
	msgs, err := h.Calls.Messages(c.Request.Context(), c.Param("id"), queryInt(c, "limit", calls.DefaultMessageLimit))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h Handlers) CallLogs(c *gin.Context) {
	evs, err := h.Logs.List(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 100))
	if err != nil {
		WriteError(c, apperr.Storage("failed to list call logs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": evs, "count": len(evs)})
}

func (h Handlers) CallStats(c *gin.Context) {
	if h.Reports == nil {
		WriteError(c, apperr.Internal("reporting not configured", nil))
		return
	}
	stats, err := h.Reports.CallStats(c.Request.Context(), reporting.CallStatsRequest{SinceDays: queryInt(c, "days", 0)})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			WriteError(c, apperr.Validation("invalid stats request", err.Error()))
			return
		}
		WriteError(c, apperr.Storage("failed to compute call stats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

type syncRequest struct {
	Limit     int    `json:"limit"`
	DaysBack  int    `json:"daysBack"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

func (h Handlers) SyncCalls(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(c, apperr.Validation("invalid json", err.Error()))
		return
	}
	res, err := h.Calls.Sync(c.Request.Context(), calls.SyncFilter{
		Limit:     req.Limit,
		DaysBack:  req.DaysBack,
		Status:    req.Status,
		Direction: req.Direction,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken exchanges a refresh token for a new pair. Tokens are
// issued out of band (auralisctl token).
func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		WriteError(c, apperr.MissingConfig("auth not configured", "AUTH_JWT_SECRET"))
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		WriteError(c, apperr.Validation("invalid json", "refreshToken required"))
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		logger.FromGin(c).Info("token refresh rejected", "error", err)
		WriteError(c, apperr.Unauthorized("invalid refresh token"))
		return
	}
	c.JSON(http.StatusOK, pair)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
