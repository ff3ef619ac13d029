package telephony

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
	"auralis/internal/calls"
)

// History is the read surface the proxy handlers need.
type History interface {
	RecentCalls(ctx context.Context, f calls.SyncFilter) ([]calls.TelephonyCall, error)
	FetchCall(ctx context.Context, sid string) (calls.TelephonyCall, error)
	ListRecordings(ctx context.Context, callSid string, limit int) ([]Recording, error)
}

// ProxyHandler exposes Twilio call history read-only. Errors are written by
// the injected WriteError so every route shares one envelope.
type ProxyHandler struct {
	History History
	// Missing lists unset credentials; when non-empty every route fails
	// with a configuration error.
	Missing    []string
	WriteError func(c *gin.Context, err error)
}

func (h ProxyHandler) Register(r gin.IRoutes) {
	r.GET("/telephony/calls", h.ListCalls)
	r.GET("/telephony/calls/:sid", h.GetCall)
	r.GET("/telephony/recordings", h.ListRecordings)
}

func (h ProxyHandler) ready(c *gin.Context) bool {
	if len(h.Missing) > 0 || h.History == nil {
		missing := h.Missing
		if len(missing) == 0 {
			missing = []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN"}
		}
		h.WriteError(c, apperr.MissingConfig("telephony configuration missing", missing...))
		return false
	}
	return true
}

func (h ProxyHandler) ListCalls(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	f := calls.SyncFilter{
		Limit:     queryInt(c, "limit", 20),
		DaysBack:  queryInt(c, "daysBack", 7),
		Status:    c.Query("status"),
		Direction: c.Query("direction"),
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	out, err := h.History.RecentCalls(c.Request.Context(), f)
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

func (h ProxyHandler) GetCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	out, err := h.History.FetchCall(c.Request.Context(), c.Param("sid"))
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h ProxyHandler) ListRecordings(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	out, err := h.History.ListRecordings(c.Request.Context(), c.Query("callSid"), queryInt(c, "limit", 20))
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out, "count": len(out)})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
