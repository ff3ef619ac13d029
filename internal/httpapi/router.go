package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"auralis/internal/apperr"
	"auralis/internal/auth"
	"auralis/internal/rbac"
	"auralis/internal/telephony"
	"auralis/internal/voiceagent"
	"auralis/internal/webhook"
	"auralis/pkg/logger"
)

// RouterDeps is everything NewRouter wires.
type RouterDeps struct {
	Handlers  Handlers
	Webhooks  webhook.Handler
	Telephony telephony.ProxyHandler
	Agents    voiceagent.ProxyHandler
	// CallsRate limits POST /calls per client IP, e.g. "10-M". Empty
	// disables the limit.
	CallsRate string
	Log       *slog.Logger
}

// NewRouter builds the HTTP surface. Dashboard routes require a bearer
// token only when Handlers.Auth is set; webhooks, health and metrics never
// do.
func NewRouter(d RouterDeps) (*gin.Engine, error) {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	// public
	r.GET("/healthz", d.Handlers.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	d.Webhooks.Register(r)

	if d.Handlers.Auth != nil {
		r.POST("/auth/refresh", d.Handlers.RefreshToken)
	}

	read := []gin.HandlerFunc{}
	write := []gin.HandlerFunc{}
	if d.Handlers.Auth != nil {
		authMW := auth.RequireAccessToken(d.Handlers.Auth)
		read = append(read, authMW, rbac.RequireAnyRole(rbac.CanRead...))
		write = append(write, authMW, rbac.RequireAnyRole(rbac.CanPlaceCalls...))
	}

	dialLimit, err := callsRateLimit(d.CallsRate)
	if err != nil {
		return nil, err
	}

	reads := r.Group("/", read...)
	{
		reads.GET("/calls", d.Handlers.ListCalls)
		reads.GET("/calls/stats", d.Handlers.CallStats)
		reads.GET("/calls/:id", d.Handlers.GetCall)
		reads.GET("/calls/:id/messages", d.Handlers.CallMessages)
		reads.GET("/calls/:id/logs", d.Handlers.CallLogs)
		reads.GET("/calls/:id/watch", d.Handlers.WatchCall)

		d.Telephony.WriteError = WriteError
		d.Telephony.Register(reads)
		d.Agents.WriteError = WriteError
		d.Agents.Register(reads)
	}

	writes := r.Group("/", write...)
	{
		initiate := []gin.HandlerFunc{}
		if dialLimit != nil {
			initiate = append(initiate, dialLimit)
		}
		initiate = append(initiate, d.Handlers.InitiateCall)
		writes.POST("/calls", initiate...)
		writes.POST("/calls/sync", d.Handlers.SyncCalls)
		writes.POST("/calls/:id/end", d.Handlers.EndCall)
	}

	r.NoRoute(func(c *gin.Context) {
		WriteError(c, apperr.NotFound("route not found"))
	})
	return r, nil
}

func callsRateLimit(formatted string) (gin.HandlerFunc, error) {
	if formatted == "" {
		return nil, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	lim := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(lim, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		e := apperr.RateLimited("too many call requests")
		e.Details = "limit " + formatted
		c.AbortWithStatusJSON(http.StatusTooManyRequests, e.Body())
	})), nil
}
