package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/httpapi"
	"voice-receptionist/internal/rbac"
	"voice-receptionist/internal/telephony"
	"voice-receptionist/pkg/utils"
)

// bridgeService serves both the carrier status callbacks and the bridge's
// application events.
type bridgeService interface {
	httpapi.EventReporter
	telephony.StatusReporter
}

type routeDeps struct {
	Auth        *auth.Manager
	Router      telephony.Router
	Bridge      bridgeService
	Gateway     httpapi.ToolInvoker
	Provisioner httpapi.SessionProvisioner
	Calendar    httpapi.CalendarOAuth
	Calls       httpapi.CallLookup
	Timeline    httpapi.EventLister

	TwilioToken  string
	PublicBase   string
	BridgeKey    string
	CalendarPage string

	// Ready reports dependency health for /readyz.
	Ready func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := d.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Carrier webhooks.
	twilio := telephony.TwilioWebhookHandler{Router: d.Router, Status: d.Bridge}
	webhooks := r.Group("/webhooks/twilio", telephony.RequireTwilioSignature(d.TwilioToken, d.PublicBase))
	{
		webhooks.POST("/voice", twilio.HandleInboundCall)
		webhooks.POST("/stream-status", twilio.HandleStreamStatus)
	}

	h := httpapi.Handlers{
		Sessions:          d.Provisioner,
		Bridge:            d.Bridge,
		Tools:             d.Gateway,
		Calendar:          d.Calendar,
		Calls:             d.Calls,
		Timeline:          d.Timeline,
		CalendarStatusURL: d.CalendarPage,
	}

	// Media bridge and conversational engine.
	machine := r.Group("/", httpapi.RequireBridgeKey(d.BridgeKey))
	{
		machine.POST("/realtime/session", h.CreateRealtimeSession)
		machine.POST("/bridge/events", h.ReportStreamEvent)
		machine.POST("/tools/invoke", h.InvokeTool)
	}

	// The provider redirects here; the state parameter carries the tenant.
	r.GET("/calendar/oauth/callback", h.CalendarOAuthCallback)

	v1 := r.Group("/v1", auth.RequireAccessToken(d.Auth), rbac.RequireTenant())
	{
		v1.GET("/calendar/oauth/start", rbac.RequireAnyRole(rbac.RoleOwner), h.StartCalendarOAuth)
		v1.GET("/calls/:call_sid/events", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleStaff), h.ListCallEvents)
	}
}

func readiness(db *sql.DB, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		if rdb != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
		}
		return nil
	}
}
