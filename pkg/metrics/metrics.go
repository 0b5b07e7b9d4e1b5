// Package metrics provides Prometheus instrumentation for the call pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// CallAdmissions counts admission decisions by result (admitted, rejected, error).
	CallAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_call_admissions_total",
			Help: "Inbound call admission decisions",
		},
		[]string{"result"},
	)

	// ToolInvocations counts tool invocations by tool and status (ok, error, rejected).
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_tool_invocations_total",
			Help: "Tool invocations from the conversational engine",
		},
		[]string{"tool", "status"},
	)

	// TimelineAppendFailures counts call events that could not be persisted.
	TimelineAppendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_timeline_append_failures_total",
			Help: "Call timeline events dropped because the append failed",
		},
		[]string{"type"},
	)

	// TokenRefreshes counts calendar access-token refreshes by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_calendar_token_refreshes_total",
			Help: "Calendar OAuth token refreshes",
		},
		[]string{"result"},
	)
)

func RecordAdmission(result string) { CallAdmissions.WithLabelValues(result).Inc() }

func RecordToolInvocation(tool, status string) { ToolInvocations.WithLabelValues(tool, status).Inc() }

func RecordTimelineFailure(eventType string) { TimelineAppendFailures.WithLabelValues(eventType).Inc() }

func RecordTokenRefresh(result string) { TokenRefreshes.WithLabelValues(result).Inc() }

// Middleware observes request latency labelled by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RequestDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
