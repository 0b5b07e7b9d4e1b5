package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/bridge"
	"voice-receptionist/pkg/logger"
)

// StatusReporter finalizes calls from stream lifecycle callbacks.
type StatusReporter interface {
	ReportStatus(ctx context.Context, st bridge.Status) (bridge.Ack, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types, delegates
// to the router / bridge, and writes the carrier response.
//
// The voice webhook faces a live caller: every failure renders the fallback
// TwiML with HTTP 200.
type TwilioWebhookHandler struct {
	Router Router
	Status StatusReporter

	Now func() time.Time
}

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}

	res := Fallback("router not configured")
	form, err := ParseTwilioInboundCall(c.Request)
	switch {
	case err != nil:
		log.Warn("twilio webhook parse failed", "err", err)
		res = Fallback("invalid form")
	case h.Router != nil:
		ctx := logger.With(c.Request.Context(), log)
		var rerr error
		res, rerr = h.Router.RouteInboundCall(ctx, form.ToInboundCallRequest(h.Now()))
		if rerr != nil {
			log.Info("inbound call fallback", "call_sid", form.CallSid, "to", form.To, "reason", res.Reason, "err", rerr)
		}
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "call_sid", form.CallSid, "err", err)
		twiml = fallbackTwiML
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) HandleStreamStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Status == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "status reporter not configured"})
		return
	}

	form, err := ParseStreamStatus(c.Request)
	if err != nil {
		log.Warn("stream status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid form"})
		return
	}

	ctx := logger.With(c.Request.Context(), log)
	ack, err := h.Status.ReportStatus(ctx, bridge.Status{
		CallSid:      form.CallSid,
		StreamSid:    form.StreamSid,
		Event:        form.StreamEvent,
		Error:        form.StreamError,
		CallDuration: form.CallDuration,
	})
	if err != nil {
		kind := apperr.KindOf(err)
		log.Error("stream status failed", "call_sid", form.CallSid, "kind", kind, "err", err)
		c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"ok": false, "error": apperr.MessageOf(err)})
		return
	}
	c.JSON(http.StatusOK, ack)
}
