package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"auralis/internal/calls"
	"auralis/internal/metrics"
	"auralis/internal/telephony"
	"auralis/internal/voiceagent"
	"auralis/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler serves the vendor callback routes. Every request is answered with
// 200 "OK" so vendors never retry; problems are logged and counted.
type Handler struct {
	Ingestor *Ingestor
	// TwilioSignature, when set, rejects unsigned telephony callbacks.
	TwilioSignature *telephony.SignatureValidator
	// VoiceAgentSecret, when set, rejects voice-agent callbacks without a
	// valid HMAC signature.
	VoiceAgentSecret string
	Now              func() time.Time
}

func (h Handler) Register(r gin.IRoutes) {
	r.POST("/webhooks/telephony", h.Telephony)
	r.POST("/webhooks/voice-agent", h.VoiceAgent)
}

func (h Handler) Telephony(c *gin.Context) {
	log := logger.FromGin(c)
	raw := c.DefaultQuery("type", "status")
	typ := knownType(raw, "status", "recording")
	outcome := OutcomeIgnored
	defer func() { ack(c, "twilio", typ, outcome) }()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	form, err := telephony.ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("telephony webhook parse failed", "error", err)
		outcome = OutcomeFailed
		return
	}
	if h.TwilioSignature != nil && !h.TwilioSignature.Valid(c.Request, form.Params) {
		log.Warn("telephony webhook signature rejected", "call_sid", form.CallSid)
		outcome = "rejected"
		return
	}

	ev := Event{
		Vendor:       calls.VendorTwilio,
		VendorCallID: form.CallSid,
		ErrorCode:    form.ErrorCode,
		ErrorMessage: form.ErrorMessage,
		OccurredAt:   form.Timestamp,
	}
	if form.RecordingSid != "" || form.RecordingURL != "" {
		ev.Recording = &calls.Recording{
			RecordingSid: form.RecordingSid,
			RecordingURL: form.RecordingURL,
			Status:       form.RecordingStatus,
			DurationSec:  form.RecordingDuration,
		}
	}

	switch typ {
	case "status":
		ev.Kind = KindStatus
		ev.RawStatus = form.CallStatus
		ev.DurationSec = form.CallDuration
	case "recording":
		ev.Kind = KindRecording
	default:
		log.Warn("unknown telephony webhook type", "type", raw)
		return
	}
	outcome = h.Ingestor.Apply(c.Request.Context(), ev)
}

func (h Handler) VoiceAgent(c *gin.Context) {
	log := logger.FromGin(c)
	raw := c.DefaultQuery("type", "call-status")
	typ := knownType(raw, "call-status", "conversation-events")
	outcome := OutcomeIgnored
	defer func() { ack(c, "elevenlabs", typ, outcome) }()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("voice agent webhook read failed", "error", err)
		outcome = OutcomeFailed
		return
	}
	if h.VoiceAgentSecret != "" {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		if err := voiceagent.VerifySignature(h.VoiceAgentSecret, c.GetHeader("ElevenLabs-Signature"), body, now()); err != nil {
			log.Warn("voice agent webhook signature rejected", "error", err)
			outcome = "rejected"
			return
		}
	}

	w, err := voiceagent.ParseWebhook(body)
	if err != nil {
		log.Warn("voice agent webhook parse failed", "error", err)
		outcome = OutcomeFailed
		return
	}

	ev := Event{Vendor: calls.VendorVoiceAgent, VendorCallID: w.CallID}
	switch typ {
	case "call-status":
		ev.Kind = KindStatus
		ev.RawStatus = w.Status
		ev.DurationSec = w.DurationSec
		ev.EndReason = w.EndReason
		ev.ErrorCode = w.ErrorCode
		ev.ErrorMessage = w.ErrorMessage
	case "conversation-events":
		ev.Kind = KindConversation
		ev.Message = &Message{
			EventType: w.EventType,
			Role:      w.Role,
			Content:   w.Message,
			Timestamp: w.Timestamp,
			Source:    w.Source,
		}
	default:
		log.Warn("unknown voice agent webhook type", "type", raw)
		return
	}
	outcome = h.Ingestor.Apply(c.Request.Context(), ev)
}

// knownType bounds the type label: anything outside known becomes
// "unknown".
func knownType(raw string, known ...string) string {
	for _, k := range known {
		if raw == k {
			return k
		}
	}
	return "unknown"
}

func ack(c *gin.Context, vendor, typ string, outcome Outcome) {
	metrics.WebhooksReceived.WithLabelValues(vendor, typ, string(outcome)).Inc()
	c.String(http.StatusOK, "OK")
}
