package voiceagent

import (
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhook_Aliases(t *testing.T) {
	w, err := ParseWebhook([]byte(`{"call_id":"conv_1","call_status":"in_progress","duration":"42","error_code":503}`))
	require.NoError(t, err)
	assert.Equal(t, "conv_1", w.CallID)
	assert.Equal(t, "in_progress", w.Status)
	assert.Equal(t, 42, w.DurationSec)
	assert.Equal(t, "503", w.ErrorCode)

	w, err = ParseWebhook([]byte(`{"conversation_id":"conv_2","status":"done","duration":17.9}`))
	require.NoError(t, err)
	assert.Equal(t, "conv_2", w.CallID)
	assert.Equal(t, 17, w.DurationSec)
}

func TestParseWebhook_ConversationEvent(t *testing.T) {
	w, err := ParseWebhook([]byte(`{"callId":"conv_3","event_type":"agent_response","message":"Hello","role":"agent","timestamp":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "agent_response", w.EventType)
	assert.Equal(t, "Hello", w.Message)
	require.NotNil(t, w.Timestamp)
	assert.True(t, w.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	w, err = ParseWebhook([]byte(`{"callId":"conv_3","timestamp":1772366400}`))
	require.NoError(t, err)
	require.NotNil(t, w.Timestamp)
	assert.Equal(t, int64(1772366400), w.Timestamp.Unix())
}

func TestParseWebhook_Rejects(t *testing.T) {
	_, err := ParseWebhook(nil)
	assert.ErrorIs(t, err, ErrEmptyWebhook)

	_, err = ParseWebhook([]byte(`{not json`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"call_id":"c"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := "t=" + ts + ",v0=" + hex.EncodeToString(Sign("secret", ts, body))

	assert.NoError(t, VerifySignature("secret", header, body, now))
	assert.ErrorIs(t, VerifySignature("other", header, body, now), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("secret", header, []byte(`{}`), now), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("secret", header, body, now.Add(time.Hour)), ErrStaleSignature)
	assert.ErrorIs(t, VerifySignature("secret", "", body, now), ErrMissingSignature)
	assert.ErrorIs(t, VerifySignature("secret", "t="+ts, body, now), ErrMissingSignature)
}
