package voiceagent

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auralis/internal/apperr"
)

func writeEnvelope(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}
	c.AbortWithStatusJSON(e.Status, e.Body())
}

func serveProxy(h ProxyHandler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	h.WriteError = writeEnvelope
	r := gin.New()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestProxy_NotConfigured(t *testing.T) {
	w := serveProxy(ProxyHandler{}, "/agents")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "ELEVENLABS_API_KEY")
}

func TestProxy_ListAgents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agents":[{"agent_id":"ag_1","name":"Sales"}],"has_more":false}`))
	})

	w := serveProxy(ProxyHandler{Client: c}, "/agents")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"agent_id":"ag_1"`)
	assert.Contains(t, w.Body.String(), `"totalCount":1`)
}

func TestProxy_VendorNotFoundPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":{"status":"conversation_not_found","message":"Conversation not found"}}`))
	})

	w := serveProxy(ProxyHandler{Client: c}, "/conversations/conv_x")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Conversation not found")
	assert.Contains(t, w.Body.String(), `"vendor":"elevenlabs"`)
}
