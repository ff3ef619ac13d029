package voiceagent

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
)

// ProxyHandler exposes agents and conversations read-only.
type ProxyHandler struct {
	Client     *Client
	WriteError func(c *gin.Context, err error)
}

func (h ProxyHandler) Register(r gin.IRoutes) {
	r.GET("/agents", h.ListAgents)
	r.GET("/agents/:id", h.GetAgent)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id", h.GetConversation)
}

func (h ProxyHandler) ready(c *gin.Context) bool {
	if h.Client == nil {
		h.WriteError(c, apperr.MissingConfig("ElevenLabs configuration missing", "ELEVENLABS_API_KEY"))
		return false
	}
	return true
}

func (h ProxyHandler) ListAgents(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	out, err := h.Client.ListAgents(c.Request.Context())
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"agents":     out.Agents,
		"totalCount": len(out.Agents),
		"hasMore":    out.HasMore,
		"timestamp":  time.Now().UTC(),
	})
}

func (h ProxyHandler) GetAgent(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	agent, err := h.Client.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agent": agent, "timestamp": time.Now().UTC()})
}

func (h ProxyHandler) ListConversations(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	out, err := h.Client.ListConversations(c.Request.Context(), c.Query("agentId"), pageSize)
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"conversations": out.Conversations,
		"totalCount":    len(out.Conversations),
		"hasMore":       out.HasMore,
		"timestamp":     time.Now().UTC(),
	})
}

func (h ProxyHandler) GetConversation(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	conv, err := h.Client.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.WriteError(c, apperr.FromVendor(vendorName, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv, "timestamp": time.Now().UTC()})
}
