package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/murmur"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MaxUploadBytes bounds the size of gated content accepted by SendGated.
const MaxUploadBytes = 10 << 20

// MaxPendingUploads bounds the failed gated sends kept for RetryGated.
const MaxPendingUploads = 64

type pendingSend struct {
	conversationID string
	upload         *service.PendingUpload
}

// Handlers contains the HTTP handlers of the messaging API
type Handlers struct {
	client murmur.Client
	log    logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]pendingSend
}

// NewHandlers creates new handlers
func NewHandlers(client murmur.Client, log logrus.FieldLogger) *Handlers {
	return &Handlers{client: client, log: log, pending: make(map[string]pendingSend)}
}

// statusFor maps an error to a status code and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotConnected):
		return http.StatusServiceUnavailable, "No session"
	case errors.Is(err, core.ErrStaleSession):
		return http.StatusConflict, "Session changed"
	case errors.Is(err, core.ErrConversationNotFound):
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound, "Content not found"
	case errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrInvalidCondition),
		errors.Is(err, core.ErrInvalidRecord):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrConditionNotMet):
		return http.StatusForbidden, "Access condition not met"
	case errors.Is(err, core.ErrAuthorizationRejected),
		errors.Is(err, core.ErrSignatureRejected):
		return http.StatusForbidden, "Signature rejected"
	case errors.Is(err, core.ErrGatingDisabled):
		return http.StatusNotImplemented, "Content gating is not configured"
	case errors.Is(err, core.ErrUploadFailed), errors.Is(err, core.ErrNetwork):
		return http.StatusBadGateway, "Upstream failure"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Session returns the session status
func (h *Handlers) Session(c *gin.Context) {
	state, err := h.client.SyncState()
	resp := gin.H{
		"session":    h.client.Status(),
		"sync_state": state,
		"loading":    h.client.Loading(),
	}
	if err != nil {
		resp["sync_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Conversations lists the conversations of the session
func (h *Handlers) Conversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversations": h.client.Conversations(),
		"loading":       h.client.Loading(),
	})
}

// StartConversation opens a conversation with a peer
func (h *Handlers) StartConversation(c *gin.Context) {
	var req struct {
		Peer string `json:"peer" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	convo, err := h.client.StartConversation(c.Request.Context(), req.Peer)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, convo)
}

// Messages returns the messages of a conversation. With any of limit,
// before or after set, a page of history is fetched from the network first.
func (h *Handlers) Messages(c *gin.Context) {
	id := c.Param("id")

	window, paged, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if paged {
		page, err := h.client.LoadHistory(c.Request.Context(), id, window)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": page})
		return
	}

	msgs, err := h.client.Messages(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func parseWindow(c *gin.Context) (core.Window, bool, error) {
	var w core.Window
	paged := false
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return w, false, fmt.Errorf("invalid limit %q", v)
		}
		w.Limit = n
		paged = true
	}
	for name, dst := range map[string]*time.Time{"before": &w.Before, "after": &w.After} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return w, false, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = t
		paged = true
	}
	return w, paged, nil
}

// SendText sends a text message
func (h *Handlers) SendText(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.client.SendText(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// SendGated encrypts an uploaded file under an ownership condition and
// sends its locator. The multipart form carries the file and the
// condition fields.
func (h *Handlers) SendGated(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A file is required"})
		return
	}
	if fh.Size > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
		return
	}

	cond, err := core.NewOwnershipCondition(c.PostForm("contract"), c.PostForm("chain"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if v := c.PostForm("standard"); v != "" {
		cond.StandardContractType = v
	}
	if v := c.PostForm("comparator"); v != "" {
		cond.ReturnValueTest.Comparator = v
	}
	if v := c.PostForm("value"); v != "" {
		value, err := decimal.NewFromString(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid condition value"})
			return
		}
		cond.ReturnValueTest.Value = value
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	isPublic, _ := strconv.ParseBool(c.PostForm("is_public"))

	msg, err := h.client.SendGated(c.Request.Context(), c.Param("id"), murmur.PublishRequest{
		Data:        data,
		ContentType: contentType,
		Title:       c.DefaultPostForm("title", fh.Filename),
		Description: c.PostForm("description"),
		IsPublic:    isPublic,
		Condition:   cond,
	})
	if err != nil {
		h.failGated(c, c.Param("id"), "", err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// RetryGated resumes a gated send that failed at upload or delivery. The
// retry id is returned by the failed SendGated call.
func (h *Handlers) RetryGated(c *gin.Context) {
	var req struct {
		RetryID string `json:"retry_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.mu.Lock()
	p, ok := h.pending[req.RetryID]
	h.mu.Unlock()
	if !ok || p.conversationID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown retry id"})
		return
	}

	msg, err := h.client.RetryGated(c.Request.Context(), p.conversationID, p.upload)
	if err != nil {
		h.failGated(c, p.conversationID, req.RetryID, err)
		return
	}

	h.mu.Lock()
	delete(h.pending, req.RetryID)
	h.mu.Unlock()
	c.JSON(http.StatusOK, msg)
}

// failGated reports a gated send failure. A retryable failure keeps the
// pending upload under a retry id returned to the caller.
func (h *Handlers) failGated(c *gin.Context, conversationID, retryID string, err error) {
	upload, ok := service.IsUploadFailure(err)
	if !ok {
		if retryID != "" && errors.Is(err, core.ErrStaleSession) {
			h.mu.Lock()
			delete(h.pending, retryID)
			h.mu.Unlock()
		}
		h.fail(c, err)
		return
	}

	h.mu.Lock()
	if retryID == "" && len(h.pending) < MaxPendingUploads {
		retryID = uuid.New().String()
	}
	if retryID != "" {
		h.pending[retryID] = pendingSend{conversationID: conversationID, upload: upload}
	}
	h.mu.Unlock()

	status, msg := statusFor(err)
	h.log.WithError(err).WithField("retry_id", retryID).Warn("gated send failed")
	_ = c.Error(err)
	resp := gin.H{"error": msg}
	if retryID != "" {
		resp["retry_id"] = retryID
	}
	c.JSON(status, resp)
}

// PreviewGated returns the metadata of gated content
func (h *Handlers) PreviewGated(c *gin.Context) {
	locator := c.Query("locator")
	if locator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "locator is required"})
		return
	}

	preview, err := h.client.PreviewGated(c.Request.Context(), locator)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"preview": preview,
		"state":   h.client.UnlockState(locator).Status,
	})
}

// UnlockState returns the unlock state of gated content
func (h *Handlers) UnlockState(c *gin.Context) {
	locator := c.Query("locator")
	if locator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "locator is required"})
		return
	}

	state := h.client.UnlockState(locator)
	resp := gin.H{"status": state.Status}
	if state.Err != nil {
		_, msg := statusFor(state.Err)
		resp["error"] = msg
	}
	c.JSON(http.StatusOK, resp)
}

// UnlockGated decrypts gated content and returns it with its content type
func (h *Handlers) UnlockGated(c *gin.Context) {
	var req struct {
		Locator string `json:"locator" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	preview, err := h.client.PreviewGated(c.Request.Context(), req.Locator)
	if err != nil {
		h.fail(c, err)
		return
	}
	plain, err := h.client.UnlockGated(c.Request.Context(), req.Locator)
	if err != nil {
		h.fail(c, err)
		return
	}

	contentType := preview.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, plain)
}
