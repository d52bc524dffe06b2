package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/invoker"
	"relay/internal/logger"
	"relay/pkg/errors"
)

// InvocationReader resolves the current status of a correlated run.
type InvocationReader interface {
	GetStatus(ctx context.Context, correlationID string) (invoker.Status, error)
}

type InvokeRequest struct {
	PipelineName  string                 `json:"pipelineName" binding:"required"`
	CorrelationID string                 `json:"correlationId"`
	Parameters    map[string]interface{} `json:"parameters"`
}

type InvokeResponse struct {
	CorrelationID string `json:"correlationId"`
}

// envelope mirrors the dispatch message shape consumed off the topic.
type envelope struct {
	MessageID    string                 `json:"messageId"`
	PipelineName string                 `json:"pipelineName,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// Handler accepts manual triggers and inbound event notifications and
// hands them to the broker; the dispatcher consumes them like any other
// message, so triggered runs get the same dedup and retry treatment.
type Handler struct {
	BaseHandler
	producer     broker.Producer
	invocations  InvocationReader
	topic        string
	sharedSecret string
}

func NewHandler(producer broker.Producer, invocations InvocationReader, cfg config.TriggerConfig, topic string, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler:  BaseHandler{Logger: log},
		producer:     producer,
		invocations:  invocations,
		topic:        topic,
		sharedSecret: cfg.SharedSecret,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/invoke", h.Invoke)
	router.POST("/events", h.Events)
	router.GET("/invocations/:correlationId", h.GetInvocationStatus)
}

func (h *Handler) authorized(c *gin.Context) bool {
	secret := c.GetHeader("x-shared-secret")
	return subtle.ConstantTimeCompare([]byte(secret), []byte(h.sharedSecret)) == 1
}

// Invoke queues a manual pipeline run. The caller may pin a correlation
// id to make its own retries idempotent; otherwise one is generated.
func (h *Handler) Invoke(c *gin.Context) {
	if !h.authorized(c) {
		h.HandleError(c, errors.ErrUnauthorized.WithDetail("message", "missing or invalid shared secret"))
		return
	}

	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	payload, err := json.Marshal(envelope{
		MessageID:    correlationID,
		PipelineName: req.PipelineName,
		Parameters:   req.Parameters,
	})
	if err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err))
		return
	}

	if err := h.producer.Publish(c.Request.Context(), h.topic, correlationID, payload); err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err).WithDetail("message", "failed to queue trigger"))
		return
	}

	h.Logger.InfowCtx(c.Request.Context(), "Manual trigger queued",
		"pipeline", req.PipelineName,
		"correlation_id", correlationID,
	)

	c.JSON(http.StatusAccepted, InvokeResponse{CorrelationID: correlationID})
}

// Events relays storage event notifications onto the topic verbatim. The
// dispatcher owns validation; a malformed batch is its to dead-letter.
func (h *Handler) Events(c *gin.Context) {
	if !h.authorized(c) {
		h.HandleError(c, errors.ErrUnauthorized.WithDetail("message", "missing or invalid shared secret"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "empty event payload")))
		return
	}

	if err := h.producer.Publish(c.Request.Context(), h.topic, uuid.New().String(), body); err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err).WithDetail("message", "failed to queue events"))
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *Handler) GetInvocationStatus(c *gin.Context) {
	if !h.authorized(c) {
		h.HandleError(c, errors.ErrUnauthorized.WithDetail("message", "missing or invalid shared secret"))
		return
	}

	status, err := h.invocations.GetStatus(c.Request.Context(), c.Param("correlationId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}
