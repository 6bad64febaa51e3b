package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xleos/studio/internal/waitlist/domain"
)

// Joiner stores a waitlist request.
type Joiner interface {
	Join(ctx context.Context, req domain.Request) (*domain.Signup, error)
}

type Handler struct {
	svc     Joiner
	limiter *ClientLimiter
	log     *zap.Logger
}

// New returns the collect-email handler. limiter may be nil.
func New(svc Joiner, limiter *ClientLimiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, limiter: limiter, log: logger.Named("waitlist_http")}
}

// Register mounts POST /collect-email on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	handlers := []gin.HandlerFunc{}
	if h.limiter != nil {
		handlers = append(handlers, h.limiter.Middleware())
	}
	handlers = append(handlers, h.CollectEmail)
	rg.POST("/collect-email", handlers...)
}

// CollectEmail handles a waitlist signup.
func (h *Handler) CollectEmail(c *gin.Context) {
	var req domain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Full name, email, role, and use case are required"})
		return
	}

	signup, err := h.svc.Join(c.Request.Context(), req)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		case errors.Is(err, domain.ErrDuplicate):
			c.JSON(http.StatusConflict, gin.H{"error": "This email is already on the waitlist"})
		case errors.Is(err, domain.ErrSinkFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save to waitlist. Please try again."})
		default:
			h.log.Error("collect email", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again."})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully added to waitlist",
		"data": gin.H{
			"name":      req.FullName,
			"email":     req.Address,
			"timestamp": signup.Timestamp.Format(time.RFC3339Nano),
		},
	})
}
