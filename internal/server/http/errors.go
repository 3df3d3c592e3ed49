package httpserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps service errors to status codes. Unknown errors are logged by
// RequestLogger through c.Error and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	var d *limiter.Denial
	if errors.As(err, &d) {
		secs := int(math.Ceil(d.Decision.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Code:    "RATE_LIMITED",
			Message: "rate limit exceeded",
			Details: map[string]any{"reason": d.Decision.Reason, "signal": d.Decision.Signal, "retry_after_seconds": secs},
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, errs.ErrStepOrder):
		status, code = http.StatusBadRequest, "STEP_ORDER"
	case errors.Is(err, errs.ErrAlreadyCompleted):
		status, code = http.StatusBadRequest, "ALREADY_COMPLETED"
	case errors.Is(err, errs.ErrAlreadyFailed):
		status, code = http.StatusBadRequest, "ALREADY_FAILED"
	case errors.Is(err, errs.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errs.ErrExpired):
		status, code = http.StatusGone, "EXPIRED"
	case errors.Is(err, errs.ErrStateConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, errs.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, errs.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, errs.ErrQuotaExceeded):
		status, code = http.StatusPaymentRequired, "QUOTA_EXCEEDED"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Code: code, Message: msg})
}
