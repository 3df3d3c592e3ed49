package httpserver

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
)

// APIKeyHeader carries the relying-party API key.
const APIKeyHeader = "X-API-Key"

const platformKey = "ap.platform"

// RequestLogger logs one line per request: route, status, duration and client.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if p, ok := platformFrom(c); ok {
			fields = append(fields, zap.String("platform", p.Name))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http", fields...)
		default:
			log.Info("http", fields...)
		}
	}
}

// RecoverJSON turns panics into a 500 JSON error.
func RecoverJSON(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal error"})
			}
		}()
		c.Next()
	}
}

// Authenticator resolves an API key to a platform.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*model.Platform, error)
}

// APIKeyAuth authenticates the X-API-Key header and stores the platform on the context.
func APIKeyAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			writeError(c, errs.ErrUnauthorized)
			c.Abort()
			return
		}
		p, err := auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(platformKey, p)
		c.Next()
	}
}

func platformFrom(c *gin.Context) (*model.Platform, bool) {
	v, ok := c.Get(platformKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*model.Platform)
	return p, ok && p != nil
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// clientSignals returns the client IP and the device-class fingerprint of the request.
func clientSignals(c *gin.Context) (ip, fingerprint string) {
	ip = c.ClientIP()
	fingerprint = limiter.Fingerprint(
		c.GetHeader("User-Agent"),
		c.GetHeader("Accept-Language"),
		c.GetHeader("Accept-Encoding"),
		ip,
	)
	return ip, fingerprint
}
