// Package httpserver is the agent-facing and relying-party HTTP API built on gin.
package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/agentproof/internal/service"
)

// MaxBodyBytes bounds request bodies; bios are the largest legitimate payload.
const MaxBodyBytes = 64 << 10

// Deps are the services the HTTP API is built on.
type Deps struct {
	Challenges     service.ChallengeService
	Platforms      service.PlatformGate
	Log            *zap.Logger
	BaseURL        string
	TrustedProxies []string
}

// Server routes HTTP requests to the services.
type Server struct {
	r          *gin.Engine
	challenges service.ChallengeService
	platforms  service.PlatformGate
	log        *zap.Logger
	baseURL    string
}

// New builds the gin engine and its routes.
func New(deps Deps) (*Server, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(RecoverJSON(log), RequestLogger(log))

	s := &Server{
		r:          r,
		challenges: deps.Challenges,
		platforms:  deps.Platforms,
		log:        log,
		baseURL:    deps.BaseURL,
	}
	s.routes()
	return s, nil
}

// Handler exposes the engine for http.Server and httptest.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := s.r.Group("/v1", limitBody(MaxBodyBytes))
	{
		v1.POST("/challenges", s.handleCreate)
		v1.GET("/challenges/:id", s.handleGet)
		v1.GET("/challenges/:id/speed/:slot", s.handleSpeed)
		v1.POST("/challenges/:id/tool-use/:step", s.handleToolUse)
		v1.POST("/challenges/:id/submit", s.handleSubmit)
		v1.POST("/verify", APIKeyAuth(s.platforms), s.handleVerify)
	}
}
