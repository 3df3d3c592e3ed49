package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/agentproof/internal/convert"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/service"
)

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
}

// ChallengeView is the JSON form of a challenge.
type ChallengeView struct {
	ChallengeID      uuid.UUID        `json:"challenge_id"`
	Status           model.Status     `json:"status"`
	Difficulty       model.Difficulty `json:"difficulty"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	TimeLimitSeconds int              `json:"time_limit_seconds"`
	Tasks            []model.Task     `json:"tasks"`
	SubmitURL        string           `json:"submit_url"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	TimeTakenMs      int64            `json:"time_taken_ms,omitempty"`
}

type submitRequest struct {
	Responses []convert.WireResponse `json:"responses"`
}

type toolUseRequest struct {
	Value string `json:"value"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

// SpeedView is the body of a speed token fetch.
type SpeedView struct {
	Slot      model.SpeedSlot `json:"slot"`
	Token     string          `json:"token"`
	FetchedAt time.Time       `json:"fetched_at"`
}

func (s *Server) view(ch *model.Challenge) ChallengeView {
	return ChallengeView{
		ChallengeID:      ch.ID,
		Status:           ch.Status,
		Difficulty:       ch.Difficulty,
		CreatedAt:        ch.CreatedAt,
		ExpiresAt:        ch.ExpiresAt,
		TimeLimitSeconds: ch.TimeLimitSeconds,
		Tasks:            ch.Tasks,
		SubmitURL:        strings.TrimRight(s.baseURL, "/") + "/v1/challenges/" + ch.ID.String() + "/submit",
		CompletedAt:      ch.CompletedAt,
		TimeTakenMs:      ch.ElapsedMs,
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return false
	}
	return true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: bad challenge id", errs.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if !bindJSON(c, &req) {
		return
	}
	ip, fp := clientSignals(c)
	ch, err := s.challenges.Create(c.Request.Context(), service.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		IP:          ip,
		Fingerprint: fp,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(ch))
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ch, err := s.challenges.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(ch))
}

func (s *Server) handleSpeed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tok, err := s.challenges.FetchSpeedToken(c.Request.Context(), id, c.Param("slot"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := SpeedView{Slot: tok.Slot, Token: tok.Token}
	if tok.FetchedAt != nil {
		out.FetchedAt = *tok.FetchedAt
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleToolUse(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: bad step", errs.ErrInvalidInput))
		return
	}
	var req toolUseRequest
	if step > 0 && !bindJSON(c, &req) {
		return
	}
	reply, err := s.challenges.ToolUseStep(c.Request.Context(), id, step, req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleSubmit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req submitRequest
	if !bindJSON(c, &req) {
		return
	}
	responses, err := convert.FromWireResponses(req.Responses)
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := s.challenges.Submit(c.Request.Context(), id, responses)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerify(c *gin.Context) {
	p, ok := platformFrom(c)
	if !ok {
		writeError(c, errs.ErrUnauthorized)
		return
	}
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := s.platforms.VerifyFor(c.Request.Context(), p, req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
