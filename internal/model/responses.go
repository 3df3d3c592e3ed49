package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Response is a submitted answer to one sub-challenge. The concrete type
// determines which validator runs.
type Response interface {
	TaskType() TaskType
	isResponse()
}

// CryptoResponse carries an Ed25519 signature over the task message.
type CryptoResponse struct {
	PublicKey string
	Signature string
}

// ToolUseResponse reports the end of the legacy tool-use chain.
type ToolUseResponse struct {
	Completed  bool
	FinalValue string
}

// SpeedResponse carries the concatenation of the three speed tokens.
type SpeedResponse struct {
	Combined string
}

// ReasoningResponse is the caller's diagnosis of the generated bug.
type ReasoningResponse struct {
	Line  int
	Issue string
	Fix   string
}

// GenerationResponse carries the free-text agent bio.
type GenerationResponse struct {
	Bio string
}

func (CryptoResponse) TaskType() TaskType     { return TaskCrypto }
func (ToolUseResponse) TaskType() TaskType    { return TaskToolUse }
func (SpeedResponse) TaskType() TaskType      { return TaskSpeed }
func (ReasoningResponse) TaskType() TaskType  { return TaskReasoning }
func (GenerationResponse) TaskType() TaskType { return TaskGeneration }

func (CryptoResponse) isResponse()     {}
func (ToolUseResponse) isResponse()    {}
func (SpeedResponse) isResponse()      {}
func (ReasoningResponse) isResponse()  {}
func (GenerationResponse) isResponse() {}

// TaskResult is the per-task verdict returned to the caller.
type TaskResult struct {
	Type    TaskType       `json:"type"`
	Passed  bool           `json:"passed"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ProofInfo summarizes an issued credential.
type ProofInfo struct {
	ID        uuid.UUID `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AgentInfo summarizes the registered agent.
type AgentInfo struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	PublicKey      string      `json:"public_key"`
	Status         AgentStatus `json:"status"`
	ClaimToken     string      `json:"claim_token,omitempty"`
	ClaimExpiresAt time.Time   `json:"claim_expires_at"`
}

// Outcome is the itemized result of a submission.
type Outcome struct {
	Success        bool         `json:"success"`
	Status         Status       `json:"status"`
	TasksPassed    []TaskType   `json:"tasks_passed"`
	TasksFailed    []TaskType   `json:"tasks_failed"`
	TimeTakenMs    int64        `json:"time_taken_ms"`
	Results        []TaskResult `json:"results"`
	RetryAvailable bool         `json:"retry_available"`
	Confidence     float64      `json:"confidence,omitempty"`
	Flags          []string     `json:"flags,omitempty"`
	Proof          *ProofInfo   `json:"proof,omitempty"`
	Agent          *AgentInfo   `json:"agent,omitempty"`
}

// VerifiedAgent is the agent summary returned to relying parties.
type VerifiedAgent struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	PublicKey string      `json:"public_key"`
	Status    AgentStatus `json:"status"`
}

// VerifiedProof is the proof summary returned to relying parties.
type VerifiedProof struct {
	ID                uuid.UUID  `json:"id"`
	ChallengeID       uuid.UUID  `json:"challenge_id"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Difficulty        Difficulty `json:"difficulty"`
	TasksPassed       []TaskType `json:"tasks_passed"`
	TimeTakenMs       int64      `json:"time_taken_ms"`
	VerificationCount int64      `json:"verification_count"`
}

// Verification is the relying-party view of a proof token check.
type Verification struct {
	Valid bool           `json:"valid"`
	Error string         `json:"error,omitempty"`
	Agent *VerifiedAgent `json:"agent,omitempty"`
	Proof *VerifiedProof `json:"proof,omitempty"`
}
