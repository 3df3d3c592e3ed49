// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Difficulty selects the time limit and the bug-type pool of a challenge.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyStandard Difficulty = "standard"
	DifficultyHard     Difficulty = "hard"
)

// ParseDifficulty maps user input to a Difficulty; empty input means standard.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case "":
		return DifficultyStandard, nil
	case DifficultyEasy, DifficultyStandard, DifficultyHard:
		return Difficulty(s), nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// TimeLimit returns the challenge time budget for the difficulty.
func (d Difficulty) TimeLimit() time.Duration {
	switch d {
	case DifficultyEasy:
		return 45 * time.Second
	case DifficultyHard:
		return 25 * time.Second
	default:
		return 30 * time.Second
	}
}

// Status is the challenge lifecycle state. Everything but pending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// TaskType discriminates sub-challenges and submitted responses.
type TaskType string

const (
	TaskCrypto     TaskType = "crypto"
	TaskSpeed      TaskType = "speed"
	TaskReasoning  TaskType = "reasoning"
	TaskGeneration TaskType = "generation"
	TaskToolUse    TaskType = "tool_use"
)

// RequiredTasks lists the sub-challenges every submission must answer, in task order.
var RequiredTasks = []TaskType{TaskCrypto, TaskSpeed, TaskReasoning, TaskGeneration}

// Task is a sub-challenge descriptor presented to the caller.
type Task struct {
	Type      TaskType `json:"type"`
	Prompt    string   `json:"prompt"`
	Message   string   `json:"message,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Language  string   `json:"language,omitempty"`
	Code      string   `json:"code,omitempty"`
	MinWords  int      `json:"min_words,omitempty"`
	MaxWords  int      `json:"max_words,omitempty"`
}

// Challenge is a single-use proof-of-agency attempt.
type Challenge struct {
	ID               uuid.UUID
	AgentName        string
	Description      string
	Nonce            string
	Difficulty       Difficulty
	Tasks            []Task
	Status           Status
	CreatedAt        time.Time
	ExpiresAt        time.Time
	TimeLimitSeconds int
	IP               string
	Fingerprint      string
	CompletedAt      *time.Time
	ElapsedMs        int64
}

// StatusAt reports the effective status at now: an overdue pending challenge is expired
// even when the stored row has not been transitioned yet.
func (c *Challenge) StatusAt(now time.Time) Status {
	if c.Status == StatusPending && now.After(c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}

// SignMessage is the exact text the crypto task asks the agent to sign.
func (c *Challenge) SignMessage() string {
	return SignMessage(c.Nonce, c.AgentName)
}

// SignMessage formats the crypto task message.
func SignMessage(nonce, agentName string) string {
	return "agentproof:" + nonce + ":" + agentName
}

// ToolUseStep is one link of the legacy three-step tool-use chain.
type ToolUseStep struct {
	ChallengeID uuid.UUID
	Step        int
	Expected    string
	Received    *string
	CompletedAt *time.Time
}

// Satisfied reports whether the step was completed with exactly the expected value.
func (s ToolUseStep) Satisfied() bool {
	return s.CompletedAt != nil && s.Received != nil && *s.Received == s.Expected
}

// SpeedSlot names one of the three forced-parallel endpoints.
type SpeedSlot string

const (
	SlotA SpeedSlot = "a"
	SlotB SpeedSlot = "b"
	SlotC SpeedSlot = "c"
)

// SpeedSlots is the canonical concatenation order.
var SpeedSlots = []SpeedSlot{SlotA, SlotB, SlotC}

// ParseSpeedSlot validates a slot name.
func ParseSpeedSlot(s string) (SpeedSlot, bool) {
	switch SpeedSlot(s) {
	case SlotA, SlotB, SlotC:
		return SpeedSlot(s), true
	}
	return "", false
}

// SpeedToken is a per-slot token whose fetch time proves parallel I/O.
type SpeedToken struct {
	ChallengeID uuid.UUID
	Slot        SpeedSlot
	Token       string
	FetchedAt   *time.Time
}

// AnswerKey is the expected diagnosis of a generated bug.
type AnswerKey struct {
	Line  int    `json:"line"`
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// DynamicChallenge is a procedurally rendered find-the-bug snippet.
type DynamicChallenge struct {
	ChallengeID uuid.UUID
	BugType     string
	Language    string
	Code        string
	Answer      AnswerKey
}

// ChallengeBundle groups everything persisted when a challenge is created.
type ChallengeBundle struct {
	Challenge   *Challenge
	Steps       []ToolUseStep
	SpeedTokens []SpeedToken
	Dynamic     *DynamicChallenge
}

// AgentStatus is the claim state of a registered agent.
type AgentStatus string

const (
	AgentUnclaimed AgentStatus = "unclaimed"
	AgentClaimed   AgentStatus = "claimed"
	AgentSuspended AgentStatus = "suspended"
)

// Agent is created on first successful proof for a public key.
type Agent struct {
	ID             uuid.UUID
	Name           string
	Description    string
	PublicKey      string // unique
	Bio            string
	Status         AgentStatus
	ClaimToken     string
	ClaimExpiresAt time.Time
	OwnerID        *uuid.UUID
	CreatedAt      time.Time
}

// Proof is an issued credential and its verification history.
type Proof struct {
	ID                uuid.UUID
	AgentID           uuid.UUID
	ChallengeID       uuid.UUID
	Token             string
	Difficulty        Difficulty
	TasksPassed       []TaskType
	TimeTakenMs       int64
	Confidence        float64
	IssuedAt          time.Time
	ExpiresAt         time.Time
	VerificationCount int64
	LastVerifiedAt    *time.Time
	Revoked           bool
	RevokedReason     string
}

// Tier is a relying-party plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// MonthlyQuota returns the verification quota for the tier; 0 means unlimited.
func (t Tier) MonthlyQuota() int64 {
	switch t {
	case TierFree:
		return 1_000
	case TierStarter:
		return 10_000
	case TierPro:
		return 100_000
	case TierEnterprise:
		return 0
	}
	return 1_000
}

// ParseTier validates a tier name; empty input means free.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "":
		return TierFree, nil
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Platform is a relying party allowed to verify proof tokens.
type Platform struct {
	ID                     uuid.UUID
	Name                   string
	APIKeyHash             string // unique
	APIKeyPrefix           string
	Tier                   Tier
	MonthlyQuota           int64
	UsageMonth             string // YYYY-MM
	VerificationsThisMonth int64
	VerificationsTotal     int64
	Active                 bool
	CreatedAt              time.Time
}

// UsageMonth formats the quota accounting period for t.
func UsageMonth(t time.Time) string { return t.UTC().Format("2006-01") }

// Rate-limit log actions.
const (
	ActionChallengeCreate = "challenge_create"
	ActionAgentRegister   = "agent_register"
)

// RateLimitLogEntry is an append-only record of a rate-limited action.
type RateLimitLogEntry struct {
	Action      string
	IP          string
	Fingerprint string
	PublicKey   string
	CreatedAt   time.Time
}

// TimingLogEntry is an append-only record of a successful completion time.
type TimingLogEntry struct {
	ChallengeID uuid.UUID
	IP          string
	Fingerprint string
	Difficulty  Difficulty
	ElapsedMs   int64
	CreatedAt   time.Time
}
