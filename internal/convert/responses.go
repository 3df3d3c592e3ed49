// Package convert maps wire representations (JSON bodies, protobuf Structs) to domain types.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// WireResponse is the JSON form of one submitted response. Type selects which of the
// remaining fields are read.
type WireResponse struct {
	Type       string `json:"type"`
	PublicKey  string `json:"public_key,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Combined   string `json:"combined,omitempty"`
	Line       int    `json:"line,omitempty"`
	Issue      string `json:"issue,omitempty"`
	Fix        string `json:"fix,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
	FinalValue string `json:"final_value,omitempty"`
}

// FromWireResponse builds the typed response for w.Type.
func FromWireResponse(w WireResponse) (model.Response, error) {
	switch model.TaskType(strings.ToLower(strings.TrimSpace(w.Type))) {
	case model.TaskCrypto:
		return model.CryptoResponse{PublicKey: w.PublicKey, Signature: w.Signature}, nil
	case model.TaskSpeed:
		return model.SpeedResponse{Combined: w.Combined}, nil
	case model.TaskReasoning:
		return model.ReasoningResponse{Line: w.Line, Issue: w.Issue, Fix: w.Fix}, nil
	case model.TaskGeneration:
		return model.GenerationResponse{Bio: w.Bio}, nil
	case model.TaskToolUse:
		return model.ToolUseResponse{Completed: w.Completed, FinalValue: w.FinalValue}, nil
	}
	return nil, fmt.Errorf("%w: unknown response type %q", errs.ErrInvalidInput, w.Type)
}

// FromWireResponses converts a list, reporting the index of the first bad entry.
func FromWireResponses(in []WireResponse) ([]model.Response, error) {
	out := make([]model.Response, 0, len(in))
	for i, w := range in {
		r, err := FromWireResponse(w)
		if err != nil {
			return nil, fmt.Errorf("responses[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ToWireResponse is the inverse of FromWireResponse; the CLI uses it to build submissions.
func ToWireResponse(r model.Response) WireResponse {
	w := WireResponse{Type: string(r.TaskType())}
	switch v := r.(type) {
	case model.CryptoResponse:
		w.PublicKey, w.Signature = v.PublicKey, v.Signature
	case model.SpeedResponse:
		w.Combined = v.Combined
	case model.ReasoningResponse:
		w.Line, w.Issue, w.Fix = v.Line, v.Issue, v.Fix
	case model.GenerationResponse:
		w.Bio = v.Bio
	case model.ToolUseResponse:
		w.Completed, w.FinalValue = v.Completed, v.FinalValue
	}
	return w
}

// DecodeResponses parses a raw JSON array of responses.
func DecodeResponses(raw []byte) ([]model.Response, error) {
	var in []WireResponse
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return FromWireResponses(in)
}
