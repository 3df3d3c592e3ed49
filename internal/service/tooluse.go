package service

import (
	"fmt"

	"github.com/and161185/agentproof/internal/model"
)

// ToolUseSteps is the length of the tool-use chain.
const ToolUseSteps = 3

// ToolUseReply is returned for each step call. NextValue is the value the caller must
// send to the following step; it is empty after the last step or on a mismatch.
type ToolUseReply struct {
	Step      int    `json:"step"`
	Accepted  bool   `json:"accepted"`
	NextValue string `json:"next_value,omitempty"`
}

// checkToolUse requires the chain completed in order with exact values and the final value
// equal to the expected value of the last step.
func checkToolUse(steps []model.ToolUseStep, r model.ToolUseResponse) string {
	if !r.Completed {
		return "tool-use chain reported as not completed"
	}
	if len(steps) != ToolUseSteps {
		return "tool-use chain is not available for this challenge"
	}
	for i, s := range steps {
		if s.Step != i+1 {
			return "tool-use steps are out of order"
		}
		if !s.Satisfied() {
			return fmt.Sprintf("tool-use step %d was not completed with the expected value", s.Step)
		}
	}
	if r.FinalValue != steps[ToolUseSteps-1].Expected {
		return "final_value does not match the last step"
	}
	return ""
}
