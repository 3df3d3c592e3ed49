package convert

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

// ToStructVerification renders a verification in the same shape as the HTTP verify body.
func ToStructVerification(v *model.Verification) (*structpb.Struct, error) {
	if v == nil {
		return nil, errors.New("nil verification")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStructVerification parses a Struct produced by ToStructVerification.
func FromStructVerification(s *structpb.Struct) (*model.Verification, error) {
	if s == nil {
		return nil, errors.New("nil struct")
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, err
	}
	var v model.Verification
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	return &v, nil
}

// TokenRequest builds the VerifyProof request Struct.
func TokenRequest(token string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"token": structpb.NewStringValue(token)}}
}

// TokenFromStruct extracts the "token" string field.
func TokenFromStruct(s *structpb.Struct) (string, error) {
	f, ok := s.GetFields()["token"]
	if !ok {
		return "", fmt.Errorf("%w: token is required", errs.ErrInvalidInput)
	}
	sv, ok := f.GetKind().(*structpb.Value_StringValue)
	if !ok || sv.StringValue == "" {
		return "", fmt.Errorf("%w: token must be a non-empty string", errs.ErrInvalidInput)
	}
	return sv.StringValue, nil
}
