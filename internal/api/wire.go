package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/logsentinel/sentinel/internal/feedback"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

// BatchRequest carries several access events.
type BatchRequest struct {
	Logs []models.EventRequest `json:"logs"`
}

// FeedbackRequest is an analyst correction on the wire.
type FeedbackRequest struct {
	CaseID         string `json:"case_id"`
	SourceID       string `json:"ip_address,omitempty"`
	ActualLabel    string `json:"actual_label"`
	PredictedLabel string `json:"predicted_label"`
	FeedbackType   string `json:"feedback_type,omitempty"`
	Notes          string `json:"notes,omitempty"`
	AddToWhitelist bool   `json:"add_to_whitelist,omitempty"`
}

// Submission converts the request into the store's input shape.
func (r FeedbackRequest) Submission() feedback.Submission {
	return feedback.Submission{
		CaseID:         r.CaseID,
		SourceID:       r.SourceID,
		ActualLabel:    models.Label(strings.ToLower(strings.TrimSpace(r.ActualLabel))),
		PredictedLabel: models.Label(strings.ToLower(strings.TrimSpace(r.PredictedLabel))),
		Kind:           models.FeedbackKind(strings.ToLower(strings.TrimSpace(r.FeedbackType))),
		Notes:          r.Notes,
		AddToWhitelist: r.AddToWhitelist,
	}
}

// WhitelistRequest adds or removes a source.
type WhitelistRequest struct {
	Action string `json:"action"`
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

// DecodeJSON reads one JSON document into dst. Malformed bodies and type
// mismatches come back as validation errors naming the field.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	return nil
}

// FromStruct decodes a protobuf Struct into dst using the JSON field names.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return utils.NewValidationError("", "request body is required")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	return DecodeJSON(bytes.NewReader(raw), dst)
}

// ToStruct wraps a payload built by this package in a protobuf Struct.
func ToStruct(payload map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("build response struct: %w", err)
	}
	return s, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return utils.NewValidationError(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return utils.NewValidationError("", "request body must be a JSON object")
	default:
		return utils.NewValidationError("", err.Error())
	}
}
