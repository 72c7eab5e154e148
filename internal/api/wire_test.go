package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

func TestDecodeJSONValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "type mismatch", body: `{"ip_address":"10.0.0.1","status_code":"ok"}`, wantField: "status_code"},
		{name: "malformed", body: `{not json`},
		{name: "empty body", body: ``},
		{name: "truncated", body: `{"ip_address":"10.0.0.1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req models.EventRequest
			err := DecodeJSON(strings.NewReader(tt.body), &req)
			require.Error(t, err)

			var verr *utils.ValidationError
			require.True(t, errors.As(err, &verr), "got %T", err)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.NotEmpty(t, verr.Reason)
		})
	}
}

func TestDecodeJSONNestedFieldNamed(t *testing.T) {
	var batch BatchRequest
	err := DecodeJSON(strings.NewReader(`{"logs":[{"status_code":"bad"}]}`), &batch)

	var verr *utils.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Field, "status_code")
}

func TestDecodeJSONValidBody(t *testing.T) {
	var req models.EventRequest
	body := `{"ip_address":"10.0.0.1","method":"GET","url":"/a","status_code":200,"response_time":12.5}`
	require.NoError(t, DecodeJSON(strings.NewReader(body), &req))

	assert.Equal(t, "10.0.0.1", req.SourceID)
	assert.Equal(t, "/a", req.Path)
	require.NotNil(t, req.StatusCode)
	assert.Equal(t, 200, *req.StatusCode)
	require.NotNil(t, req.LatencyMs)
	assert.Equal(t, 12.5, *req.LatencyMs)
}

func TestFromStructDecodesEvent(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"ip_address":    "192.168.1.7",
		"method":        "POST",
		"url":           "/login",
		"status_code":   401,
		"response_time": 85.25,
		"user_agent":    "curl/8.0",
	})
	require.NoError(t, err)

	var req models.EventRequest
	require.NoError(t, FromStruct(s, &req))
	assert.Equal(t, "192.168.1.7", req.SourceID)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/login", req.Path)
	require.NotNil(t, req.StatusCode)
	assert.Equal(t, 401, *req.StatusCode)
	require.NotNil(t, req.LatencyMs)
	assert.Equal(t, 85.25, *req.LatencyMs)
	assert.Equal(t, "curl/8.0", req.ClientString)
}

func TestFromStructRejectsBadInput(t *testing.T) {
	var req models.EventRequest
	err := FromStruct(nil, &req)
	var verr *utils.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, verr.Field)

	s, err := structpb.NewStruct(map[string]any{"status_code": "teapot"})
	require.NoError(t, err)
	err = FromStruct(s, &req)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "status_code", verr.Field)
}

func TestToStructKeepsPayload(t *testing.T) {
	s, err := ToStruct(map[string]any{"status": "ok", "count": 3, "tags": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", s.Fields["status"].GetStringValue())
	assert.Equal(t, 3.0, s.Fields["count"].GetNumberValue())
	assert.Len(t, s.Fields["tags"].GetListValue().GetValues(), 2)

	_, err = ToStruct(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}
