package face_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcommunity/face"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    face.Message
		wantErr *face.Error
	}{
		{
			name:  "detection request",
			input: `{"event":"request","data":{"operation":"detection","width":640,"height":480}}`,
			want:  face.RequestMessage{Operation: face.OperationDetection, Width: 640, Height: 480},
		},
		{
			name:  "registration request",
			input: `{"event":"request","data":{"operation":"registration"}}`,
			want:  face.RequestMessage{Operation: face.OperationRegistration},
		},
		{
			name:  "close",
			input: `{"event":"close"}`,
			want:  face.CloseMessage{},
		},
		{
			name:    "not json",
			input:   `request`,
			wantErr: face.ErrTypeError,
		},
		{
			name:    "request with string data",
			input:   `{"event":"request","data":"detection"}`,
			wantErr: face.ErrTypeError,
		},
		{
			name:    "request without data",
			input:   `{"event":"request"}`,
			wantErr: face.ErrTypeError,
		},
		{
			name:    "request with mistyped field",
			input:   `{"event":"request","data":{"width":"wide"}}`,
			wantErr: face.ErrTypeError,
		},
		{
			name:    "detection as text",
			input:   `{"event":"detection","data":"AAEC"}`,
			wantErr: face.ErrTypeError,
		},
		{
			name:    "unknown event",
			input:   `{"event":"subscribe"}`,
			wantErr: face.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := face.DecodeText([]byte(tt.input))
			if tt.wantErr != nil {
				assert.Same(t, tt.wantErr, err)
				assert.Nil(t, msg)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestPickLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   face.Language
	}{
		{"", face.ZH},
		{"en-US,en;q=0.9", face.EN},
		{"zh-CN,zh;q=0.9,en;q=0.8", face.ZH},
		{"fr-FR", face.ZH},
		{";;;", face.ZH},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, face.PickLanguage(tt.header))
		})
	}
}

func TestLocalize(t *testing.T) {
	assert.Equal(t, face.ErrorPayload{Code: 0x03, Message: "API version mismatch"}, face.ErrAPIVersionMismatch.Localize(face.EN))
	assert.Equal(t, face.ErrorPayload{Code: 0x01, Message: "重复的请求：正在进行另一操作"}, face.ErrMultipleRequests.Localize(face.ZH))
	assert.Equal(t, face.ErrInvalidRequest.Localize(face.ZH), face.ErrInvalidRequest.Localize("de"))
}

func TestEncodeEvent(t *testing.T) {
	frame, err := face.EncodeEvent(face.EventSuccess, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"success"}`, string(frame))

	frame, err = face.EncodeEvent(face.EventError, face.ErrTypeError.Localize(face.EN))
	require.NoError(t, err)

	var env face.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, face.EventError, env.Event)
	assert.JSONEq(t, `{"code":0,"message":"Invalid data type"}`, string(env.Data))
}
