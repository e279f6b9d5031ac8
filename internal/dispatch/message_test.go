package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		want  MessageType
		code  ErrorCode
		field string
	}{
		{"env var", Message{"messageType": "EnvVar", "var": "temp", "values": "1"}, TypeEnvVar, "", ""},
		{"command reply", Message{"messageType": "CommandReply", "var": "status", "values": "ok"}, TypeCommandReply, "", ""},
		{"image", Message{"messageType": "Image", "varName": "cam", "imageType": "png"}, TypeImage, "", ""},
		{"upload", Message{"messageType": "ImageUpload", "varName": "cam", "imageType": "png", "fileName": "a.png"}, TypeImageUpload, "", ""},
		{"recipe", Message{"messageType": "RecipeEvent", "action": "start", "name": "basil"}, TypeRecipeEvent, "", ""},

		{"no type", Message{"var": "temp"}, "", ErrCodeMissingType, KeyMessageType},
		{"null type", Message{"messageType": nil}, "", ErrCodeMissingType, KeyMessageType},
		{"unknown type", Message{"messageType": "Telemetry"}, "", ErrCodeUnknownType, KeyMessageType},
		{"env var without values", Message{"messageType": "EnvVar", "var": "temp"}, "", ErrCodeMissingField, KeyValues},
		{"env var without var", Message{"messageType": "EnvVar", "values": "1"}, "", ErrCodeMissingField, KeyVar},
		{"image without type", Message{"messageType": "Image", "varName": "cam"}, "", ErrCodeMissingField, KeyImageType},
		{"upload without file", Message{"messageType": "ImageUpload", "varName": "cam", "imageType": "png"}, "", ErrCodeMissingField, KeyFileName},
		{"recipe without name", Message{"messageType": "RecipeEvent", "action": "start"}, "", ErrCodeMissingField, KeyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := Validate("dev", tt.msg)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, typ)
				return
			}
			require.Error(t, err)
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.field, e.Field)
			assert.Equal(t, "dev", e.DeviceID)
		})
	}
}

func TestMessage_Text(t *testing.T) {
	m := Message{"s": "text", "n": 21.5, "obj": map[string]any{"a": 1.0}, "nil": nil}
	assert.Equal(t, "text", m.Text("s"))
	assert.Equal(t, "21.5", m.Text("n"))
	assert.Equal(t, `{"a":1}`, m.Text("obj"))
	assert.Equal(t, "", m.Text("nil"))
	assert.Equal(t, "", m.Text("absent"))
}

// TestError_Helpers tests classification through wrapping.
func TestError_Helpers(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", missingField("dev", TypeEnvVar, KeyVar))
	assert.True(t, IsInvalidMessage(err))
	assert.Equal(t, ErrCodeMissingField, CodeOf(err))
	assert.Contains(t, err.Error(), "field=var")

	plain := errors.New("disk full")
	assert.False(t, IsInvalidMessage(plain))
	assert.Equal(t, ErrorCode(""), CodeOf(plain))
}
