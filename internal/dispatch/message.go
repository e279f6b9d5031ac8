package dispatch

import (
	"encoding/json"
	"fmt"
)

// MessageType is the messageType discriminant.
type MessageType string

const (
	TypeEnvVar       MessageType = "EnvVar"
	TypeCommandReply MessageType = "CommandReply"
	TypeImage        MessageType = "Image"
	TypeImageUpload  MessageType = "ImageUpload"
	TypeRecipeEvent  MessageType = "RecipeEvent"
)

// Message field names. They are part of the device wire contract.
const (
	KeyMessageType = "messageType"
	KeyVar         = "var"
	KeyValues      = "values"
	KeyVarName     = "varName"
	KeyImageType   = "imageType"
	KeyFileName    = "fileName"
	KeyAction      = "action"
	KeyName        = "name"
)

// requiredFields lists the mandatory fields of each message type.
var requiredFields = map[MessageType][]string{
	TypeEnvVar:       {KeyVar, KeyValues},
	TypeCommandReply: {KeyVar, KeyValues},
	TypeImage:        {KeyVarName, KeyImageType},
	TypeImageUpload:  {KeyVarName, KeyImageType, KeyFileName},
	TypeRecipeEvent:  {KeyAction, KeyName},
}

// Message is one decoded device message.
type Message map[string]any

// Has reports whether key is present with a non-null value.
func (m Message) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// Text returns the value of key as text. Strings are returned as-is;
// other values are rendered as JSON.
func (m Message) Text(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// Type returns the messageType field.
func (m Message) Type() MessageType {
	return MessageType(m.Text(KeyMessageType))
}

// Validate checks the discriminant and the type's mandatory fields.
func Validate(deviceID string, m Message) (MessageType, error) {
	if !m.Has(KeyMessageType) {
		return "", &Error{
			Code:     ErrCodeMissingType,
			Message:  "message has no " + KeyMessageType,
			DeviceID: deviceID,
			Field:    KeyMessageType,
		}
	}
	typ := m.Type()
	fields, ok := requiredFields[typ]
	if !ok {
		return "", &Error{
			Code:     ErrCodeUnknownType,
			Message:  fmt.Sprintf("unknown %s %q", KeyMessageType, typ),
			DeviceID: deviceID,
			Field:    KeyMessageType,
		}
	}
	for _, f := range fields {
		if !m.Has(f) {
			return "", missingField(deviceID, typ, f)
		}
	}
	return typ, nil
}
