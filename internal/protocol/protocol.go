package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Type is the message discriminator carried in the "type" field
type Type string

// Client → server message types
const (
	TypeJoin           Type = "join"
	TypeAudio          Type = "audio"
	TypeUtteranceEnd   Type = "utteranceEnd"
	TypeLeave          Type = "leave"
	TypeVoiceReference Type = "voiceReference"
	TypeClientError    Type = "clientError"
	TypePing           Type = "ping"
)

// Server → client message types
const (
	TypeJoined                  Type = "joined"
	TypeParticipantJoined       Type = "participantJoined"
	TypeParticipantLeft         Type = "participantLeft"
	TypeTranslation             Type = "translation"
	TypeTranslationAudio        Type = "translationAudio"
	TypeVoiceReferenceBroadcast Type = "voiceReferenceBroadcast"
	TypeError                   Type = "error"
	TypePong                    Type = "pong"
)

// Code classifies an error reported to a client
type Code string

const (
	CodeInvalidMessage   Code = "INVALID_MESSAGE"
	CodeUnknownType      Code = "UNKNOWN_TYPE"
	CodeNotJoined        Code = "NOT_JOINED"
	CodeAlreadyJoined    Code = "ALREADY_JOINED"
	CodeRoomFull         Code = "ROOM_FULL"
	CodeMaxRooms         Code = "MAX_ROOMS"
	CodePipelineError    Code = "PIPELINE_ERROR"
	CodeModelUnavailable Code = "MODEL_UNAVAILABLE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// Message is implemented by every wire message
type Message interface {
	MessageType() Type
}

// Error is both a Go error and the "error" message sent to the client
type Error struct {
	Type    Type   `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewError creates an error message with a formatted description
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Type: TypeError, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MessageType implements Message
func (e *Error) MessageType() Type { return TypeError }

// CodeOf returns the client error code carried by err, or CodeInternalError
func CodeOf(err error) Code {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	return CodeInternalError
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire field names instead of Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses and validates one inbound client message. Failures are
// returned as *Error with CodeInvalidMessage or CodeUnknownType.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeInvalidMessage, "malformed JSON: %v", err)
	}

	if env.Type == "" {
		return nil, NewError(CodeInvalidMessage, "missing message type")
	}

	var msg Message
	switch env.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeAudio:
		msg = &Audio{}
	case TypeUtteranceEnd:
		msg = &UtteranceEnd{}
	case TypeLeave:
		msg = &Leave{}
	case TypeVoiceReference:
		msg = &VoiceReference{}
	case TypeClientError:
		msg = &ClientError{}
	case TypePing:
		msg = &Ping{}
	default:
		return nil, NewError(CodeUnknownType, "unknown message type '%s'", env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, NewError(CodeInvalidMessage, "invalid %s message: %v", env.Type, err)
	}

	if err := validate.Struct(msg); err != nil {
		return nil, NewError(CodeInvalidMessage, "invalid %s message: %s", env.Type, describe(err))
	}

	return msg, nil
}

// Encode serializes an outbound message
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.MessageType(), err)
	}
	return data, nil
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("field '%s' failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
