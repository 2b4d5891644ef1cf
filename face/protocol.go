// Package face bridges websocket clients to an external face detection process
package face

import (
	"bytes"
	"encoding/json"

	"golang.org/x/text/language"
)

// Version of the bridge protocol. Clients send it in the api-version header.
const Version = "1"

// HeaderAPIVersion carries the protocol version requested by the client
const HeaderAPIVersion = "api-version"

// Event names of the envelope
const (
	EventRequest   = "request"
	EventSuccess   = "success"
	EventError     = "error"
	EventDetection = "detection"
	EventClose     = "close"
)

// Language of the error messages sent to a client
type Language string

const (
	ZH Language = "zh"
	EN Language = "en"
)

var (
	supportedLanguages = []Language{ZH, EN}
	languageMatcher    = language.NewMatcher([]language.Tag{language.Chinese, language.English})
)

// PickLanguage matches an Accept-Language header against the supported
// languages, defaulting to Chinese
func PickLanguage(acceptLanguage string) Language {
	if acceptLanguage == "" {
		return ZH
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ZH
	}
	_, index, confidence := languageMatcher.Match(tags...)
	if confidence == language.No {
		return ZH
	}
	return supportedLanguages[index]
}

// Error is a protocol error with localized messages
type Error struct {
	Code     int
	messages map[Language]string
}

func (e *Error) Error() string {
	return e.messages[EN]
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Localize(lang Language) ErrorPayload {
	message, ok := e.messages[lang]
	if !ok {
		message = e.messages[ZH]
	}
	return ErrorPayload{Code: e.Code, Message: message}
}

var (
	ErrTypeError = &Error{Code: 0x00, messages: map[Language]string{
		ZH: "无效的数据类型",
		EN: "Invalid data type",
	}}
	ErrMultipleRequests = &Error{Code: 0x01, messages: map[Language]string{
		ZH: "重复的请求：正在进行另一操作",
		EN: "Multiple requests: another operation is in progress",
	}}
	ErrInvalidRequest = &Error{Code: 0x02, messages: map[Language]string{
		ZH: "无效的请求",
		EN: "Invalid request",
	}}
	ErrAPIVersionMismatch = &Error{Code: 0x03, messages: map[Language]string{
		ZH: "API 版本不匹配",
		EN: "API version mismatch",
	}}
)

// DetectorErrorCode marks error events that carry raw detector output
const DetectorErrorCode = 0x04

// Operation requested by a client
type Operation string

const (
	OperationDetection    Operation = "detection"
	OperationRegistration Operation = "registration"
	OperationRecognition  Operation = "recognition"
)

// Message is a validated client message
type Message interface {
	isMessage()
}

// RequestMessage asks the bridge to start an operation
type RequestMessage struct {
	Operation Operation `json:"operation"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// CloseMessage ends the running operation, keeping the connection open
type CloseMessage struct{}

// DetectionMessage carries one encoded frame. The last byte is the image format.
type DetectionMessage struct {
	Frame []byte
}

func (RequestMessage) isMessage()   {}
func (CloseMessage) isMessage()     {}
func (DetectionMessage) isMessage() {}

// Envelope is the JSON shape of every text frame
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeText validates a text frame and returns the message it carries.
// The returned error is always a protocol *Error.
func DecodeText(data []byte) (Message, *Error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrTypeError
	}

	switch env.Event {
	case EventRequest:
		if !isObject(env.Data) {
			return nil, ErrTypeError
		}
		var req RequestMessage
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return nil, ErrTypeError
		}
		return req, nil
	case EventClose:
		return CloseMessage{}, nil
	case EventDetection:
		// frames travel as binary messages only
		return nil, ErrTypeError
	default:
		return nil, ErrInvalidRequest
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// EncodeEvent builds a text frame
func EncodeEvent(event string, data interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
