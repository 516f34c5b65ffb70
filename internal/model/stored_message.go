package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// MessageEncoding records which persisted shape a per-contact message was read from.
type MessageEncoding int

const (
	// EncodingObject is the current format: {"message": ..., "subject": ..., "generatedAt": ...}.
	EncodingObject MessageEncoding = iota
	// EncodingJSONString is the legacy format: the same object serialized into a JSON string.
	EncodingJSONString
	// EncodingPlainString is a string that is not valid JSON; the string itself is the message.
	EncodingPlainString
	// EncodingUnusable is any other value (null, number, array). It carries no message.
	EncodingUnusable
)

func (e MessageEncoding) String() string {
	switch e {
	case EncodingObject:
		return "object"
	case EncodingJSONString:
		return "json_string"
	case EncodingPlainString:
		return "plain_string"
	default:
		return "unusable"
	}
}

// StoredMessage is one entry of the persisted per-contact message map.
// Both historical encodings are resolved here, at decode time, so nothing
// downstream needs to care how the value was stored. It always marshals in
// the current object format.
type StoredMessage struct {
	Message     string
	Subject     string
	GeneratedAt *time.Time
	Encoding    MessageEncoding
}

type storedMessageBody struct {
	Message     string     `json:"message"`
	Subject     string     `json:"subject,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

// NewStoredMessage builds a current-format entry.
func NewStoredMessage(message, subject string, generatedAt time.Time) StoredMessage {
	ts := generatedAt.UTC()
	return StoredMessage{
		Message:     message,
		Subject:     subject,
		GeneratedAt: &ts,
		Encoding:    EncodingObject,
	}
}

// MarshalJSON writes the current object format.
func (m StoredMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(storedMessageBody{
		Message:     m.Message,
		Subject:     m.Subject,
		GeneratedAt: m.GeneratedAt,
	})
}

// UnmarshalJSON accepts the object format and the legacy JSON-string format.
// A string that does not parse is kept verbatim as the message.
func (m *StoredMessage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*m = StoredMessage{Encoding: EncodingUnusable}
		return nil
	}

	switch data[0] {
	case '{':
		var body storedMessageBody
		if err := json.Unmarshal(data, &body); err != nil {
			*m = StoredMessage{Encoding: EncodingUnusable}
			return nil
		}
		*m = fromBody(body, EncodingObject)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = ParseLegacyMessage(s)
	default:
		*m = StoredMessage{Encoding: EncodingUnusable}
	}
	return nil
}

// ParseLegacyMessage resolves a string-typed map value. One level of extra
// string encoding is unwrapped.
func ParseLegacyMessage(s string) StoredMessage {
	return parseLegacy(s, 2)
}

func parseLegacy(s string, depth int) StoredMessage {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '{':
			var body storedMessageBody
			if err := json.Unmarshal(trimmed, &body); err == nil {
				return fromBody(body, EncodingJSONString)
			}
		case '"':
			var inner string
			if depth > 1 {
				if err := json.Unmarshal(trimmed, &inner); err == nil {
					return parseLegacy(inner, depth-1)
				}
			}
		}
	}
	return StoredMessage{Message: s, Encoding: EncodingPlainString}
}

func fromBody(body storedMessageBody, enc MessageEncoding) StoredMessage {
	return StoredMessage{
		Message:     body.Message,
		Subject:     body.Subject,
		GeneratedAt: body.GeneratedAt,
		Encoding:    enc,
	}
}
