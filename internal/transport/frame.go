package transport

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DecodeFrame extracts the chat message carried by an inbound text frame.
// It reports false for frames that carry no message: system events and
// blank frames.
//
// Recognized JSON shapes, in priority order:
//
//	{"data": {"message": "..."}}      data wrapper, data stringified when it has no message
//	{"message": "..."}                direct message
//	{"event": "..."}                  system event, dropped
//
// Any other payload, JSON or not, is the message verbatim.
func DecodeFrame(raw string) (string, bool) {
	text := decode(raw)
	if text == nil || strings.TrimSpace(*text) == "" {
		return "", false
	}
	return *text, true
}

func decode(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return &raw
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return &raw
	}

	// An event frame of kind new_message always carries data, so it is
	// covered by the data branch.
	if data, ok := obj["data"]; ok {
		return dataMessage(data, raw)
	}
	if msg, ok := obj["message"]; ok {
		var s string
		if isNull(msg) || json.Unmarshal(msg, &s) != nil {
			return &raw
		}
		return &s
	}
	if _, ok := obj["event"]; ok {
		return nil
	}
	return &raw
}

func dataMessage(data json.RawMessage, raw string) *string {
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(data, &inner); err != nil || inner == nil {
		return &raw
	}
	if msg, ok := inner["message"]; ok && !isNull(msg) {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			s = string(msg)
		}
		return &s
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return &raw
	}
	s := buf.String()
	return &s
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
