package convo

import (
	"encoding/json"
	"log/slog"

	"github.com/earshot-labs/earshot/internal/llm"
)

// DecodeHistory decodes a serialized conversation history. Malformed
// payloads are non-fatal: escalation must never block on corrupt state, so
// decode failure logs and yields an empty context.
func DecodeHistory(payload string) []llm.Message {
	if payload == "" {
		return nil
	}
	var records []llm.Message
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		slog.Error("malformed conversation history, continuing with empty context",
			"len", len(payload),
			"error", err,
		)
		return nil
	}
	return records
}

// EncodeHistory serializes context records for storage.
func EncodeHistory(records []llm.Message) string {
	if len(records) == 0 {
		return "[]"
	}
	b, err := json.Marshal(records)
	if err != nil {
		// Message is two plain strings; marshal cannot realistically fail.
		slog.Error("encode conversation history", "error", err)
		return "[]"
	}
	return string(b)
}
