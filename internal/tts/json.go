package tts

import (
	"encoding/json"
	"fmt"
)

// errorMessageKeys are the top-level fields providers use for error text.
var errorMessageKeys = []string{"message", "error", "detail"}

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// jsonMessage looks for the message fields used by the supported providers:
// message, error, detail, or detail.message.
func jsonMessage(body []byte) string {
	var payload map[string]any

	err := parseJSON(body, &payload)
	if err != nil {
		return ""
	}

	for _, key := range errorMessageKeys {
		switch value := payload[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case map[string]any:
			if nested, ok := value["message"].(string); ok && nested != "" {
				return nested
			}
		}
	}

	return ""
}
