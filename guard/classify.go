package guard

import (
	"fmt"
	"strings"
)

// clarificationTools request user input; autopilot suppresses them when
// other tools remain.
var clarificationTools = map[string]bool{
	"ask_question":          true,
	"ask_user":              true,
	"request_clarification": true,
}

// metaTools drive the orchestration layer itself. Repeated calls within one
// action are the signature of a model stuck in a delegation loop.
var metaTools = map[string]bool{
	"spawn_agent":   true,
	"create_task":   true,
	"assign_task":   true,
	"delegate_task": true,
}

func lower(s string) string {
	return strings.ToLower(s)
}

func isSendTool(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "send_")
}

func isSearchTool(name string) bool {
	return strings.Contains(strings.ToLower(name), "search")
}

func isImageTool(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "image")
}

func isClarificationTool(name string) bool {
	return clarificationTools[strings.ToLower(name)]
}

func isMetaTool(name string) bool {
	return metaTools[strings.ToLower(name)]
}

// messageText extracts the outgoing message body from send-tool metadata.
func messageText(meta map[string]any) string {
	for _, k := range []string{"message", "text", "content", "body"} {
		if v, ok := meta[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

// recipientID extracts the delivery target from send-tool metadata.
func recipientID(meta map[string]any) string {
	for _, k := range []string{"recipient", "chat_id", "channel", "to", "destination", "user_id"} {
		if v, ok := meta[k]; ok {
			s := fmt.Sprint(v)
			if s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return ""
}

// searchQuery extracts the query from search-tool metadata.
func searchQuery(meta map[string]any) string {
	for _, k := range []string{"query", "q", "search", "term"} {
		if v, ok := meta[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
