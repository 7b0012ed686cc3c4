// Package tools declares the function tools exposed to the conversational
// model and dispatches their invocations without blocking the audio relay.
package tools

import "github.com/gnaritas/openclaw-advanced-voice/internal/realtime"

const (
	NameHangUp        = "hang_up"
	NameAnswerQuery   = "answer_user_query"
	NameSystemAction  = "execute_system_action"
	NameMissionResult = "mission_result"
	NameGetTime       = "get_time"
	NameDelegate      = "delegate"
)

// Catalog returns the tool declarations sent in session.update. Keep the
// descriptions model-facing: they are the only documentation the agent sees.
func Catalog() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        NameHangUp,
			Description: "End the phone call",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
		},
		{
			Type:        "function",
			Name:        NameAnswerQuery,
			Description: "Consult the backend to answer a question or retrieve information. Use this for facts, memory, status updates, or web searches.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The specific question or information to retrieve",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Type:        "function",
			Name:        NameSystemAction,
			Description: "Consult the backend to perform a specific action or task. Use this for messaging, file operations, calendar edits, or running system commands.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type":        "string",
						"description": "The specific action or task to perform",
					},
				},
				"required": []string{"action"},
			},
		},
		{
			Type:        "function",
			Name:        NameMissionResult,
			Description: "Report the outcome of your mission. Call this when the mission is complete, blocked, or cannot be completed. Always call before hanging up.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"success": map[string]any{
						"type":        "boolean",
						"description": "Whether the mission objective was achieved",
					},
					"outcome": map[string]any{
						"type":        "string",
						"description": "Brief description of what happened (1-2 sentences)",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Any relevant data collected during the call (names, times, confirmations, etc.)",
					},
					"next_steps": map[string]any{
						"type":        "string",
						"description": "Recommended follow-up actions",
					},
				},
				"required": []string{"success", "outcome"},
			},
		},
		{
			Type:        "function",
			Name:        NameGetTime,
			Description: "Get the current local time for the call, or for a specific IANA timezone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name, defaults to the call timezone",
					},
				},
				"required": []string{},
			},
		},
	}
}

// Kind classifies a tool invocation for dispatch. Several declared names
// collapse onto one backend delegation path.
type Kind int

const (
	KindUnknown Kind = iota
	KindHangUp
	KindMissionResult
	KindGetTime
	KindDelegate
)

func ParseKind(name string) Kind {
	switch name {
	case NameHangUp:
		return KindHangUp
	case NameMissionResult:
		return KindMissionResult
	case NameGetTime:
		return KindGetTime
	case NameDelegate, NameAnswerQuery, NameSystemAction:
		return KindDelegate
	default:
		return KindUnknown
	}
}
