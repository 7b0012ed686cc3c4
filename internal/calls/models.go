package calls

import "time"

// Call tracks one phone conversation from placement (or first inbound webhook)
// to teardown.
//
// Invariant: CallSID is assigned once by the telephony provider and is the key
// for every subsequent event. Provider-specific fields stay at the telephony
// boundary; this model is what pollers see.
type Call struct {
	CallSID   string `json:"call_sid"`
	StreamSID string `json:"stream_sid,omitempty"`

	Direction Direction `json:"direction,omitempty"`
	To        string    `json:"to,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`

	Status CallStatus `json:"status"`

	// Reason carries a failure reason code (e.g. missing_mission_prompt) or
	// the provider status that mapped to failed.
	Reason string `json:"reason,omitempty"`

	// Mission is the short mission text for outbound calls, kept for pollers.
	// The rendered prompt itself lives in the mission store, never here.
	Mission string `json:"mission,omitempty"`

	Result *Result `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	StatusInitiated          CallStatus = "initiated"
	StatusRinging            CallStatus = "ringing"
	StatusAnswered           CallStatus = "answered"
	StatusInProgress         CallStatus = "in_progress"
	StatusCompleted          CallStatus = "completed"
	StatusFailed             CallStatus = "failed"
	StatusEndedWithoutResult CallStatus = "ended_without_result"
)

// Terminal reports whether a status is final. Terminal entries are eligible
// for eviction and must not be downgraded by later generic signals.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEndedWithoutResult:
		return true
	default:
		return false
	}
}

// Result is the terminal mission outcome reported by the agent.
type Result struct {
	Success   bool           `json:"success"`
	Outcome   string         `json:"outcome"`
	Data      map[string]any `json:"data,omitempty"`
	NextSteps string         `json:"next_steps,omitempty"`
}

// FailureReasonMissingMission marks an outbound session start that found no
// stored mission prompt. Such calls terminate before any audio is relayed.
const FailureReasonMissingMission = "missing_mission_prompt"
