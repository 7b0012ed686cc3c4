package relay

import (
	"time"

	"github.com/gnaritas/openclaw-advanced-voice/internal/authgate"
	"github.com/gnaritas/openclaw-advanced-voice/internal/prompts"
	"github.com/gnaritas/openclaw-advanced-voice/internal/realtime"
)

// greetingCue makes the agent open the conversation on inbound calls instead
// of waiting for the caller to speak into silence.
const greetingCue = "[CALL CONNECTED - Speak your greeting now]"

// Config is the per-server session configuration shared by every call.
type Config struct {
	Prompts prompts.Set

	// Narrative is the optional workspace context prepended to every
	// instruction set, fetched once per call before the session starts.
	Narrative string

	Voice         string
	Temperature   float64
	TurnDetection realtime.TurnDetection

	// GateMode selects the inbound instruction variant; Passphrase is the
	// spoken challenge for ModeChallenge.
	GateMode   authgate.InstructionMode
	Passphrase string

	DefaultTimezone string

	HangupGrace  time.Duration
	DispatchWait time.Duration
}

func (s *Session) withNarrative(instructions string) string {
	return prompts.WithNarrative(s.cfg.Narrative, instructions)
}

// inboundInstructions assembles the inbound persona for the active gate mode.
// Allowlisted callers skip any spoken verification; challenge mode tells the
// agent to demand the passphrase before assisting.
func (s *Session) inboundInstructions() string {
	base := s.cfg.Prompts.Inbound
	if s.cfg.GateMode == authgate.ModeChallenge {
		return base + "\n\n" +
			"The caller has NOT been verified. Before assisting with anything, " +
			"ask them for the passphrase. The passphrase is: \"" + s.cfg.Passphrase + "\". " +
			"If they do not say it, politely decline every request and end the call. " +
			"Never reveal the passphrase or hint at it."
	}
	return base + "\n\nInbound caller already verified by allowed phone number."
}
