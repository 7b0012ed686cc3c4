// Package authgate decides, per inbound call, whether the caller is permitted
// and which instruction mode the session bootstrap should use.
package authgate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gnaritas/openclaw-advanced-voice/internal/config"
)

// InstructionMode tells the session bootstrapper which inbound instruction
// variant to assemble.
type InstructionMode string

const (
	// ModeVerifiedCaller means the caller number already passed the allowlist;
	// no in-conversation challenge is needed.
	ModeVerifiedCaller InstructionMode = "verified_caller"

	// ModeChallenge means any caller is connected and the agent must require
	// the shared passphrase before assisting.
	ModeChallenge InstructionMode = "challenge"
)

// Decision is the per-call outcome of the gate.
type Decision struct {
	Allowed bool
	Mode    InstructionMode
}

// Policy is the inbound authentication capability. Outbound calls never pass
// through a policy; the system placed them itself.
type Policy interface {
	// CheckInbound evaluates a raw caller phone string.
	CheckInbound(caller string) Decision

	// Passphrase returns the spoken challenge for ModeChallenge, empty
	// otherwise.
	Passphrase() string
}

// New builds the policy selected by configuration.
func New(cfg config.GateConfig) (Policy, error) {
	switch cfg.Mode {
	case config.GateModeAllowlist:
		return NewAllowlistPolicy(cfg.AllowedCallers)
	case config.GateModePassphrase:
		if strings.TrimSpace(cfg.Passphrase) == "" {
			return nil, errors.New("authgate: passphrase mode requires a non-empty passphrase")
		}
		return &PassphrasePolicy{passphrase: cfg.Passphrase}, nil
	default:
		return nil, fmt.Errorf("authgate: unknown gate mode %q", cfg.Mode)
	}
}

// AllowlistPolicy permits only callers whose normalized number is a member of
// a fixed set. Rejected callers get a spoken denial and no session.
type AllowlistPolicy struct {
	allowed map[string]struct{}
}

func NewAllowlistPolicy(numbers []string) (*AllowlistPolicy, error) {
	allowed := map[string]struct{}{}
	for _, raw := range numbers {
		n := NormalizeNumber(raw)
		if n == "" {
			continue
		}
		allowed[n] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil, errors.New("authgate: allowlist must contain at least one valid phone number")
	}
	return &AllowlistPolicy{allowed: allowed}, nil
}

func (p *AllowlistPolicy) CheckInbound(caller string) Decision {
	n := NormalizeNumber(caller)
	if n == "" {
		return Decision{}
	}
	if _, ok := p.allowed[n]; !ok {
		return Decision{}
	}
	return Decision{Allowed: true, Mode: ModeVerifiedCaller}
}

func (p *AllowlistPolicy) Passphrase() string { return "" }

// PassphrasePolicy connects every caller; authentication happens in the
// conversation via a shared passphrase embedded in the agent instructions.
type PassphrasePolicy struct {
	passphrase string
}

func (p *PassphrasePolicy) CheckInbound(string) Decision {
	return Decision{Allowed: true, Mode: ModeChallenge}
}

func (p *PassphrasePolicy) Passphrase() string { return p.passphrase }

// NormalizeNumber reduces a free-form phone string to canonical +digits form.
// Returns "" when the input carries no digits at all.
func NormalizeNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
