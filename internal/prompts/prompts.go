// Package prompts loads the agent instruction templates from disk at startup.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Set holds the loaded prompt templates. Loading fails fast: the server must
// not start without its instruction files.
type Set struct {
	// Inbound is the persona for answering inbound calls.
	Inbound string

	// OutboundTemplate carries {ROLE} and {MISSION} placeholders.
	OutboundTemplate string
}

// Load reads inbound.txt and outbound.txt from dir.
func Load(dir string) (Set, error) {
	inbound, err := readRequired(filepath.Join(dir, "inbound.txt"), "inbound")
	if err != nil {
		return Set{}, err
	}
	outbound, err := readRequired(filepath.Join(dir, "outbound.txt"), "outbound")
	if err != nil {
		return Set{}, err
	}
	return Set{Inbound: inbound, OutboundTemplate: outbound}, nil
}

func readRequired(path, label string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompts: required %s prompt file: %w", label, err)
	}
	content := strings.TrimSpace(string(b))
	if content == "" {
		return "", fmt.Errorf("prompts: required %s prompt is empty: %s", label, path)
	}
	return content, nil
}

// RenderMission embeds role and mission into the outbound template.
func (s Set) RenderMission(role, mission string) string {
	prompt := strings.ReplaceAll(s.OutboundTemplate, "{ROLE}", role)
	return strings.ReplaceAll(prompt, "{MISSION}", mission)
}

// contextDelimiter separates the workspace narrative from the base
// instructions.
const contextDelimiter = "\n\n---\n\n"

// WithNarrative prepends the workspace narrative context to instructions.
// An empty narrative returns the instructions unchanged.
func WithNarrative(narrative, instructions string) string {
	if narrative == "" {
		return instructions
	}
	return narrative + contextDelimiter + instructions
}
