package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePrompts(t *testing.T, inbound, outbound string) string {
	t.Helper()
	dir := t.TempDir()
	if inbound != "" {
		if err := os.WriteFile(filepath.Join(dir, "inbound.txt"), []byte(inbound), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if outbound != "" {
		if err := os.WriteFile(filepath.Join(dir, "outbound.txt"), []byte(outbound), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writePrompts(t, "You are the house assistant.\n", "You are {ROLE}. Mission: {MISSION}\n")

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Inbound != "You are the house assistant." {
		t.Fatalf("inbound not trimmed: %q", s.Inbound)
	}
	if !strings.Contains(s.OutboundTemplate, "{MISSION}") {
		t.Fatalf("outbound template mangled: %q", s.OutboundTemplate)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	dir := writePrompts(t, "persona", "")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing outbound.txt")
	}
}

func TestLoad_EmptyFileFails(t *testing.T) {
	dir := writePrompts(t, "   \n", "template")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for empty inbound prompt")
	}
}

func TestRenderMission(t *testing.T) {
	s := Set{OutboundTemplate: "Act as {ROLE}. Your mission: {MISSION}. Stay as {ROLE}."}
	got := s.RenderMission("assistant", "confirm Tuesday 3pm meeting")
	want := "Act as assistant. Your mission: confirm Tuesday 3pm meeting. Stay as assistant."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWithNarrative(t *testing.T) {
	if got := WithNarrative("", "base"); got != "base" {
		t.Fatalf("empty narrative should pass through, got %q", got)
	}
	got := WithNarrative("workspace state", "base")
	if !strings.HasPrefix(got, "workspace state") || !strings.HasSuffix(got, "base") {
		t.Fatalf("unexpected composition: %q", got)
	}
	if !strings.Contains(got, "\n\n---\n\n") {
		t.Fatalf("expected delimiter in %q", got)
	}
}
