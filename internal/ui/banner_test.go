package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestBanner_Render(t *testing.T) {
	b := Banner{
		Version: "v1.2.0",
		Action:  "envlock acquire",
		Fields: []Field{
			{Label: "repository", Value: "acme/app"},
			{Label: "sfp server", Value: "https://sfp.example.com"},
			{Label: "environment", Value: "uat"},
		},
	}

	got := b.Render()
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")

	if want := strings.Repeat("-", 90); lines[0] != want {
		t.Errorf("first line = %q, want rule", lines[0])
	}
	if !strings.Contains(lines[1], "Version:v1.2.0") {
		t.Errorf("title line = %q, want version", lines[1])
	}

	wantRows := []string{
		"Action     : envlock acquire",
		"Repository : acme/app",
		"Sfp Server : https://sfp.example.com",
		"Environment: uat",
	}
	for i, want := range wantRows {
		if lines[3+i] != want {
			t.Errorf("row %d = %q, want %q", i, lines[3+i], want)
		}
	}
	if len(lines) != 8 {
		t.Errorf("got %d lines, want 8", len(lines))
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Success("Environment locked successfully")
	p.Warning("Cleanup failed")
	p.Info("Ticket ID: T1")

	out := buf.String()
	for _, want := range []string{"✓ Environment locked successfully", "⚠ Cleanup failed", "ℹ Ticket ID: T1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
