// Package ui renders envlock's console output: the run banner and status lines.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Product identifies the tool in the banner.
const Product = "flxbl-actions"

const bannerWidth = 90

// Styles used across the console output.
var Styles = struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Subtle  lipgloss.Style
	Bold    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Bold:    lipgloss.NewStyle().Bold(true),
}

// Field is one labelled banner row.
type Field struct {
	Label string
	Value string
}

// Banner describes the header printed at the start of each phase.
type Banner struct {
	Version string
	Action  string
	Fields  []Field
}

// Render returns the banner text. Labels are title-cased and aligned.
func (b Banner) Render() string {
	rule := Styles.Subtle.Render(strings.Repeat("-", bannerWidth))
	title := cases.Title(language.English)

	rows := append([]Field{{Label: "action", Value: b.Action}}, b.Fields...)
	width := 0
	for _, f := range rows {
		if n := len(f.Label); n > width {
			width = n
		}
	}

	var sb strings.Builder
	sb.WriteString(rule + "\n")
	sb.WriteString(Styles.Title.Render(fmt.Sprintf("%s  -- by flxbl.io --  Version:%s", Product, b.Version)) + "\n")
	sb.WriteString(rule + "\n")
	for _, f := range rows {
		label := title.String(f.Label)
		fmt.Fprintf(&sb, "%-*s: %s\n", width, label, f.Value)
	}
	sb.WriteString(rule + "\n")
	return sb.String()
}

// Print writes the banner followed by a blank line.
func (b Banner) Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, b.Render())
}

// Printer writes styled status lines.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Success prints a success line.
func (p *Printer) Success(msg string) {
	_, _ = fmt.Fprintln(p.w, Styles.Success.Render("✓ "+msg))
}

// Warning prints a warning line.
func (p *Printer) Warning(msg string) {
	_, _ = fmt.Fprintln(p.w, Styles.Warning.Render("⚠ "+msg))
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	_, _ = fmt.Fprintln(p.w, Styles.Error.Render("✗ "+msg))
}

// Info prints an informational line.
func (p *Printer) Info(msg string) {
	_, _ = fmt.Fprintln(p.w, Styles.Info.Render("ℹ "+msg))
}

// Title prints a title line.
func (p *Printer) Title(msg string) {
	_, _ = fmt.Fprintln(p.w, Styles.Title.Render(msg))
}

// Plain prints msg unstyled.
func (p *Printer) Plain(msg string) {
	_, _ = fmt.Fprintln(p.w, msg)
}
