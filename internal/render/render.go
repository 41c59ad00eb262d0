// Package render formats compliance reports and repair results for the
// terminal or as JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/specfit/internal/repair"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const barWidth = 20

type styles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	full    lipgloss.Style
	empty   lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	section lipgloss.Style
	dim     lipgloss.Style
}

func newStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(13),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		full:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		empty:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		section: lipgloss.NewStyle().Bold(true).MarginTop(1),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// Report writes a compliance report. Target colors the overall score.
func Report(w io.Writer, format Format, rep *models.ComplianceReport, target float64) error {
	if format == FormatJSON {
		return writeJSON(w, rep)
	}
	_, err := io.WriteString(w, ReportText(rep, target))
	return err
}

// Repair writes the result of a repair run.
func Repair(w io.Writer, format Format, res *repair.Result, target float64) error {
	if format == FormatJSON {
		return writeJSON(w, res)
	}
	_, err := io.WriteString(w, RepairText(res, target))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReportText renders a report for the terminal.
func ReportText(rep *models.ComplianceReport, target float64) string {
	s := newStyles()
	var b strings.Builder

	b.WriteString(s.header.Render("Compliance Report"))
	b.WriteString("\n")
	if rep == nil {
		b.WriteString(s.dim.Render("no report"))
		b.WriteString("\n")
		return b.String()
	}

	overall := s.bad
	if rep.MeetsTarget(target) {
		overall = s.good
	} else if rep.Overall >= target*0.75 {
		overall = s.warn
	}
	b.WriteString(s.label.Render("Overall"))
	b.WriteString(s.bar(rep.Overall))
	b.WriteString(" ")
	b.WriteString(overall.Render(percent(rep.Overall)))
	b.WriteString(s.dim.Render(fmt.Sprintf("  target %s", percent(target))))
	b.WriteString("\n")

	for _, c := range []struct {
		name  string
		score models.CategoryScore
	}{
		{"Entities", rep.Entities},
		{"Endpoints", rep.Endpoints},
		{"Validations", rep.Validations},
	} {
		b.WriteString(s.label.Render(c.name))
		b.WriteString(s.bar(c.score.Score))
		b.WriteString(" ")
		b.WriteString(s.value.Render(percent(c.score.Score)))
		b.WriteString(s.dim.Render(fmt.Sprintf("  %d/%d", c.score.Matched, c.score.Expected)))
		b.WriteString("\n")
	}

	s.list(&b, "Missing entities", rep.Missing.Entities)
	s.list(&b, "Missing endpoints", rep.Missing.Endpoints)
	s.list(&b, "Missing validations", rep.Missing.Validations)
	s.list(&b, "Diagnostics", rep.Diagnostics)
	return b.String()
}

// RepairText renders a repair result for the terminal.
func RepairText(res *repair.Result, target float64) string {
	s := newStyles()
	var b strings.Builder

	b.WriteString(s.header.Render("Repair " + res.RunID))
	b.WriteString("\n")

	if res.Skipped {
		b.WriteString(s.good.Render("skipped: " + res.SkipReason))
		b.WriteString("\n")
		return b.String()
	}

	for _, a := range res.Attempts {
		st := s.dim
		switch a.Outcome {
		case models.OutcomeImproved:
			st = s.good
		case models.OutcomeRegressed:
			st = s.warn
		case models.OutcomeGenerationFailed:
			st = s.bad
		}
		line := fmt.Sprintf("#%d %-17s %s -> %s (%+.2f)",
			a.Iteration, a.Outcome,
			percent(a.ComplianceBefore), percent(a.ComplianceAfter),
			a.ComplianceAfter-a.ComplianceBefore)
		b.WriteString(st.Render(line))
		if a.PatternID != "" {
			b.WriteString(s.dim.Render("  " + a.PatternID))
		}
		b.WriteString("\n")
		if a.Error != "" && a.Outcome == models.OutcomeGenerationFailed {
			b.WriteString(s.dim.Render("   " + a.Error))
			b.WriteString("\n")
		}
	}

	var initial, final float64
	if res.Initial != nil {
		initial = res.Initial.Overall
	}
	if res.Final != nil {
		final = res.Final.Overall
	}
	b.WriteString("\n")
	b.WriteString(s.label.Render("Stopped"))
	b.WriteString(s.value.Render(res.StopReason))
	b.WriteString("\n")
	b.WriteString(s.label.Render("Compliance"))
	b.WriteString(s.value.Render(fmt.Sprintf("%s -> %s", percent(initial), percent(final))))
	b.WriteString("\n")

	if res.Final != nil {
		b.WriteString("\n")
		b.WriteString(ReportText(res.Final, target))
	}
	return b.String()
}

func (s styles) bar(score float64) string {
	filled := int(score*barWidth + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return s.full.Render(strings.Repeat("█", filled)) + s.empty.Render(strings.Repeat("░", barWidth-filled))
}

func (s styles) list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(s.section.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	b.WriteString("\n")
	for _, it := range items {
		b.WriteString("  - ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}

func percent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
