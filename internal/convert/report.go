package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	converr "github.com/mrsinham/img2dcm/internal/errors"
	"github.com/mrsinham/img2dcm/internal/match"
)

// Report summarizes one conversion run.
type Report struct {
	InputRoot  string `json:"input_root"`
	OutputRoot string `json:"output_root"`
	DryRun     bool   `json:"dry_run,omitempty"`
	Images     int    `json:"images"`
	References int    `json:"references"`

	Groups  []GroupReport `json:"groups"`
	Written []WrittenFile `json:"written"`
	Skipped []SkippedItem `json:"skipped"`
	Failed  []FailedPair  `json:"failed"`
	// Index is the DICOMDIR path, when one was written.
	Index string `json:"index,omitempty"`
}

// GroupReport describes one synthetic series.
type GroupReport struct {
	SourceDir string `json:"source_dir"`
	OutputDir string `json:"output_dir"`
	SeriesUID string `json:"series_uid"`
	Written   int    `json:"written"`
}

// WrittenFile is one successful pair.
type WrittenFile struct {
	Image     string `json:"image"`
	Reference string `json:"reference"`
	Output    string `json:"output"`
	SeriesUID string `json:"series_uid"`
}

// SkippedItem is an input that produced no output without failing.
type SkippedItem struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// FailedPair is an input whose conversion failed.
type FailedPair struct {
	Image     string       `json:"image,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Kind      converr.Kind `json:"kind"`
	Err       string       `json:"error"`
}

// HasFailures reports whether any pair failed.
func (r *Report) HasFailures() bool {
	return len(r.Failed) > 0
}

func (r *Report) addUnmatchedImage(im match.ImagePath, policy match.UnmatchedPolicy) {
	switch policy {
	case match.UnmatchedIgnore:
	case match.UnmatchedError:
		err := &converr.UnmatchedError{Path: im.Path}
		r.Failed = append(r.Failed, FailedPair{Image: im.Path, Kind: converr.KindOf(err), Err: err.Error()})
	default:
		r.Skipped = append(r.Skipped, SkippedItem{Path: im.Path, Reason: ReasonNoReference})
	}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

var (
	reportPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("63")).
				Padding(1, 2)

	reportTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("63")).
				Bold(true)

	reportLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	reportValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Bold(true)

	reportFolderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("33"))

	reportSkipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	reportFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// maxListed caps how many skipped or failed entries Render prints.
const maxListed = 20

// Render formats the report as a bordered terminal panel.
func (r *Report) Render() string {
	var sb strings.Builder

	title := "Conversion Summary"
	if r.DryRun {
		title += " (dry run)"
	}
	sb.WriteString(reportTitleStyle.Render(title))
	sb.WriteString("\n\n")

	writtenLabel := "Files written"
	if r.DryRun {
		writtenLabel = "Files to write"
	}
	params := []struct {
		label string
		value string
	}{
		{"Input", r.InputRoot},
		{"Output", r.OutputRoot},
		{"Images found", fmt.Sprintf("%d", r.Images)},
		{"References found", fmt.Sprintf("%d", r.References)},
		{"Series", fmt.Sprintf("%d", len(r.Groups))},
		{writtenLabel, fmt.Sprintf("%d", len(r.Written))},
		{"Skipped", fmt.Sprintf("%d", len(r.Skipped))},
		{"Failed", fmt.Sprintf("%d", len(r.Failed))},
	}
	if r.Index != "" {
		params = append(params, struct {
			label string
			value string
		}{"DICOMDIR", r.Index})
	}
	for _, p := range params {
		sb.WriteString(reportLabelStyle.Render(p.label + ": "))
		sb.WriteString(reportValueStyle.Render(p.value))
		sb.WriteString("\n")
	}

	if len(r.Groups) > 0 {
		sb.WriteString("\n")
		for _, g := range r.Groups {
			sb.WriteString(reportFolderStyle.Render("[DIR]"))
			sb.WriteString(" ")
			sb.WriteString(r.relOutput(g.OutputDir))
			sb.WriteString(reportLabelStyle.Render(fmt.Sprintf("  %d file(s)  %s", g.Written, g.SeriesUID)))
			sb.WriteString("\n")
		}
	}

	if len(r.Skipped) > 0 {
		sb.WriteString("\n")
		for i, s := range r.Skipped {
			if i == maxListed {
				sb.WriteString(reportLabelStyle.Render(fmt.Sprintf("... %d more skipped\n", len(r.Skipped)-maxListed)))
				break
			}
			sb.WriteString(reportSkipStyle.Render("skip"))
			sb.WriteString(" " + r.relInput(s.Path) + reportLabelStyle.Render(" ("+s.Reason+")") + "\n")
		}
	}

	if len(r.Failed) > 0 {
		sb.WriteString("\n")
		for i, f := range r.Failed {
			if i == maxListed {
				sb.WriteString(reportLabelStyle.Render(fmt.Sprintf("... %d more failed\n", len(r.Failed)-maxListed)))
				break
			}
			sb.WriteString(reportFailStyle.Render("fail"))
			sb.WriteString(fmt.Sprintf(" [%s] %s\n", f.Kind, f.Err))
		}
	}

	return reportPanelStyle.Render(strings.TrimRight(sb.String(), "\n"))
}

func (r *Report) relInput(p string) string {
	return relTo(r.InputRoot, p)
}

func (r *Report) relOutput(p string) string {
	return relTo(r.OutputRoot, p)
}

func relTo(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}
