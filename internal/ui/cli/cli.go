// Package cli renders the summaries of the experiments as tables in the terminal.
package cli

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/rl"
	"golang.org/x/term"
	"io"
	"os"
	"strings"
)

const columnGap = 3

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	bestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// padRight pads s with spaces up to width, ignoring control sequences.
func padRight(s string, width int) string {
	return s + strings.Repeat(" ", max(0, width-lipgloss.Width(s)))
}

// Table with a title, column headers and rows of already formatted cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string

	// Highlight, if >= 0, is the row rendered with a highlight color.
	Highlight int
}

// Render the table. If color is false, no styles are applied.
func (t *Table) Render(color bool) string {
	widths := make([]int, len(t.Headers))
	for col, h := range t.Headers {
		widths[col] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for col, cell := range row {
			if col < len(widths) {
				widths[col] = max(widths[col], lipgloss.Width(cell))
			}
		}
	}
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}
	renderRow := func(cells []string, s *lipgloss.Style) string {
		parts := make([]string, len(widths))
		for col := range widths {
			var cell string
			if col < len(cells) {
				cell = cells[col]
			}
			if s != nil {
				cell = style(*s, cell)
			}
			parts[col] = padRight(cell, widths[col])
		}
		return strings.TrimRight(strings.Join(parts, strings.Repeat(" ", columnGap)), " ")
	}

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(style(titleStyle, t.Title))
		sb.WriteString("\n\n")
	}
	sb.WriteString(renderRow(t.Headers, &headerStyle))
	sb.WriteString("\n")
	for ii, row := range t.Rows {
		if ii == t.Highlight {
			sb.WriteString(renderRow(row, &bestStyle))
		} else {
			sb.WriteString(renderRow(row, nil))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// PrintCentered prints the block centered in the terminal width, or unindented if stdout is not a terminal.
func PrintCentered(w io.Writer, block string) {
	terminalWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		terminalWidth = 0
	}
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	var blockWidth int
	for _, line := range lines {
		blockWidth = max(blockWidth, lipgloss.Width(line))
	}
	indent := strings.Repeat(" ", max(0, (terminalWidth-blockWidth)/2))
	for _, line := range lines {
		if line == "" {
			_, _ = fmt.Fprintln(w)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s%s\n", indent, line)
	}
}

// IsTerminal returns whether stdout is a terminal, in which case colors and spinners are used.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RoundsTable summarizes the rounds of the active learning experiment, averaged over the repetitions.
// The round with the best mean accuracy is highlighted.
func RoundsTable(title string, summaries []metrics.RoundSummary) *Table {
	t := &Table{
		Title:     title,
		Headers:   []string{"Round", "Labeled", "Runs", "Accuracy", "Loss"},
		Highlight: -1,
	}
	var bestAcc float64
	for ii, s := range summaries {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("%d", s.Round),
			humanize.Comma(int64(s.NumLabeled)),
			fmt.Sprintf("%d", s.NumRuns),
			fmt.Sprintf("%.2f%% ± %.2f", s.MeanAcc, s.StdAcc),
			fmt.Sprintf("%.4f ± %.4f", s.MeanLoss, s.StdLoss),
		})
		if t.Highlight < 0 || s.MeanAcc > bestAcc {
			t.Highlight, bestAcc = ii, s.MeanAcc
		}
	}
	return t
}

// EpisodesTable summarizes the episodes played by an agent. The episode with the best performance
// is highlighted.
func EpisodesTable(title string, results []rl.EpisodeResult) *Table {
	t := &Table{
		Title:     title,
		Headers:   []string{"Episode", "Steps", "Queried", "Performance", "Reward"},
		Highlight: -1,
	}
	var best float64
	for ii, r := range results {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("%d", r.Episode),
			humanize.Comma(int64(r.Steps)),
			humanize.Comma(int64(r.Queried)),
			fmt.Sprintf("%.4f", r.Performance),
			fmt.Sprintf("%+.4f", r.Reward),
		})
		if t.Highlight < 0 || r.Performance > best {
			t.Highlight, best = ii, r.Performance
		}
	}
	return t
}
