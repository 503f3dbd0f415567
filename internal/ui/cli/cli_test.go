package cli

import (
	"bytes"
	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/rl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func TestRoundsTable(t *testing.T) {
	table := RoundsTable("entropy", []metrics.RoundSummary{
		{Round: 0, NumLabeled: 10, NumRuns: 2, MeanAcc: 50, StdAcc: 1},
		{Round: 1, NumLabeled: 1200, NumRuns: 2, MeanAcc: 70.5, StdAcc: 0.5, MeanLoss: 0.7},
		{Round: 2, NumLabeled: 1210, NumRuns: 2, MeanAcc: 65},
	})
	assert.Equal(t, 1, table.Highlight)
	out := table.Render(false)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2+1+3)
	assert.Equal(t, "entropy", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "Round   Labeled"))
	assert.Contains(t, lines[4], "1,200")
	assert.Contains(t, lines[4], "70.50% ± 0.50")
	assert.Contains(t, lines[4], "0.7000 ± 0.0000")

	// Columns are aligned.
	assert.Equal(t, strings.Index(lines[2], "Labeled"), strings.Index(lines[3], "10"))
}

func TestEpisodesTableColor(t *testing.T) {
	table := EpisodesTable("", []rl.EpisodeResult{
		{Episode: 0, Steps: 12, Queried: 5, Performance: 0.4, Reward: -0.1},
		{Episode: 1, Steps: 20, Queried: 5, Performance: 0.6, Reward: 0.2},
	})
	assert.Equal(t, 1, table.Highlight)
	plain := table.Render(false)
	assert.Contains(t, plain, "+0.2000")
	colored := table.Render(true)
	assert.Equal(t, lipgloss.Width(strings.Split(plain, "\n")[0]), lipgloss.Width(strings.Split(colored, "\n")[0]))

	var buf bytes.Buffer
	PrintCentered(&buf, plain)
	assert.Contains(t, buf.String(), "Episode")
}

func TestTableWideCells(t *testing.T) {
	table := &Table{
		Headers:   []string{"Dataset", "Acc"},
		Rows:      [][]string{{"評価", "10"}, {"mr", "20"}},
		Highlight: -1,
	}
	lines := strings.Split(strings.TrimRight(table.Render(false), "\n"), "\n")
	require.Len(t, lines, 3)
	// "評価" takes 4 terminal cells: the next column starts at the same cell in every row.
	col := lipgloss.Width("Dataset") + columnGap
	for _, line := range lines {
		assert.Equal(t, col, lipgloss.Width(line[:strings.LastIndex(line, "   ")+columnGap]), "line %q", line)
	}
}
