// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"kws/internal/actuation"
	"kws/internal/pipeline"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 200 * time.Millisecond
	barWidth        = 30
)

// Source is what the monitor reads. *pipeline.Pipeline satisfies it.
type Source interface {
	Status() pipeline.Status
}

// leveled is implemented by outputs that can report their level.
type leveled interface {
	Level() actuation.Level
	Name() string
}

type tickMsg time.Time

// MonitorModel shows live pipeline counters, flags and scores.
type MonitorModel struct {
	src     Source
	outputs []actuation.Output
	status  pipeline.Status
	width   int
}

// NewMonitorModel creates a monitor for src. outputs are shown when they
// can report their level.
func NewMonitorModel(src Source, outputs ...actuation.Output) MonitorModel {
	return MonitorModel{src: src, outputs: outputs, status: src.Status()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.status = m.src.Status()
		return m, tick()
	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	s := m.status
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Keyword Spotter"))
	sb.WriteString("\n\n")

	state := s.State.String()
	if s.State == actuation.Active {
		state = highlightStyle.Render(strings.ToUpper(state))
	}
	fmt.Fprintf(&sb, "State: %s   Activations: %d   Uptime: %s\n", state, s.Activations, s.Uptime.Truncate(time.Second))
	fmt.Fprintf(&sb, "Flags: %s\n", s.Flags)
	for _, o := range m.outputs {
		if l, ok := o.(leveled); ok {
			fmt.Fprintf(&sb, "  %-8s %s\n", l.Name(), l.Level())
		}
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Capture:   reads %d, faults %d, fill %d\n", s.Reads, s.ReadFaults, s.Fill)
	fmt.Fprintf(&sb, "Input:     %s\n", levelBar(s.Peak))
	fmt.Fprintf(&sb, "Buffer:    windows %d, overruns %d\n", s.Windows, s.Overruns)
	fmt.Fprintf(&sb, "Inference: cycles %d, late %d, stale %d, errors %d\n",
		s.Cycles, s.LateEntries, s.StaleWindows, s.ClassifyErrors)
	sb.WriteString("\n")

	sb.WriteString(m.renderScores())
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("q: Quit"))
	return sb.String()
}

// levelBar renders an absolute int16 peak as a meter.
func levelBar(peak int32) string {
	level := float64(peak) / math.MaxInt16
	filled := max(0, min(barWidth, int(level*barWidth+0.5)))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if peak >= math.MaxInt16 {
		return highlightStyle.Render(bar + " clip")
	}
	return fmt.Sprintf("%s %5d", bar, peak)
}

func (m MonitorModel) renderScores() string {
	if !m.status.HasLatest {
		return dimStyle.Render("Waiting for the first window...") + "\n"
	}

	var sb strings.Builder
	latest := m.status.Latest
	for _, p := range latest.Result.Predictions {
		filled := int(p.Score*barWidth + 0.5)
		filled = max(0, min(barWidth, filled))
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		line := fmt.Sprintf("%-12s %s %.2f\n", p.Label, bar, p.Score)
		if latest.Decided && p.Label == latest.Decision.Label {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// RunMonitor shows the monitor until the user quits or ctx ends.
func RunMonitor(ctx context.Context, src Source, outputs ...actuation.Output) error {
	p := tea.NewProgram(
		NewMonitorModel(src, outputs...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
