package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/quotecard/pkg/processor"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
	headerStyle  = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
)

// =============================================================================
// batchModel - Live batch progress
// =============================================================================

type batchItemMsg processor.BatchItem

type batchDoneMsg struct {
	result processor.BatchResult
}

type itemState int

const (
	itemPending itemState = iota
	itemDone
	itemFailed
)

// batchModel is the bubbletea model for the batch progress table.
type batchModel struct {
	Labels []string
	States []itemState
	Errors []string
	Sizes  []int
	Height int
	Offset int

	start  time.Time
	cancel context.CancelFunc
	result *processor.BatchResult
}

func newBatchModel(labels []string, cancel context.CancelFunc) batchModel {
	return batchModel{
		Labels: labels,
		States: make([]itemState, len(labels)),
		Errors: make([]string, len(labels)),
		Sizes:  make([]int, len(labels)),
		Height: 15,
		start:  time.Now(),
		cancel: cancel,
	}
}

func (m batchModel) Init() tea.Cmd {
	return nil
}

func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "up", "k":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j":
			if m.Offset+m.Height < len(m.Labels) {
				m.Offset++
			}
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-7, 5)
	case batchItemMsg:
		if msg.Index < 0 || msg.Index >= len(m.States) {
			return m, nil
		}
		if msg.Err != nil {
			m.States[msg.Index] = itemFailed
			m.Errors[msg.Index] = msg.Err.Error()
		} else {
			m.States[msg.Index] = itemDone
			m.Sizes[msg.Index] = len(msg.Data)
		}
	case batchDoneMsg:
		res := msg.result
		m.result = &res
		return m, tea.Quit
	}
	return m, nil
}

func (m batchModel) counts() (done, failed int) {
	for _, s := range m.States {
		switch s {
		case itemDone:
			done++
		case itemFailed:
			failed++
		}
	}
	return done, failed
}

func (m batchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Rendering Cards"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ scroll  q cancel"))
	b.WriteString("\n\n")

	end := min(m.Offset+m.Height, len(m.Labels))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		status, detail := "…", ""
		switch m.States[i] {
		case itemDone:
			status, detail = iconSuccess.glyph, formatBytes(int64(m.Sizes[i]))
		case itemFailed:
			status, detail = iconError.glyph, truncate(m.Errors[i], 48)
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), m.Labels[i], status, detail})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("#", "Card", "", "Result").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			idx := m.Offset + row
			if idx >= len(m.States) {
				return lipgloss.NewStyle()
			}
			switch m.States[idx] {
			case itemDone:
				if col == 2 {
					return lipgloss.NewStyle().Foreground(colorGreen)
				}
				return lipgloss.NewStyle().Foreground(colorWhite)
			case itemFailed:
				return lipgloss.NewStyle().Foreground(colorRed)
			}
			return lipgloss.NewStyle().Foreground(colorDim)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")

	done, failed := m.counts()
	summary := fmt.Sprintf("  [%d/%d] %d failed · %s", done+failed, len(m.Labels), failed,
		time.Since(m.start).Round(100*time.Millisecond))
	b.WriteString(listDimStyle.Render(summary))

	return b.String()
}
