package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rickgao/cacao-monitor/internal/display"
)

// Title is shown above the tiles.
const Title = "CACAO CARE"

// boardChangedMsg tells the model to re-read the board.
type boardChangedMsg struct{}

// Model is the bubbletea model for a board.
type Model struct {
	ctx     context.Context
	board   *display.Board
	tiles   []display.Tile
	spinner spinner.Model
	styles  styles
	now     func() time.Time
}

// New creates a model for board. ctx ends the board watch.
func New(ctx context.Context, board *display.Board) *Model {
	st := newStyles()
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(st.loading),
	)
	return &Model{
		ctx:     ctx,
		board:   board,
		tiles:   board.Snapshot(),
		spinner: sp,
		styles:  st,
		now:     time.Now,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange())
}

// waitForChange blocks until the board changes or ctx ends.
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.board.OnChange():
			return boardChangedMsg{}
		case <-m.ctx.Done():
			return tea.Quit()
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case boardChangedMsg:
		m.tiles = m.board.Snapshot()
		return m, m.waitForChange()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) View() string {
	var rows []string
	for i := 0; i < len(m.tiles); i += gridColumns {
		end := min(i+gridColumns, len(m.tiles))
		cells := make([]string, 0, gridColumns)
		for _, t := range m.tiles[i:end] {
			cells = append(cells, m.renderTile(t))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.styles.header.Render(Title),
		lipgloss.JoinVertical(lipgloss.Left, rows...),
		m.styles.help.Render("q: quit"),
	) + "\n"
}

func (m *Model) renderTile(t display.Tile) string {
	var b strings.Builder

	b.WriteString(m.styles.name.Render(t.Metric.DisplayName))
	b.WriteString("\n")

	if t.Loading() {
		b.WriteString(m.spinner.View())
		b.WriteString(m.styles.loading.Render(" loading"))
	} else {
		b.WriteString(m.styles.value.Render(t.Text))
	}
	b.WriteString("\n")
	b.WriteString(m.status(t))

	return m.styles.tile.Render(b.String())
}

// status is the tile's last line: where the value came from, or the latest error.
func (m *Model) status(t display.Tile) string {
	if t.LastError != nil && (t.Loading() || !t.ErrorAt.Before(t.Reading.ReceivedAt)) {
		msg := "error: " + shortError(t.LastError)
		if t.Loading() {
			return errorStyle().Render(truncate(msg, tileWidth-2))
		}
		return m.styles.warn.Render(truncate(msg, tileWidth-2))
	}
	if t.Loading() {
		return m.styles.meta.Render(" ")
	}
	return m.styles.meta.Render(fmt.Sprintf("%s · %s ago", t.Reading.Channel, age(m.now().Sub(t.Reading.ReceivedAt))))
}

// shortError drops wrapping prefixes, keeping the innermost cause.
func shortError(err error) string {
	for {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[len(errs)-1]
			}
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		}
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func age(d time.Duration) string {
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run shows board until the user quits or ctx is done.
func Run(ctx context.Context, board *display.Board, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(New(ctx, board), opts...)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
