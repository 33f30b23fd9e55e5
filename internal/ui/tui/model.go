package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Model is the Bubble Tea model for the device dashboard.
type Model struct {
	Application string

	// Registry state
	Rows        []DeviceRow
	FetchErr    error
	LastRefresh time.Time
	StartTime   time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width  int
	Height int
	Err    error

	now func() time.Time
}

// NewWatchModel creates a model for the devices watch command.
func NewWatchModel(application string) Model {
	return Model{
		Application: application,
		StartTime:   time.Now(),
		now:         time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case DevicesMsg:
		// A failed poll keeps the last rows on screen.
		m.FetchErr = msg.Err
		if msg.Err == nil {
			m.Rows = msg.Rows
			m.LastRefresh = m.clock()
		}

	case TickMsg:
		m.SpinnerFrame++
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// counts returns the number of rows per state.
func (m Model) counts() map[string]int {
	counts := make(map[string]int, len(m.Rows))
	for _, r := range m.Rows {
		counts[r.State]++
	}
	return counts
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
