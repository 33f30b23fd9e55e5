package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// FetchFunc lists the device rows to display.
type FetchFunc func(ctx context.Context) ([]DeviceRow, error)

// RunWatchTUI shows the devices returned by fetch, polling every interval,
// until the user quits or ctx ends.
func RunWatchTUI(ctx context.Context, application string, interval time.Duration, fetch FetchFunc) error {
	m := NewWatchModel(application)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go pollDevices(ctx, p, interval, fetch)

	finalModel, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return fmt.Errorf("TUI error: %w", err)
	}

	fm := finalModel.(Model)
	if fm.Err != nil {
		return fm.Err
	}
	return nil
}

// sender delivers messages to a running program.
type sender interface {
	Send(msg tea.Msg)
}

// pollDevices fetches immediately and then every interval until ctx ends.
func pollDevices(ctx context.Context, p sender, interval time.Duration, fetch FetchFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rows, err := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		p.Send(DevicesMsg{Rows: rows, Err: err})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
