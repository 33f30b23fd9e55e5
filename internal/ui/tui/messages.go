// Package tui provides a Bubble Tea-based terminal UI for watching the mesh
// devices of an application.
package tui

// DevicesMsg carries the result of one registry poll.
type DevicesMsg struct {
	Rows []DeviceRow
	Err  error
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// ErrMsg carries an error that ends the program.
type ErrMsg struct{ Err error }
