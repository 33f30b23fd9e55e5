package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Device states shown in the table besides the provisioning states.
const (
	StateNew      = "new"
	StateDeleting = "deleting"
	StateInvalid  = "invalid"
)

// DeviceRow is one line of the device table.
type DeviceRow struct {
	Name    string
	Device  string
	State   string
	Address string
	Message string
}

func (r DeviceRow) cells() []string {
	return []string{r.Name, r.Device, r.State, r.Address, r.Message}
}

// colState is the index of the state column.
const colState = 2

// DeviceTable renders rows as a bordered table. The state cell is green for
// provisioned devices and red when the row carries a message.
func DeviceTable(rows []DeviceRow) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("NAME", "DEVICE", "STATE", "ADDRESS", "MESSAGE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != colState || row < 0 || row >= len(rows) {
				return cellStyle
			}
			switch {
			case rows[row].Message != "":
				return cellStyle.Foreground(colorRed)
			case rows[row].State == "provisioned":
				return cellStyle.Foreground(colorGreen)
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.cells()...)
	}
	return t.String()
}
