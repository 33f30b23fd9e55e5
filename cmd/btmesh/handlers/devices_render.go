package handlers

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/ui/tui"
)

var listTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f9fafb"))

// deviceRow summarizes a mesh device. Devices without a btmesh section are
// skipped.
func deviceRow(d *v1alpha1.Device) (tui.DeviceRow, bool) {
	spec, ok, err := d.MeshSpec()
	if !ok {
		return tui.DeviceRow{}, false
	}
	if err != nil {
		return tui.DeviceRow{Name: d.Name, Device: "-", State: tui.StateInvalid, Address: "-", Message: err.Error()}, true
	}

	row := tui.DeviceRow{Name: d.Name, Device: spec.Device, State: tui.StateNew, Address: "-"}
	status, found, err := d.MeshStatus()
	switch {
	case err != nil:
		row.State, row.Message = tui.StateInvalid, err.Error()
	case found && status.State != nil:
		row.State = string(status.State.Type())
		row.Message = v1alpha1.ErrorMessage(status.State)
		if status.Address != nil {
			row.Address = v1alpha1.FormatAddress(*status.Address)
		}
	}
	if d.IsDeleting() {
		row.State = tui.StateDeleting
	}
	return row, true
}

// deviceRows summarizes the mesh devices sorted by name.
func deviceRows(devices []v1alpha1.Device) []tui.DeviceRow {
	rows := make([]tui.DeviceRow, 0, len(devices))
	for i := range devices {
		if row, ok := deviceRow(&devices[i]); ok {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// renderDeviceList renders rows produced by deviceRows under a title.
func renderDeviceList(application string, rows []tui.DeviceRow) string {
	title := listTitleStyle.Render(fmt.Sprintf("Mesh devices of %s (%d)", application, len(rows)))
	return title + "\n" + tui.DeviceTable(rows)
}
