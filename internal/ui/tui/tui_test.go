package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{3600 * time.Second, "1h0m"},
		{3661 * time.Second, "1h1m"},
	}
	for _, tt := range tests {
		got := formatDuration(tt.d)
		if got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestCurrentSpinner(t *testing.T) {
	if got := currentSpinner(0); got != spinnerFrames[0] {
		t.Errorf("frame 0 = %q", got)
	}
	if got := currentSpinner(len(spinnerFrames) + 1); got != spinnerFrames[1] {
		t.Errorf("wrapped frame = %q", got)
	}
	if got := currentSpinner(-1); got != spinnerFrames[1] {
		t.Errorf("negative frame = %q", got)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestModelUpdate_Devices(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewWatchModel("app1")
	m.now = fixedClock(at)

	rows := []DeviceRow{{Name: "dev1", State: "provisioned", Address: "0x0010"}}
	updated, cmd := m.Update(DevicesMsg{Rows: rows})
	if cmd != nil {
		t.Error("expected no command")
	}
	m = updated.(Model)
	if len(m.Rows) != 1 || !m.LastRefresh.Equal(at) {
		t.Errorf("rows not applied: %+v", m)
	}

	// A failed poll keeps the rows.
	updated, _ = m.Update(DevicesMsg{Err: errors.New("registry down")})
	m = updated.(Model)
	if len(m.Rows) != 1 {
		t.Error("expected rows to be kept")
	}
	if m.FetchErr == nil {
		t.Error("expected fetch error")
	}

	updated, _ = m.Update(DevicesMsg{Rows: nil})
	m = updated.(Model)
	if m.FetchErr != nil || len(m.Rows) != 0 {
		t.Errorf("expected recovery, got %+v", m)
	}
}

func TestModelUpdate_Quit(t *testing.T) {
	m := NewWatchModel("app1")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}

	updated, cmd := m.Update(ErrMsg{Err: errors.New("boom")})
	if cmd == nil || updated.(Model).Err == nil {
		t.Error("expected error to end the program")
	}
}

func TestModelUpdate_TickAndResize(t *testing.T) {
	m := NewWatchModel("app1")

	updated, cmd := m.Update(TickMsg{})
	if cmd == nil {
		t.Error("expected next tick")
	}
	if updated.(Model).SpinnerFrame != 1 {
		t.Error("expected spinner to advance")
	}

	updated, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	if updated.(Model).Width != 120 || updated.(Model).Height != 40 {
		t.Error("expected window size to be recorded")
	}
}

func TestRenderView(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewWatchModel("app1")
	m.StartTime = at.Add(-90 * time.Second)
	m.now = fixedClock(at)

	loading := m.View()
	if !strings.Contains(loading, "btmesh: app1") || !strings.Contains(loading, "Loading...") {
		t.Errorf("unexpected loading view:\n%s", loading)
	}

	m.Rows = []DeviceRow{
		{Name: "dev1", Device: "id1", State: "provisioned", Address: "0x0010"},
		{Name: "dev2", Device: "id2", State: "provisioning", Address: "-", Message: "busy"},
		{Name: "dev3", Device: "id3", State: "provisioning", Address: "-"},
	}
	m.LastRefresh = at.Add(-5 * time.Second)
	m.FetchErr = errors.New("registry down")

	view := m.View()
	for _, want := range []string{"3 devices", "provisioned", "dev2", "busy", "registry down", "watching: 1m30s", "refreshed: 5s ago", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if got := m.counts()["provisioning"]; got != 2 {
		t.Errorf("counts[provisioning] = %d, want 2", got)
	}
}

func TestDeviceTable(t *testing.T) {
	out := DeviceTable([]DeviceRow{{Name: "dev1", Device: "id1", State: StateNew, Address: "-"}})
	for _, want := range []string{"NAME", "DEVICE", "STATE", "ADDRESS", "MESSAGE", "dev1", "id1", "new"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

// recordingSender collects messages sent to the program.
type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSender) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestPollDevices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recordingSender{}

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		pollDevices(ctx, rec, 10*time.Millisecond, func(context.Context) ([]DeviceRow, error) {
			calls++
			return []DeviceRow{{Name: "dev1"}}, nil
		})
	}()

	deadline := time.After(5 * time.Second)
	for rec.len() < 3 {
		select {
		case <-deadline:
			t.Fatal("expected repeated polls")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if calls < 3 {
		t.Errorf("calls = %d, want >= 3", calls)
	}
	msg, ok := rec.msgs[0].(DevicesMsg)
	if !ok || len(msg.Rows) != 1 {
		t.Errorf("unexpected first message %#v", rec.msgs[0])
	}
}
