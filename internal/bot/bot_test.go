package bot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/715209/belabot/internal/belabox"
)

func newTestBot(t *testing.T) (*Bot, *fakeController, *fakeSender, *State) {
	t.Helper()

	control := &fakeController{}
	chat := &fakeSender{}
	state := NewState()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Belabox.Monitor.Network = false

	handler := NewHandler(control, chat, state, cfg, logger)
	monitor := NewMonitor(state, chat, handler, cfg, logger)
	return New(state, control, chat, monitor, logger), control, chat, state
}

func TestBotRunDrainsChannel(t *testing.T) {
	t.Parallel()

	b, _, _, state := newTestBot(t)

	events := make(chan belabox.Message, 2)
	events <- belabox.RemoteEncoder{Online: true}
	events <- belabox.Config{Pipeline: "p1"}
	close(events)

	if err := b.Run(context.Background(), events); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !state.Online() {
		t.Error("events were not folded")
	}
}

func TestBotRunStopsOnContext(t *testing.T) {
	t.Parallel()

	b, _, _, _ := newTestBot(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, make(chan belabox.Message)) }()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancelled context")
	}
}

func TestBotRestartsStreamAfterReboot(t *testing.T) {
	t.Parallel()

	b, control, chat, state := newTestBot(t)
	ctx := context.Background()

	b.handle(ctx, belabox.Config{Pipeline: "p1", MaxBr: 2500})
	b.handle(ctx, belabox.Status{IsStreaming: boolPtr(true)})

	if _, err := state.BeginRestart(); err != nil {
		t.Fatal(err)
	}

	// First status after the reboot re-issues the start.
	b.handle(ctx, belabox.Status{IsStreaming: boolPtr(false)})

	if len(control.starts) != 1 || control.starts[0].Pipeline != "p1" {
		t.Fatalf("starts = %+v", control.starts)
	}
	if got := chat.last(t); got != "BB: Reboot successful, starting the stream" {
		t.Errorf("chat = %q", got)
	}
}

func TestBotAnnouncesInterfaceChanges(t *testing.T) {
	t.Parallel()

	b, _, chat, _ := newTestBot(t)
	ctx := context.Background()

	// The first table establishes the baseline without a notice.
	b.handle(ctx, belabox.NetifTable{"eth0": {IP: "10.0.0.1", Enabled: true}})
	if len(chat.messages) != 0 {
		t.Fatalf("unexpected messages: %v", chat.messages)
	}

	b.handle(ctx, belabox.NetifTable{
		"eth0": {IP: "10.0.0.1", Enabled: true},
		"usb0": {IP: "10.0.0.2", Enabled: true},
	})
	if got := chat.last(t); got != "BB: usb0 is now connected" {
		t.Errorf("chat = %q", got)
	}

	// eth0 is aliased to LAN in the test config.
	b.handle(ctx, belabox.NetifTable{"usb0": {IP: "10.0.0.2", Enabled: true}})
	if got := chat.last(t); got != "BB: LAN has disconnected" {
		t.Errorf("chat = %q", got)
	}
}

func TestBotRelaysNotifications(t *testing.T) {
	t.Parallel()

	b, _, chat, _ := newTestBot(t)
	ctx := context.Background()

	n := belabox.Notification{Show: []belabox.NotificationEntry{
		{Name: "low_voltage", Msg: "Low voltage detected"},
	}}

	b.handle(ctx, n)
	if got := chat.last(t); got != "BB: Low voltage detected" {
		t.Errorf("chat = %q", got)
	}

	// Repeats within the timeout stay quiet.
	b.handle(ctx, n)
	if len(chat.messages) != 1 {
		t.Errorf("messages = %v", chat.messages)
	}
}

func TestBotAnnouncesUPSChanges(t *testing.T) {
	t.Parallel()

	b, _, chat, _ := newTestBot(t)
	ctx := context.Background()

	b.monitor.cfg.UPS = true

	// First sample initializes the latch silently.
	b.handle(ctx, belabox.Sensors{SocVoltage: "5.12 V"})
	if len(chat.messages) != 0 {
		t.Fatalf("unexpected messages: %v", chat.messages)
	}

	b.handle(ctx, belabox.Sensors{SocVoltage: "4.80 V"})
	if got := chat.last(t); got != "BB: UPS not charging" {
		t.Errorf("chat = %q", got)
	}

	b.handle(ctx, belabox.Sensors{SocVoltage: "5.15 V"})
	if got := chat.last(t); got != "BB: UPS charging" {
		t.Errorf("chat = %q", got)
	}
}
