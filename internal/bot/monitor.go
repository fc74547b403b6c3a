package bot

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/715209/belabot/internal/belabox"
	"github.com/715209/belabot/internal/config"
)

// Monitor posts unsolicited chat notices: interfaces coming and going,
// power state changes, encoder notifications, and the periodic network
// report. Every notice carries the "BB: " prefix so viewers can tell
// them apart from command replies.
type Monitor struct {
	state   *State
	chat    Sender
	handler *Handler
	logger  *slog.Logger

	cfg            config.MonitorConfig
	interfaceNames map[string]string
}

// NewMonitor builds a monitor sharing the handler's state cache. The
// handler renders the periodic network report.
func NewMonitor(state *State, chat Sender, handler *Handler, cfg *config.Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:          state,
		chat:           chat,
		handler:        handler,
		logger:         logger,
		cfg:            cfg.Belabox.Monitor,
		interfaceNames: cfg.Belabox.CustomInterfaceName,
	}
}

// Observe inspects one relay event after it has been folded into the
// state cache. res carries the fold's interface diff.
func (m *Monitor) Observe(msg belabox.Message, res ApplyResult) {
	switch v := msg.(type) {
	case belabox.NetifTable:
		if m.cfg.Modems {
			m.announceNetifs(res)
		}
		if m.cfg.Network {
			m.networkReport()
		}
	case belabox.Sensors:
		if m.cfg.UPS {
			m.ups(v)
		}
	case belabox.Notification:
		if m.cfg.Notifications {
			m.notifications(v)
		}
	}
}

func (m *Monitor) send(text string) {
	if err := m.chat.Send(text); err != nil {
		m.logger.Error("send chat message", "error", err)
	}
}

func (m *Monitor) announceNetifs(res ApplyResult) {
	netifs := m.state.Netifs()
	alias := func(name string) string {
		if a, ok := m.interfaceNames[name]; ok {
			return a
		}
		if nif, ok := netifs[name]; ok {
			if a, ok := m.interfaceNames[nif.IP]; ok {
				return a
			}
		}
		return name
	}

	var parts []string
	if len(res.NetifAdded) > 0 {
		names := make([]string, len(res.NetifAdded))
		for i, n := range res.NetifAdded {
			names[i] = alias(n)
		}
		verb := "is"
		if len(names) > 1 {
			verb = "are"
		}
		parts = append(parts, strings.Join(names, ", ")+" "+verb+" now connected")
	}
	if len(res.NetifRemoved) > 0 {
		names := make([]string, len(res.NetifRemoved))
		for i, n := range res.NetifRemoved {
			names[i] = alias(n)
		}
		verb := "has"
		if len(names) > 1 {
			verb = "have"
		}
		parts = append(parts, strings.Join(names, ", ")+" "+verb+" disconnected")
	}

	if len(parts) > 0 {
		m.send("BB: " + strings.Join(parts, ", "))
	}
}

// ups derives the power state from the SoC voltage. Readings look like
// "5.09 V"; the threshold compares against the value truncated to two
// decimals so jitter around the limit does not flap.
func (m *Monitor) ups(sensors belabox.Sensors) {
	field := strings.Fields(sensors.SocVoltage)
	if len(field) == 0 {
		return
	}
	voltage, err := strconv.ParseFloat(field[0], 64)
	if err != nil {
		return
	}

	pluggedIn := math.Floor(voltage*100)/100 >= m.cfg.UPSPluggedIn
	changed, charging := m.state.UPSTransition(pluggedIn)
	if !changed {
		return
	}

	if charging {
		m.send("BB: UPS charging")
	} else {
		m.send("BB: UPS not charging")
	}
}

func (m *Monitor) notifications(n belabox.Notification) {
	timeout := time.Duration(m.cfg.NotificationTimeoutSec) * time.Second
	for _, entry := range n.Show {
		if !m.state.NotificationDue(entry.Name, timeout) {
			continue
		}
		m.logger.Warn("encoder notification", "name", entry.Name, "msg", entry.Msg)
		m.send("BB: " + entry.Msg)
	}
}

func (m *Monitor) networkReport() {
	timeout := time.Duration(m.cfg.NetworkTimeoutSec) * time.Second
	if !m.state.NetworkStatsDue(timeout) {
		return
	}
	if msg := m.handler.stats(); msg != "" {
		m.send(msg)
	}
}
