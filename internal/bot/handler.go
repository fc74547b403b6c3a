package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/715209/belabot/internal/belabox"
	"github.com/715209/belabot/internal/config"
)

// Controller is the slice of the relay session the bot drives.
type Controller interface {
	Start(ctx context.Context, s belabox.Start) error
	Stop(ctx context.Context) error
	SetBitrate(ctx context.Context, kbps int) error
	ToggleNetif(ctx context.Context, name, ip string, enabled bool) error
	Reboot(ctx context.Context) error
	Poweroff(ctx context.Context) error
}

// Sender posts a message to the chat channel.
type Sender interface {
	Send(text string) error
}

// ChatMessage is one incoming chat line with the sender's roles.
type ChatMessage struct {
	Sender      string
	Text        string
	Broadcaster bool
	Moderator   bool
	Vip         bool
}

// Handler maps chat commands onto encoder actions.
type Handler struct {
	control Controller
	chat    Sender
	state   *State
	logger  *slog.Logger

	commands map[config.BotCommand]config.CommandInfo
	// interfaceNames maps an interface name or IP to its friendly alias.
	interfaceNames map[string]string
	admins         []string
	// settle is how long the encoder needs between a stop and the next
	// start when a change forces a stream restart.
	settle time.Duration
}

// NewHandler builds a command handler. commands must already be
// normalized to lowercase triggers.
func NewHandler(control Controller, chat Sender, state *State, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		control:        control,
		chat:           chat,
		state:          state,
		logger:         logger,
		commands:       cfg.Commands,
		interfaceNames: cfg.Belabox.CustomInterfaceName,
		admins:         cfg.Twitch.Admins,
		settle:         time.Duration(cfg.Belabox.SettleDelaySeconds) * time.Second,
	}
}

// HandleMessage dispatches one chat line. Lines that are not a known
// command, or come from a user without the required role, are ignored
// silently.
func (h *Handler) HandleMessage(ctx context.Context, msg ChatMessage) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	trigger := strings.ToLower(fields[0])

	cmd, info, ok := h.lookup(trigger)
	if !ok {
		return
	}

	if !h.allowed(info.Permission, msg) {
		return
	}

	h.logger.Info("command", "user", msg.Sender, "command", string(cmd))

	if !h.state.Online() {
		h.send("Offline :(")
		return
	}

	args := fields[1:]
	response, err := h.dispatch(ctx, cmd, args)
	if err != nil {
		h.send("Error " + err.Error())
		return
	}
	h.send(response)
}

func (h *Handler) dispatch(ctx context.Context, cmd config.BotCommand, args []string) (string, error) {
	switch cmd {
	case config.CmdStart:
		return h.start(ctx)
	case config.CmdStop:
		return h.stop(ctx)
	case config.CmdStats:
		return h.stats(), nil
	case config.CmdRestart:
		return h.restart(ctx)
	case config.CmdPoweroff:
		return h.poweroff(ctx)
	case config.CmdBitrate:
		return h.bitrate(ctx, args)
	case config.CmdSensor:
		return h.sensor(), nil
	case config.CmdNetwork:
		return h.network(ctx, args)
	case config.CmdLatency:
		return h.latency(ctx, args)
	case config.CmdAudioDelay:
		return h.audioDelay(ctx, args)
	case config.CmdPipeline:
		return h.pipeline(ctx, args)
	case config.CmdAudioSource:
		return h.audioSource(ctx, args)
	}
	return "", fmt.Errorf("unhandled command %q", cmd)
}

func (h *Handler) lookup(trigger string) (config.BotCommand, config.CommandInfo, bool) {
	for cmd, info := range h.commands {
		if info.Command == trigger {
			return cmd, info, true
		}
	}
	return "", config.CommandInfo{}, false
}

// allowed checks the sender's role against the command's tier. Each
// tier implies the ones below it, and configured admins count as the
// broadcaster.
func (h *Handler) allowed(p config.Permission, msg ChatMessage) bool {
	broadcaster := msg.Broadcaster
	for _, a := range h.admins {
		if strings.EqualFold(a, msg.Sender) {
			broadcaster = true
			break
		}
	}
	moderator := broadcaster || msg.Moderator
	vip := moderator || msg.Vip

	switch p {
	case config.PermissionBroadcaster:
		return broadcaster
	case config.PermissionModerator:
		return moderator
	case config.PermissionVip:
		return vip
	case config.PermissionPublic:
		return true
	}
	return false
}

func (h *Handler) send(text string) {
	if text == "" {
		return
	}
	if err := h.chat.Send(text); err != nil {
		h.logger.Error("send chat message", "error", err)
	}
}

func (h *Handler) start(ctx context.Context) (string, error) {
	req, ok := h.state.StartRequest()
	if !ok {
		return "Error starting BELABOX", nil
	}
	if h.state.Streaming() {
		return "Error already streaming", nil
	}
	if err := h.control.Start(ctx, req); err != nil {
		return "", err
	}
	return "Starting BELABOX", nil
}

func (h *Handler) stop(ctx context.Context) (string, error) {
	if !h.state.Streaming() {
		return "Error not streaming", nil
	}
	if err := h.control.Stop(ctx); err != nil {
		return "", err
	}
	return "Stopping BELABOX", nil
}

// stats renders the per-interface throughput line shown in chat, also
// used for the periodic network report.
func (h *Handler) stats() string {
	netifs := h.state.Netifs()

	var total int64
	var parts []string
	for name, nif := range netifs {
		value := "disabled"
		if nif.Enabled {
			kbps := nif.Tp * 8 / 1024
			total += kbps
			value = fmt.Sprintf("%d kbps", kbps)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", h.aliasFor(name, nif.IP), value))
	}

	// Interfaces like to move around between snapshots.
	sort.Strings(parts)
	msg := strings.Join(parts, ", ")

	if len(parts) > 1 {
		msg = fmt.Sprintf("%s, Total: %d kbps", msg, total)
	}

	if charging, known := h.state.UPSCharging(); known {
		if charging {
			msg += ", UPS: charging"
		} else {
			msg += ", UPS: not charging"
		}
	}

	return msg
}

func (h *Handler) aliasFor(name, ip string) string {
	if alias, ok := h.interfaceNames[name]; ok {
		return alias
	}
	if alias, ok := h.interfaceNames[ip]; ok {
		return alias
	}
	return name
}

func (h *Handler) restart(ctx context.Context) (string, error) {
	streaming, err := h.state.BeginRestart()
	if err != nil {
		return "", err
	}
	if streaming {
		if err := h.control.Stop(ctx); err != nil {
			h.state.CancelRestart()
			return "", err
		}
	}
	if err := h.control.Reboot(ctx); err != nil {
		h.state.CancelRestart()
		return "", err
	}
	return "Rebooting BELABOX", nil
}

func (h *Handler) poweroff(ctx context.Context) (string, error) {
	if err := h.control.Poweroff(ctx); err != nil {
		return "", err
	}
	return "Powering off BELABOX", nil
}

func (h *Handler) bitrate(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "No bitrate given", nil
	}
	value, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid number %s given", args[0]), nil
	}
	if value < 500 || value > 12000 {
		return fmt.Sprintf("Invalid value: %d, use a value between 500 - 12000", value), nil
	}

	value = roundToStep(value, 250)
	if err := h.control.SetBitrate(ctx, value); err != nil {
		return "", err
	}
	h.state.SetMaxBitrate(value)

	return fmt.Sprintf("Changed max bitrate to %d kbps", value), nil
}

func (h *Handler) network(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "No interface given", nil
	}
	name := strings.ToLower(args[0])

	netifs := h.state.Netifs()
	if netifs == nil {
		return "Interfaces not available", nil
	}
	if len(netifs) == 1 {
		return "You only have one connection!", nil
	}

	key, nif, found := resolveNetif(netifs, h.interfaceNames, name)
	if !found {
		return "Interface not found", nil
	}

	enabledCount := 0
	for _, v := range netifs {
		if v.Enabled {
			enabledCount++
		}
	}
	if enabledCount == 1 && nif.Enabled {
		return "Can't disable all networks", nil
	}

	enabled := !nif.Enabled
	if err := h.control.ToggleNetif(ctx, key, nif.IP, enabled); err != nil {
		return "", err
	}

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return fmt.Sprintf("%s has been %s", name, verb), nil
}

// resolveNetif finds an interface by its real name, by a friendly
// alias keyed on the name, or by an alias keyed on the interface's IP.
func resolveNetif(netifs belabox.NetifTable, aliases map[string]string, name string) (string, belabox.NetifStatus, bool) {
	if nif, ok := netifs[name]; ok {
		return name, nif, true
	}

	for original, alias := range aliases {
		if name != strings.ToLower(alias) {
			continue
		}
		if nif, ok := netifs[original]; ok {
			return original, nif, true
		}
		// The alias key may be an IP instead of an interface name.
		for k, v := range netifs {
			if v.IP == original {
				return k, v, true
			}
		}
	}

	return "", belabox.NetifStatus{}, false
}

func (h *Handler) sensor() string {
	sensors, ok := h.state.Sensors()
	if !ok {
		return "Sensors not available"
	}

	msg := fmt.Sprintf("Temp: %s", sensors.SocTemperature)
	if sensors.SocVoltage != "" {
		msg += fmt.Sprintf(", Voltage: %s", sensors.SocVoltage)
	}
	if sensors.SocCurrent != "" {
		msg += fmt.Sprintf(", Amps: %s", sensors.SocCurrent)
	}
	return msg
}

func (h *Handler) latency(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		current := "unknown"
		if ms, ok := h.state.SrtLatency(); ok {
			current = strconv.Itoa(ms)
		}
		return fmt.Sprintf("Current SRT latency is %s ms", current), nil
	}

	value, err := strconv.Atoi(args[0])
	if err != nil || value < 0 {
		return fmt.Sprintf("Invalid number %s given", args[0]), nil
	}
	if value < 100 || value > 4000 {
		return fmt.Sprintf("Invalid value: %d, use a value between 100 - 4000", value), nil
	}

	value = roundToStep(value, 100)
	if err := h.applyWithRestart(ctx, func() { h.state.SetLatency(value) }); err != nil {
		return "", err
	}
	return fmt.Sprintf("Changed SRT latency to %d ms", value), nil
}

func (h *Handler) audioDelay(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		current := "unknown"
		if ms, ok := h.state.AudioDelay(); ok {
			current = strconv.Itoa(ms)
		}
		return fmt.Sprintf("Current audio delay is %s ms", current), nil
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid number %s given", args[0]), nil
	}
	if value < -2000 || value > 2000 {
		return fmt.Sprintf("Invalid value: %d, use a value between -2000 - 2000", value), nil
	}

	value = roundToStep(value, 20)
	if err := h.applyWithRestart(ctx, func() { h.state.SetAudioDelay(value) }); err != nil {
		return "", err
	}
	return fmt.Sprintf("Changed audio delay to %d ms", value), nil
}

func (h *Handler) pipeline(ctx context.Context, args []string) (string, error) {
	query := strings.ToLower(strings.Join(args, " "))

	table, currentID := h.state.Pipelines()
	current, ok := table[currentID]
	if !ok {
		return "Pipeline not found", nil
	}

	// Pipelines are named "<device>/<variant>". Only variants of the
	// current device are selectable; switching devices needs belaUI.
	device, _, ok := strings.Cut(current.Name, "/")
	if !ok {
		return "Pipeline not found", nil
	}

	type candidate struct {
		id      string
		display string
	}
	byQuery := make(map[string]candidate)
	var queries []string
	for id, p := range table {
		if !strings.Contains(p.Name, device) {
			continue
		}
		_, display, ok := strings.Cut(p.Name, "/")
		if !ok {
			continue
		}
		normalized := strings.ToLower(strings.ReplaceAll(display, "_", " "))
		byQuery[normalized] = candidate{id: id, display: display}
		queries = append(queries, normalized)
	}

	match, found := bestMatch(query, queries)
	if !found {
		return "Pipeline not found", nil
	}
	chosen := byQuery[match]

	if err := h.applyWithRestart(ctx, func() { h.state.SetPipeline(chosen.id) }); err != nil {
		return "", err
	}
	return fmt.Sprintf("Changed pipeline to %s", chosen.display), nil
}

func (h *Handler) audioSource(ctx context.Context, args []string) (string, error) {
	query := strings.ToLower(strings.Join(args, " "))

	asrcs := h.state.AudioSources()
	if len(asrcs) == 0 {
		return "No audio sources found", nil
	}

	byQuery := make(map[string]string, len(asrcs))
	queries := make([]string, 0, len(asrcs))
	for _, a := range asrcs {
		normalized := strings.ToLower(a)
		byQuery[normalized] = a
		queries = append(queries, normalized)
	}

	match, found := bestMatch(query, queries)
	if !found {
		return "Audio source not found", nil
	}
	chosen := byQuery[match]

	if err := h.applyWithRestart(ctx, func() { h.state.SetAudioSource(chosen) }); err != nil {
		return "", err
	}
	return fmt.Sprintf("Changed audio to %s", chosen), nil
}

// applyWithRestart applies a settings mutation that only takes effect
// on the next start. If a stream is running it is stopped first, the
// encoder is given time to settle, and the stream is started again
// with the new settings. The mutation still applies when no stream is
// running, but nothing is restarted.
func (h *Handler) applyWithRestart(ctx context.Context, mutate func()) error {
	streaming := h.state.Streaming()

	if streaming {
		if err := h.control.Stop(ctx); err != nil {
			return err
		}
		h.send("Restarting the stream")
		if err := sleepCtx(ctx, h.settle); err != nil {
			return err
		}
	}

	mutate()

	if streaming {
		req, ok := h.state.StartRequest()
		if !ok {
			return fmt.Errorf("no encoder settings cached")
		}
		if err := h.control.Start(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// roundToStep snaps value to the nearest multiple of step.
func roundToStep(value, step int) int {
	return int(math.Round(float64(value)/float64(step))) * step
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
