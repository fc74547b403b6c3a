// Package bot turns decoded BELABOX Cloud events and Twitch chat
// commands into encoder actions and chat replies.
package bot

import (
	"sort"
	"sync"
	"time"

	"github.com/715209/belabot/internal/belabox"
)

// State is the bot's cache of the encoder, built up by folding relay
// events. Commands read from it instead of querying the encoder; the
// relay pushes a full snapshot after every (re)connect, so the cache
// converges even after missed frames.
type State struct {
	mu sync.RWMutex

	online      bool
	isStreaming bool
	restart     bool

	config    *belabox.Config
	netifs    belabox.NetifTable
	sensors   *belabox.Sensors
	pipelines belabox.Pipelines
	asrcs     []string

	// notifyUPS latches the last observed power state. Nil until the
	// first voltage sample, so startup never produces a false notice.
	notifyUPS *bool

	notificationSeen map[string]time.Time
	lastNetworkStats time.Time
}

// ApplyResult reports the side effects of folding one event.
type ApplyResult struct {
	// Start is non-nil when a pending reboot has completed and the
	// stream should be re-issued from the cached settings.
	Start *belabox.Start
	// NetifAdded and NetifRemoved name interfaces that appeared or
	// disappeared compared to the previous table. Both are empty for
	// the first table received.
	NetifAdded   []string
	NetifRemoved []string
}

// NewState returns an empty cache. The network stats timer starts now
// so the first periodic report waits a full interval.
func NewState() *State {
	return &State{
		notificationSeen: make(map[string]time.Time),
		lastNetworkStats: time.Now(),
	}
}

// Apply folds one relay event into the cache.
func (s *State) Apply(msg belabox.Message) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ApplyResult

	switch m := msg.(type) {
	case belabox.Config:
		c := m
		s.config = &c
	case belabox.RemoteEncoder:
		s.online = m.Online
	case belabox.NetifTable:
		if s.netifs != nil {
			res.NetifAdded, res.NetifRemoved = diffNetifs(s.netifs, m)
		}
		s.netifs = m
	case belabox.Sensors:
		sn := m
		s.sensors = &sn
	case belabox.BitrateStatus:
		if s.config != nil {
			s.config.MaxBr = m.MaxBr
		}
	case belabox.Status:
		if m.IsStreaming != nil {
			s.isStreaming = *m.IsStreaming
		}
		if m.Asrcs != nil {
			s.asrcs = m.Asrcs
		}
		if s.restart {
			s.restart = false
			if s.config != nil {
				start := belabox.StartFromConfig(*s.config)
				res.Start = &start
			}
		}
	case belabox.AudioSources:
		s.asrcs = m
	case belabox.Pipelines:
		s.pipelines = m
	}

	return res
}

func diffNetifs(prev, next belabox.NetifTable) (added, removed []string) {
	for name := range next {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Online reports whether the encoder is reachable through the relay.
func (s *State) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Streaming reports whether the encoder says a stream is running.
func (s *State) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isStreaming
}

// StartRequest builds a start request from the cached encoder settings.
// ok is false until the first config snapshot arrives.
func (s *State) StartRequest() (belabox.Start, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return belabox.Start{}, false
	}
	return belabox.StartFromConfig(*s.config), true
}

// Netifs returns a copy of the interface table, or nil if none has
// been received yet.
func (s *State) Netifs() belabox.NetifTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.netifs == nil {
		return nil
	}
	out := make(belabox.NetifTable, len(s.netifs))
	for k, v := range s.netifs {
		out[k] = v
	}
	return out
}

// Sensors returns the latest sensor readings.
func (s *State) Sensors() (belabox.Sensors, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sensors == nil {
		return belabox.Sensors{}, false
	}
	return *s.sensors, true
}

// Pipelines returns the pipeline table plus the id of the currently
// configured pipeline.
func (s *State) Pipelines() (table belabox.Pipelines, current string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config != nil {
		current = s.config.Pipeline
	}
	return s.pipelines, current
}

// AudioSources returns the known audio source names.
func (s *State) AudioSources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asrcs
}

// SrtLatency returns the cached SRT latency. ok is false before the
// first config snapshot.
func (s *State) SrtLatency() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return 0, false
	}
	return s.config.SrtLatency, true
}

// AudioDelay returns the cached audio delay.
func (s *State) AudioDelay() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return 0, false
	}
	return s.config.Delay, true
}

// MaxBitrate returns the cached bitrate cap in kbps, or 0 before the
// first config snapshot.
func (s *State) MaxBitrate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return 0
	}
	return s.config.MaxBr
}

// SoCTemperature returns the last temperature reading, or "".
func (s *State) SoCTemperature() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sensors == nil {
		return ""
	}
	return s.sensors.SocTemperature
}

// SetMaxBitrate records a bitrate change in the cached settings.
func (s *State) SetMaxBitrate(kbps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		s.config.MaxBr = kbps
	}
}

// SetLatency records an SRT latency change in the cached settings.
func (s *State) SetLatency(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		s.config.SrtLatency = ms
	}
}

// SetAudioDelay records an audio delay change in the cached settings.
func (s *State) SetAudioDelay(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		s.config.Delay = ms
	}
}

// SetPipeline records a pipeline change in the cached settings.
func (s *State) SetPipeline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		s.config.Pipeline = id
	}
}

// SetAudioSource records an audio source change in the cached settings.
func (s *State) SetAudioSource(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		s.config.Asrc = name
	}
}

// BeginRestart arms the restart flag. It reports whether a stream was
// running (the caller must stop it before rebooting) and fails with
// ErrAlreadyRestarting while a previous restart is still in flight.
// The flag is only armed when streaming; an idle reboot needs no
// automatic re-start afterwards.
func (s *State) BeginRestart() (streaming bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restart {
		return false, belabox.ErrAlreadyRestarting
	}
	if s.isStreaming {
		s.restart = true
	}
	return s.isStreaming, nil
}

// CancelRestart disarms the restart flag after the reboot could not be
// issued, so the next status fold does not start a stream nobody asked
// for.
func (s *State) CancelRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restart = false
}

// UPSTransition folds one power state sample into the latch. changed
// is true when the state flipped; the first sample only initializes
// the latch.
func (s *State) UPSTransition(pluggedIn bool) (changed, charging bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.notifyUPS
	p := pluggedIn
	s.notifyUPS = &p
	if prev == nil || *prev == pluggedIn {
		return false, false
	}
	return true, pluggedIn
}

// UPSCharging returns the latched power state, if any sample has been
// seen.
func (s *State) UPSCharging() (charging, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notifyUPS == nil {
		return false, false
	}
	return *s.notifyUPS, true
}

// NotificationDue reports whether a notification with this name should
// be relayed to chat, and marks it as seen. Repeats within the timeout
// are suppressed.
func (s *State) NotificationDue(name string, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.notificationSeen[name]; ok && time.Since(last) < timeout {
		return false
	}
	s.notificationSeen[name] = time.Now()
	return true
}

// NetworkStatsDue reports whether a periodic connection report is due.
// Reports are only produced while streaming.
func (s *State) NetworkStatsDue(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isStreaming {
		return false
	}
	if time.Since(s.lastNetworkStats) < timeout {
		return false
	}
	s.lastNetworkStats = time.Now()
	return true
}
