package belabox

import "encoding/json"

// remoteProtocolVersion is the auth protocol version expected by the relay.
const remoteProtocolVersion = 6

// Request is an outbound intent for the appliance. Each request
// serializes to a JSON object with exactly one key naming the intent;
// the no-argument forms (stop, keepalive) carry a null payload.
type Request interface {
	// envelope returns the single envelope key and its payload.
	envelope() (key string, payload any)
}

// Encode serializes a request into its wire frame.
func Encode(r Request) ([]byte, error) {
	key, payload := r.envelope()
	return json.Marshal(map[string]any{key: payload})
}

// Start asks the appliance to begin streaming with a full configuration.
type Start struct {
	Pipeline       string `json:"pipeline"`
	Delay          int    `json:"delay"`
	MaxBr          int    `json:"max_br"`
	SrtlaAddr      string `json:"srtla_addr"`
	SrtlaPort      string `json:"srtla_port"`
	SrtStreamid    string `json:"srt_streamid"`
	SrtLatency     int    `json:"srt_latency"`
	BitrateOverlay bool   `json:"bitrate_overlay"`
	Asrc           string `json:"asrc"`
	Acodec         string `json:"acodec"`
}

func (s Start) envelope() (string, any) { return "start", s }

// StartFromConfig builds a start request from a configuration snapshot.
func StartFromConfig(c Config) Start {
	return Start{
		Pipeline:       c.Pipeline,
		Delay:          c.Delay,
		MaxBr:          c.MaxBr,
		SrtlaAddr:      c.SrtlaAddr,
		SrtlaPort:      c.SrtlaPort,
		SrtStreamid:    c.SrtStreamid,
		SrtLatency:     c.SrtLatency,
		BitrateOverlay: c.BitrateOverlay,
		Asrc:           c.Asrc,
		Acodec:         c.Acodec,
	}
}

// Stop asks the appliance to stop streaming.
type Stop struct{}

func (Stop) envelope() (string, any) { return "stop", nil }

// Keepalive is the periodic liveness frame.
type Keepalive struct{}

func (Keepalive) envelope() (string, any) { return "keepalive", nil }

// Bitrate changes the maximum video bitrate in kbps.
type Bitrate struct {
	MaxBr int `json:"max_br"`
}

func (b Bitrate) envelope() (string, any) { return "bitrate", b }

// Netif enables or disables a network interface.
type Netif struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Enabled bool   `json:"enabled"`
}

func (n Netif) envelope() (string, any) { return "netif", n }

// Command is a bare appliance command.
type Command string

const (
	CommandReboot   Command = "reboot"
	CommandPoweroff Command = "poweroff"
)

func (c Command) envelope() (string, any) { return "command", string(c) }

// AuthKey authenticates the session with the remote key. It is always
// the first frame sent on a new connection.
type AuthKey struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
}

func (a AuthKey) envelope() (string, any) {
	return "remote", struct {
		AuthKey AuthKey `json:"auth/key"`
	}{a}
}
