package belabox

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Message is a decoded inbound appliance event. The concrete type is
// one of the variants below, determined by the envelope key the value
// arrived under.
type Message interface {
	message()
}

// Config is the appliance's current streaming configuration.
type Config struct {
	PasswordHash   string `json:"password_hash"`
	RemoteKey      string `json:"remote_key"`
	MaxBr          int    `json:"max_br"`
	Delay          int    `json:"delay"`
	Pipeline       string `json:"pipeline"`
	SrtLatency     int    `json:"srt_latency"`
	SrtStreamid    string `json:"srt_streamid"`
	SrtlaAddr      string `json:"srtla_addr"`
	SrtlaPort      string `json:"srtla_port"`
	BitrateOverlay bool   `json:"bitrate_overlay"`
	SSHPass        string `json:"ssh_pass,omitempty"`
	Asrc           string `json:"asrc"`
	Acodec         string `json:"acodec"`
}

// RemoteAuth reports the outcome of the auth/key handshake.
type RemoteAuth struct {
	OK bool
}

// RemoteEncoder reports whether the encoder is reachable from the relay.
type RemoteEncoder struct {
	Online  bool   `json:"is_encoder_online"`
	Version *int64 `json:"version"`
}

// NetifStatus is one entry of the network interface table.
type NetifStatus struct {
	IP      string `json:"ip"`
	Txb     int64  `json:"txb"`
	Tp      int64  `json:"tp"`
	Enabled bool   `json:"enabled"`
}

// NetifTable is the full interface table keyed by interface name.
type NetifTable map[string]NetifStatus

// Sensors carries the appliance's hardware sensor readings. Voltage and
// current are empty on hardware without the corresponding sensors.
type Sensors struct {
	SocVoltage     string `json:"SoC voltage"`
	SocCurrent     string `json:"SoC current"`
	SocTemperature string `json:"SoC temperature"`
}

// Status is the appliance status report. IsStreaming is nil when the
// report does not include the streaming flag.
type Status struct {
	IsStreaming *bool    `json:"is_streaming"`
	Asrcs       []string `json:"asrcs"`
}

// AudioSources is the standalone audio source catalog.
type AudioSources []string

// BitrateStatus reports the currently configured maximum bitrate.
type BitrateStatus struct {
	MaxBr int `json:"max_br"`
}

// Pipeline is one encoder pipeline. Name is "<group>/<display_name>".
type Pipeline struct {
	Acodec bool   `json:"acodec"`
	Asrc   bool   `json:"asrc"`
	Name   string `json:"name"`
}

// Pipelines is the pipeline catalog keyed by pipeline hash.
type Pipelines map[string]Pipeline

// NotificationEntry is one belaUI notification to show.
type NotificationEntry struct {
	Duration      int    `json:"duration"`
	IsDismissable bool   `json:"is_dismissable"`
	IsPersistent  bool   `json:"is_persistent"`
	Msg           string `json:"msg"`
	Name          string `json:"name"`
	Kind          string `json:"type"`
}

// Notification is a batch of notifications from belaUI.
type Notification struct {
	Show []NotificationEntry `json:"show"`
}

// WifiStatus is one wifi adapter entry. The bot does not act on wifi
// state; the variant exists so the field decodes cleanly.
type WifiStatus struct {
	Ifname string  `json:"ifname"`
	Conn   *string `json:"conn"`
}

// Wifi is the wifi adapter table keyed by device ID.
type Wifi map[string]WifiStatus

func (Config) message()        {}
func (RemoteAuth) message()    {}
func (RemoteEncoder) message() {}
func (NetifTable) message()    {}
func (Sensors) message()       {}
func (Status) message()        {}
func (AudioSources) message()  {}
func (BitrateStatus) message() {}
func (Pipelines) message()     {}
func (Notification) message()  {}
func (Wifi) message()          {}

// DecodeError reports a single envelope field that failed to decode, or
// had no registered decoder (then Err is ErrUnknownKey).
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode envelope field %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decoders maps each envelope key to its variant decoder. Dispatching
// per key means one malformed field never poisons the rest of a frame.
var decoders = map[string]func(json.RawMessage) (Message, error){
	"config": func(raw json.RawMessage) (Message, error) {
		var c Config
		return c, json.Unmarshal(raw, &c)
	},
	"remote": decodeRemote,
	"netif": func(raw json.RawMessage) (Message, error) {
		var t NetifTable
		return t, json.Unmarshal(raw, &t)
	},
	"sensors": func(raw json.RawMessage) (Message, error) {
		var s Sensors
		return s, json.Unmarshal(raw, &s)
	},
	"status": func(raw json.RawMessage) (Message, error) {
		var s Status
		return s, json.Unmarshal(raw, &s)
	},
	"asrcs": func(raw json.RawMessage) (Message, error) {
		var a AudioSources
		return a, json.Unmarshal(raw, &a)
	},
	"bitrate": func(raw json.RawMessage) (Message, error) {
		var b BitrateStatus
		return b, json.Unmarshal(raw, &b)
	},
	"pipelines": func(raw json.RawMessage) (Message, error) {
		var p Pipelines
		return p, json.Unmarshal(raw, &p)
	},
	"notification": func(raw json.RawMessage) (Message, error) {
		var n Notification
		return n, json.Unmarshal(raw, &n)
	},
	"wifi": func(raw json.RawMessage) (Message, error) {
		var w Wifi
		return w, json.Unmarshal(raw, &w)
	},
}

// decodeRemote splits the shared "remote" key into its auth-result and
// encoder-presence variants.
func decodeRemote(raw json.RawMessage) (Message, error) {
	var r struct {
		AuthKey *bool  `json:"auth/key"`
		Online  *bool  `json:"is_encoder_online"`
		Version *int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	switch {
	case r.AuthKey != nil:
		return RemoteAuth{OK: *r.AuthKey}, nil
	case r.Online != nil:
		return RemoteEncoder{Online: *r.Online, Version: r.Version}, nil
	default:
		return nil, fmt.Errorf("unrecognized remote payload")
	}
}

// Decode parses one wire frame. Every top-level key is decoded
// independently into its variant; fields that fail to decode (or have
// no decoder) are reported without aborting the others. Keys are
// processed in sorted order so field decoding is deterministic.
func Decode(frame []byte) ([]Message, []*DecodeError) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, []*DecodeError{{Err: err}}
	}

	keys := make([]string, 0, len(envelope))
	for k := range envelope {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []Message
	var errs []*DecodeError
	for _, key := range keys {
		dec, ok := decoders[key]
		if !ok {
			errs = append(errs, &DecodeError{Key: key, Err: ErrUnknownKey})
			continue
		}
		m, err := dec(envelope[key])
		if err != nil {
			errs = append(errs, &DecodeError{Key: key, Err: err})
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}
