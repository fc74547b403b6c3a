package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/715209/belabot/internal/config"
)

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-device")
	if info.Name != "test-device" {
		t.Errorf("Name = %q, want %q", info.Name, "test-device")
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "belabot-test-device" {
		t.Errorf("Identifiers = %v, want [belabot-test-device]", info.Identifiers)
	}
	if info.Manufacturer != "BELABOX" {
		t.Errorf("Manufacturer = %q, want %q", info.Manufacturer, "BELABOX")
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "studio-belabox",
		DiscoveryPrefix: "homeassistant",
	}
	p := New(cfg, nil, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "belabot/studio-belabox"},
		{"availabilityTopic", p.availabilityTopic(), "belabot/studio-belabox/availability"},
		{"stateTopic streaming", p.stateTopic("streaming"), "belabot/studio-belabox/streaming/state"},
		{"discoveryTopic binary_sensor", p.discoveryTopic("binary_sensor", "streaming"), "homeassistant/binary_sensor/studio-belabox/streaming/config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_EntityDefinitions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "studio-belabox",
		DiscoveryPrefix: "homeassistant",
		IntervalSeconds: 30,
	}
	p := New(cfg, nil, nil)

	defs := p.entityDefinitions()
	if len(defs) != 5 {
		t.Fatalf("entityDefinitions() returned %d entries, want 5", len(defs))
	}

	seen := make(map[string]bool)
	for _, d := range defs {
		if seen[d.entitySuffix] {
			t.Errorf("duplicate entity suffix %q", d.entitySuffix)
		}
		seen[d.entitySuffix] = true

		if d.config.UniqueID == "" {
			t.Errorf("%s: empty unique_id", d.entitySuffix)
		}
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s: availability topic = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
		if d.component == "binary_sensor" && (d.config.PayloadOn == "" || d.config.PayloadOff == "") {
			t.Errorf("%s: binary sensor missing payloads", d.entitySuffix)
		}

		// Discovery payloads must round-trip as JSON.
		payload, err := json.Marshal(d.config)
		if err != nil {
			t.Fatalf("%s: marshal: %v", d.entitySuffix, err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("%s: unmarshal: %v", d.entitySuffix, err)
		}
		if decoded["state_topic"] != d.config.StateTopic {
			t.Errorf("%s: state_topic = %v", d.entitySuffix, decoded["state_topic"])
		}
	}

	for _, want := range []string{"streaming", "encoder_online", "relay_connected", "max_bitrate", "soc_temperature"} {
		if !seen[want] {
			t.Errorf("missing entity %q", want)
		}
	}
}

func TestOnOff(t *testing.T) {
	if onOff(true) != "on" || onOff(false) != "off" {
		t.Error("onOff mapping wrong")
	}
}
