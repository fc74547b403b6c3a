package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/715209/belabot/internal/config"
)

// StateSource provides the encoder state published to the broker. The
// concrete adapter is wired in main to avoid coupling this package to
// the session or the bot loop.
type StateSource interface {
	// Connected reports whether the relay websocket is up.
	Connected() bool
	// Online reports whether the encoder is reachable via the relay.
	Online() bool
	// Streaming reports whether a stream is running.
	Streaming() bool
	// MaxBitrate returns the configured bitrate cap in kbps, or 0 when
	// no config snapshot has been received.
	MaxBitrate() int
	// SoCTemperature returns the last temperature reading, or "".
	SoCTemperature() string
}

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and runs a periodic loop that pushes
// encoder state updates to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	state  StateSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, state StateSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.DeviceName),
		state:  state,
		logger: logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "belabot-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "belabot/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component    string
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) entityDefinitions() []entityDef {
	avail := p.availabilityTopic()
	id := "belabot-" + p.cfg.DeviceName
	return []entityDef{
		{
			component:    "binary_sensor",
			entitySuffix: "streaming",
			config: SensorConfig{
				Name:              p.device.Name + " Streaming",
				UniqueID:          id + "_streaming",
				StateTopic:        p.stateTopic("streaming"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:broadcast",
				DeviceClass:       "running",
				PayloadOn:         "on",
				PayloadOff:        "off",
			},
		},
		{
			component:    "binary_sensor",
			entitySuffix: "encoder_online",
			config: SensorConfig{
				Name:              p.device.Name + " Encoder Online",
				UniqueID:          id + "_encoder_online",
				StateTopic:        p.stateTopic("encoder_online"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:video-wireless",
				DeviceClass:       "connectivity",
				PayloadOn:         "on",
				PayloadOff:        "off",
			},
		},
		{
			component:    "binary_sensor",
			entitySuffix: "relay_connected",
			config: SensorConfig{
				Name:              p.device.Name + " Relay Connected",
				UniqueID:          id + "_relay_connected",
				StateTopic:        p.stateTopic("relay_connected"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:cloud-check",
				DeviceClass:       "connectivity",
				EntityCategory:    "diagnostic",
				PayloadOn:         "on",
				PayloadOff:        "off",
			},
		},
		{
			component:    "sensor",
			entitySuffix: "max_bitrate",
			config: SensorConfig{
				Name:              p.device.Name + " Max Bitrate",
				UniqueID:          id + "_max_bitrate",
				StateTopic:        p.stateTopic("max_bitrate"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:speedometer",
				StateClass:        "measurement",
				UnitOfMeasurement: "kbit/s",
			},
		},
		{
			component:    "sensor",
			entitySuffix: "soc_temperature",
			config: SensorConfig{
				Name:              p.device.Name + " SoC Temperature",
				UniqueID:          id + "_soc_temperature",
				StateTopic:        p.stateTopic("soc_temperature"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:thermometer",
				EntityCategory:    "diagnostic",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, e := range p.entityDefinitions() {
		topic := p.discoveryTopic(e.component, e.entitySuffix)
		payload, err := json.Marshal(e.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", e.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", e.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", e.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := map[string]string{
		"streaming":       onOff(p.state.Streaming()),
		"encoder_online":  onOff(p.state.Online()),
		"relay_connected": onOff(p.state.Connected()),
		"max_bitrate":     strconv.Itoa(p.state.MaxBitrate()),
	}
	if temp := p.state.SoCTemperature(); temp != "" {
		states["soc_temperature"] = temp
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt encoder states published",
		"entities", len(states))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
