// Package config handles belabot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/belabot/config.yaml, /etc/belabot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "belabot", "config.yaml"))
	}

	paths = append(paths, "/etc/belabot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all belabot configuration.
type Config struct {
	Belabox   BelaboxConfig              `yaml:"belabox"`
	Twitch    TwitchConfig               `yaml:"twitch"`
	MQTT      MQTTConfig                 `yaml:"mqtt"`
	Commands  map[BotCommand]CommandInfo `yaml:"commands"`
	LogLevel  string                     `yaml:"log_level"`
	LogFormat string                     `yaml:"log_format"`
}

// BelaboxConfig defines the BELABOX Cloud session settings.
type BelaboxConfig struct {
	// RemoteKey is the key from the cloud.belabox.net remote URL (?key=...).
	RemoteKey string `yaml:"remote_key"`
	// Endpoint overrides the relay URL. Empty means the production relay.
	Endpoint string `yaml:"endpoint"`
	// CustomInterfaceName maps an interface name or IP address to a
	// friendly alias shown in chat and accepted by the network command.
	CustomInterfaceName map[string]string `yaml:"custom_interface_name"`
	// SettleDelaySeconds is the pause between stopping the stream and
	// re-starting it when a setting change requires a restart. The
	// encoder needs a moment to release the pipeline.
	SettleDelaySeconds int           `yaml:"settle_delay_seconds"`
	Monitor            MonitorConfig `yaml:"monitor"`
}

// MonitorConfig toggles the automatic chat notices.
type MonitorConfig struct {
	// Modems announces network interfaces appearing or disappearing.
	Modems bool `yaml:"modems"`
	// Notifications relays encoder notifications to chat. Repeats of
	// the same notification are suppressed for NotificationTimeoutSec.
	Notifications          bool `yaml:"notifications"`
	NotificationTimeoutSec int  `yaml:"notification_timeout_sec"`
	// Network posts periodic per-interface stats while streaming.
	Network           bool `yaml:"network"`
	NetworkTimeoutSec int  `yaml:"network_timeout_sec"`
	// UPS announces power state changes derived from the SoC voltage.
	UPS          bool    `yaml:"ups"`
	UPSPluggedIn float64 `yaml:"ups_plugged_in"`
}

// TwitchConfig defines the chat connection settings.
type TwitchConfig struct {
	BotUsername string `yaml:"bot_username"`
	BotOauth    string `yaml:"bot_oauth"`
	Channel     string `yaml:"channel"`
	// Admins are chat users granted broadcaster-level permissions.
	Admins []string `yaml:"admins"`
}

// MQTTConfig defines the optional encoder-state publisher. Publishing
// is enabled when Broker is non-empty.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// BotCommand identifies one bot operation that can be bound to a chat
// trigger word.
type BotCommand string

const (
	CmdStart       BotCommand = "start"
	CmdStop        BotCommand = "stop"
	CmdStats       BotCommand = "stats"
	CmdRestart     BotCommand = "restart"
	CmdPoweroff    BotCommand = "poweroff"
	CmdBitrate     BotCommand = "bitrate"
	CmdSensor      BotCommand = "sensor"
	CmdNetwork     BotCommand = "network"
	CmdLatency     BotCommand = "latency"
	CmdAudioDelay  BotCommand = "audio_delay"
	CmdPipeline    BotCommand = "pipeline"
	CmdAudioSource BotCommand = "audio_source"
)

// Permission is the minimum chat role allowed to run a command.
type Permission string

const (
	PermissionBroadcaster Permission = "broadcaster"
	PermissionModerator   Permission = "moderator"
	PermissionVip         Permission = "vip"
	PermissionPublic      Permission = "public"
)

// CommandInfo binds a chat trigger word to a permission tier.
type CommandInfo struct {
	Command    string     `yaml:"command"`
	Permission Permission `yaml:"permission"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded, defaults are applied for anything unset, and
// the required settings are validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	normalize(cfg)
	defaultChatCommands(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no
// credentials set.
func Default() *Config {
	return &Config{
		Belabox: BelaboxConfig{
			SettleDelaySeconds: 5,
			Monitor: MonitorConfig{
				Modems:                 true,
				Notifications:          true,
				NotificationTimeoutSec: 600,
				NetworkTimeoutSec:      1800,
				UPSPluggedIn:           5.1,
			},
		},
		MQTT: MQTTConfig{
			DeviceName:      "belabox",
			DiscoveryPrefix: "homeassistant",
			IntervalSeconds: 30,
		},
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var missing []string
	if c.Belabox.RemoteKey == "" {
		missing = append(missing, "belabox.remote_key")
	}
	if c.Twitch.BotUsername == "" {
		missing = append(missing, "twitch.bot_username")
	}
	if c.Twitch.BotOauth == "" {
		missing = append(missing, "twitch.bot_oauth")
	}
	if c.Twitch.Channel == "" {
		missing = append(missing, "twitch.channel")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// normalize lowercases values that are matched case-insensitively at
// runtime: Twitch logins, the channel, admin names, and chat triggers.
func normalize(c *Config) {
	c.Twitch.BotUsername = strings.ToLower(c.Twitch.BotUsername)
	c.Twitch.BotOauth = strings.ToLower(c.Twitch.BotOauth)
	c.Twitch.Channel = strings.ToLower(c.Twitch.Channel)
	for i, a := range c.Twitch.Admins {
		c.Twitch.Admins[i] = strings.ToLower(strings.TrimSpace(a))
	}
	for cmd, info := range c.Commands {
		info.Command = strings.ToLower(info.Command)
		c.Commands[cmd] = info
	}
}

// defaultChatCommands fills in the default trigger and permission for
// every command the user has not remapped.
func defaultChatCommands(c *Config) {
	if c.Commands == nil {
		c.Commands = make(map[BotCommand]CommandInfo)
	}
	defaults := map[BotCommand]CommandInfo{
		CmdStart:       {Command: "!bbstart", Permission: PermissionBroadcaster},
		CmdStop:        {Command: "!bbstop", Permission: PermissionBroadcaster},
		CmdStats:       {Command: "!bbs", Permission: PermissionPublic},
		CmdRestart:     {Command: "!bbrs", Permission: PermissionBroadcaster},
		CmdPoweroff:    {Command: "!bbpo", Permission: PermissionBroadcaster},
		CmdBitrate:     {Command: "!bbb", Permission: PermissionBroadcaster},
		CmdSensor:      {Command: "!bbsensor", Permission: PermissionPublic},
		CmdNetwork:     {Command: "!bbt", Permission: PermissionBroadcaster},
		CmdLatency:     {Command: "!bbl", Permission: PermissionBroadcaster},
		CmdAudioDelay:  {Command: "!bbd", Permission: PermissionBroadcaster},
		CmdPipeline:    {Command: "!bbp", Permission: PermissionBroadcaster},
		CmdAudioSource: {Command: "!bba", Permission: PermissionBroadcaster},
	}
	for cmd, info := range defaults {
		if _, ok := c.Commands[cmd]; !ok {
			c.Commands[cmd] = info
		}
	}
}
