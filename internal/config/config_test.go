package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `belabox:
  remote_key: abc123
twitch:
  bot_username: BelaBot
  bot_oauth: OAUTH:Token
  channel: Some_Streamer
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(minimalYAML), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Belabox.SettleDelaySeconds != 5 {
		t.Errorf("settle_delay_seconds = %d, want 5", cfg.Belabox.SettleDelaySeconds)
	}
	if !cfg.Belabox.Monitor.Modems {
		t.Error("monitor.modems should default to true")
	}
	if cfg.Belabox.Monitor.NotificationTimeoutSec != 600 {
		t.Errorf("notification_timeout_sec = %d, want 600", cfg.Belabox.Monitor.NotificationTimeoutSec)
	}
	if cfg.MQTT.DeviceName != "belabox" {
		t.Errorf("mqtt.device_name = %q, want %q", cfg.MQTT.DeviceName, "belabox")
	}
}

func TestLoad_NormalizesCase(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+"  admins: [\" AdminOne \", \"ADMINTWO\"]\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Twitch.BotUsername != "belabot" {
		t.Errorf("bot_username = %q, want lowercase", cfg.Twitch.BotUsername)
	}
	if cfg.Twitch.Channel != "some_streamer" {
		t.Errorf("channel = %q, want lowercase", cfg.Twitch.Channel)
	}
	want := []string{"adminone", "admintwo"}
	for i, a := range cfg.Twitch.Admins {
		if a != want[i] {
			t.Errorf("admins[%d] = %q, want %q", i, a, want[i])
		}
	}
}

func TestLoad_DefaultCommands(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	start, ok := cfg.Commands[CmdStart]
	if !ok {
		t.Fatal("start command missing")
	}
	if start.Command != "!bbstart" || start.Permission != PermissionBroadcaster {
		t.Errorf("start = %+v, want !bbstart/broadcaster", start)
	}
	stats := cfg.Commands[CmdStats]
	if stats.Permission != PermissionPublic {
		t.Errorf("stats permission = %q, want public", stats.Permission)
	}
}

func TestLoad_CommandOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+"commands:\n  bitrate:\n    command: \"!BR\"\n    permission: moderator\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	br := cfg.Commands[CmdBitrate]
	if br.Command != "!br" {
		t.Errorf("bitrate command = %q, want lowercased override", br.Command)
	}
	if br.Permission != PermissionModerator {
		t.Errorf("bitrate permission = %q, want moderator", br.Permission)
	}
	// Unrelated defaults still present.
	if _, ok := cfg.Commands[CmdStop]; !ok {
		t.Error("stop command default missing after partial override")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "belabox:\n  remote_key: abc\n"))
	if err == nil {
		t.Fatal("Load should reject config without twitch credentials")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BELABOT_TEST_KEY", "secret123")
	cfg, err := Load(writeConfig(t, "belabox:\n  remote_key: ${BELABOT_TEST_KEY}\ntwitch:\n  bot_username: b\n  bot_oauth: t\n  channel: c\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Belabox.RemoteKey != "secret123" {
		t.Errorf("remote_key = %q, want %q", cfg.Belabox.RemoteKey, "secret123")
	}
}
