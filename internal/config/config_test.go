package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

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
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

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

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  enabled: true\n  broker: tcp://localhost:1883\n  password: ${BLOCKPROCD_TEST_PASSWORD}\n"), 0600)
	os.Setenv("BLOCKPROCD_TEST_PASSWORD", "secret123")
	defer os.Unsetenv("BLOCKPROCD_TEST_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("mqtt.password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_ProcessName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("process:\n  name: lathe\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Process.Name != "lathe" {
		t.Errorf("process.name = %q, want %q", cfg.Process.Name, "lathe")
	}
}

func TestLoad_Remotes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`remotes:
  - name: spindle
    url: ws://spindle.local:8008/ws
  - name: feeder
    transport: mqtt
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Remotes) != 2 {
		t.Fatalf("len(Remotes) = %d, want 2", len(cfg.Remotes))
	}
	if cfg.Remotes[0].Transport != "ws" {
		t.Errorf("remotes[0].transport = %q, want %q (default)", cfg.Remotes[0].Transport, "ws")
	}
	if cfg.Remotes[1].Transport != "mqtt" {
		t.Errorf("remotes[1].transport = %q, want %q", cfg.Remotes[1].Transport, "mqtt")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("{}\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Process.Name != "blockproc" {
		t.Errorf("process.name = %q, want default %q", cfg.Process.Name, "blockproc")
	}
	if cfg.Listen.Port != 8008 {
		t.Errorf("listen.port = %d, want default 8008", cfg.Listen.Port)
	}
	if cfg.MQTT.Prefix != cfg.Process.Name {
		t.Errorf("mqtt.prefix = %q, want it to default to process.name %q", cfg.MQTT.Prefix, cfg.Process.Name)
	}
}

func TestValidate_ListenPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range listen.port")
	} else if !strings.Contains(err.Error(), "listen.port") {
		t.Errorf("error = %v, want it to mention listen.port", err)
	}
}

func TestValidate_AutocertRequiresHosts(t *testing.T) {
	cfg := Default()
	cfg.Autocert.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for autocert.enabled with no hosts")
	} else if !strings.Contains(err.Error(), "autocert") {
		t.Errorf("error = %v, want it to mention autocert", err)
	}
}

func TestValidate_MQTTRequiresBroker(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for mqtt.enabled with no broker")
	} else if !strings.Contains(err.Error(), "mqtt.broker") {
		t.Errorf("error = %v, want it to mention mqtt.broker", err)
	}
}

func TestValidate_RemoteRequiresName(t *testing.T) {
	cfg := Default()
	cfg.Remotes = []RemoteConfig{{Transport: "ws", URL: "ws://x/ws"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for remote with no name")
	} else if !strings.Contains(err.Error(), "name") {
		t.Errorf("error = %v, want it to mention name", err)
	}
}

func TestValidate_WSRemoteRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Remotes = []RemoteConfig{{Name: "spindle", Transport: "ws"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ws remote with no url")
	} else if !strings.Contains(err.Error(), "url") {
		t.Errorf("error = %v, want it to mention url", err)
	}
}

func TestValidate_MQTTRemoteRequiresMQTTEnabled(t *testing.T) {
	cfg := Default()
	cfg.Remotes = []RemoteConfig{{Name: "feeder", Transport: "mqtt"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for mqtt remote when mqtt is not enabled")
	} else if !strings.Contains(err.Error(), "mqtt.enabled") {
		t.Errorf("error = %v, want it to mention mqtt.enabled", err)
	}
}

func TestValidate_UnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Remotes = []RemoteConfig{{Name: "feeder", Transport: "carrier-pigeon"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown transport")
	} else if !strings.Contains(err.Error(), "transport") {
		t.Errorf("error = %v, want it to mention transport", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "deafening"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() config should validate: %v", err)
	}
}
