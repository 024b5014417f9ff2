package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imulink.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  control_port: /dev/ttyUSB3
  data_port: /dev/ttyUSB0
relay:
  enable: true
  address: caster.local:2101
  bytes_per_second: 2000
log:
  level: debug
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Device.ControlPort != "/dev/ttyUSB3" || c.Device.DataPort != "/dev/ttyUSB0" {
		t.Errorf("device %+v", c.Device)
	}
	if c.Device.ControlBaud != 921600 || c.Device.Driver != "bugst" || c.Device.Retries != 6 {
		t.Errorf("device defaults %+v", c.Device)
	}
	if c.Relay.RetryInterval != "15s" || c.Relay.InitialAttempts != 3 || c.Relay.BytesPerSecond != 2000 {
		t.Errorf("relay %+v", c.Relay)
	}
	if c.Log.Level != "debug" || c.Log.Format != "text" {
		t.Errorf("log %+v", c.Log)
	}
	if len(c.Discovery.Bauds) != 6 || c.Discovery.Bauds[0] != 921600 {
		t.Errorf("bauds %v", c.Discovery.Bauds)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadUDP(t *testing.T) {
	path := writeConfig(t, `
udp:
  ip: 192.168.1.111
  data_port: 1111
  control_port: 2222
  odometer_port: 3333
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.UDP == nil || c.UDP.ControlPort != 2222 || c.UDP.LocalBase != 8000 {
		t.Errorf("udp %+v", c.UDP)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "device: [")); err == nil {
		t.Error("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"no port without discovery", func(c *Config) { c.Discovery.Enable = false }, false},
		{"explicit port", func(c *Config) { c.Discovery.Enable = false; c.Device.ControlPort = "COM6" }, true},
		{"udp without ip", func(c *Config) { c.UDP = &UDPConfig{ControlPort: 2222} }, false},
		{"relay without address", func(c *Config) { c.Relay.Enable = true }, false},
		{"bad duration", func(c *Config) { c.Relay.RetryInterval = "soon" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"15s", 15 * time.Second},
		{"100ms", 100 * time.Millisecond},
		{"invalid", time.Second},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in, time.Second); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
