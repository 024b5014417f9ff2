// Package config — конфигурация imulink: устройство, UDP, обнаружение, логи, телеметрия,
// ретранслятор поправок, метрики и Redis. Читается из YAML (cmd/imulink) или
// распаковывается libbeat по тегам config (cmd/imubeat).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiwa/imulink/internal/logger"
)

// Config — полная конфигурация
type Config struct {
	Device    DeviceConfig     `yaml:"device" config:"device"`
	UDP       *UDPConfig       `yaml:"udp" config:"udp"`
	Discovery DiscoveryConfig  `yaml:"discovery" config:"discovery"`
	Log       logger.LogConfig `yaml:"log" config:"log"`
	Telemetry TelemetryConfig  `yaml:"telemetry" config:"telemetry"`
	Relay     RelayConfig      `yaml:"relay" config:"relay"`
	Metrics   MetricsConfig    `yaml:"metrics" config:"metrics"`
	Redis     RedisConfig      `yaml:"redis" config:"redis"`
}

// DeviceConfig — последовательные порты модуля. Пустой control_port — обнаружение.
type DeviceConfig struct {
	ControlPort string `yaml:"control_port" config:"control_port"`
	DataPort    string `yaml:"data_port" config:"data_port"`
	ControlBaud int    `yaml:"control_baud" config:"control_baud"`
	DataBaud    int    `yaml:"data_baud" config:"data_baud"`
	Driver      string `yaml:"driver" config:"driver"` // bugst или tarm
	Serial      string `yaml:"serial" config:"serial"` // принимать только модуль с этим серийным номером
	Retries     int    `yaml:"retries" config:"retries"`
	Settle      string `yaml:"settle" config:"settle"`         // пауза между командой и ответом, например "100ms"
	ResetWait   string `yaml:"reset_wait" config:"reset_wait"` // пауза вокруг RST
}

// UDPConfig — модуль в сети: удалённые порты и база локальных портов
type UDPConfig struct {
	IP           string `yaml:"ip" config:"ip"`
	DataPort     int    `yaml:"data_port" config:"data_port"`
	ControlPort  int    `yaml:"control_port" config:"control_port"`
	OdometerPort int    `yaml:"odometer_port" config:"odometer_port"`
	LocalBase    int    `yaml:"local_base" config:"local_base"`
}

// DiscoveryConfig — автоматический поиск портов
type DiscoveryConfig struct {
	Enable       bool   `yaml:"enable" config:"enable"`
	WithDataPort bool   `yaml:"with_data_port" config:"with_data_port"`
	CacheDir     string `yaml:"cache_dir" config:"cache_dir"`
	Bauds        []int  `yaml:"bauds" config:"bauds"`
}

// TelemetryConfig — задача порта данных
type TelemetryConfig struct {
	Enable              bool   `yaml:"enable" config:"enable"`
	Capture             string `yaml:"capture" config:"capture"` // файл сырого потока; пусто — без записи
	Parse               bool   `yaml:"parse" config:"parse"`
	FlushEvery          int    `yaml:"flush_every" config:"flush_every"`
	VerifyBinaryTrailer bool   `yaml:"verify_binary_trailer" config:"verify_binary_trailer"`
}

// RelayConfig — поток поправок в порт данных
type RelayConfig struct {
	Enable          bool   `yaml:"enable" config:"enable"`
	Address         string `yaml:"address" config:"address"` // host:port
	Request         string `yaml:"request" config:"request"` // отправляется сразу после соединения
	BytesPerSecond  int    `yaml:"bytes_per_second" config:"bytes_per_second"`
	Window          string `yaml:"window" config:"window"`
	RetryInterval   string `yaml:"retry_interval" config:"retry_interval"`
	InitialAttempts int    `yaml:"initial_attempts" config:"initial_attempts"`
}

// MetricsConfig — HTTP сервер Prometheus
type MetricsConfig struct {
	Enable bool `yaml:"enable" config:"enable"`
	Port   int  `yaml:"port" config:"port"`
}

// RedisConfig — публикация телеметрии
type RedisConfig struct {
	Enable   bool   `yaml:"enable" config:"enable"`
	Addr     string `yaml:"addr" config:"addr"`
	Password string `yaml:"password" config:"password"`
	DB       int    `yaml:"db" config:"db"`
	PoolSize int    `yaml:"pool_size" config:"pool_size"`
	Channel  string `yaml:"channel" config:"channel"`
	History  int    `yaml:"history" config:"history"`
}

// Default возвращает конфиг по умолчанию
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ControlBaud: 921600,
			Driver:      "bugst",
			Retries:     6,
			Settle:      "100ms",
			ResetWait:   "500ms",
		},
		Discovery: DiscoveryConfig{
			Enable:       true,
			WithDataPort: true,
			Bauds:        []int{921600, 230400, 460800, 19200, 115200, 57600},
		},
		Log: logger.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enable:     true,
			Parse:      true,
			FlushEvery: 200,
		},
		Relay: RelayConfig{
			Window:          "1s",
			RetryInterval:   "15s",
			InitialAttempts: 3,
		},
		Metrics: MetricsConfig{Port: 9100},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Channel:  "imulink:telemetry",
			History:  1000,
		},
	}
}

// Load читает конфиг из YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

// ApplyDefaults дополняет пустые поля значениями Default (для конфигов из libbeat)
func ApplyDefaults(c *Config) {
	applyDefaults(c)
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Device.ControlBaud == 0 {
		c.Device.ControlBaud = d.Device.ControlBaud
	}
	if c.Device.Driver == "" {
		c.Device.Driver = d.Device.Driver
	}
	if c.Device.Retries == 0 {
		c.Device.Retries = d.Device.Retries
	}
	if c.Device.Settle == "" {
		c.Device.Settle = d.Device.Settle
	}
	if c.Device.ResetWait == "" {
		c.Device.ResetWait = d.Device.ResetWait
	}
	if len(c.Discovery.Bauds) == 0 {
		c.Discovery.Bauds = d.Discovery.Bauds
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
	if c.Telemetry.FlushEvery == 0 {
		c.Telemetry.FlushEvery = d.Telemetry.FlushEvery
	}
	if c.Relay.Window == "" {
		c.Relay.Window = d.Relay.Window
	}
	if c.Relay.RetryInterval == "" {
		c.Relay.RetryInterval = d.Relay.RetryInterval
	}
	if c.Relay.InitialAttempts == 0 {
		c.Relay.InitialAttempts = d.Relay.InitialAttempts
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = d.Metrics.Port
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = d.Redis.PoolSize
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	if c.Redis.History == 0 {
		c.Redis.History = d.Redis.History
	}
	if c.UDP != nil && c.UDP.LocalBase == 0 {
		c.UDP.LocalBase = 8000
	}
}

// Validate проверяет согласованность блоков
func (c *Config) Validate() error {
	if c.UDP != nil {
		if c.UDP.IP == "" {
			return fmt.Errorf("udp: ip required")
		}
		if c.UDP.ControlPort == 0 {
			return fmt.Errorf("udp: control_port required")
		}
	}
	if c.UDP == nil && c.Device.ControlPort == "" && !c.Discovery.Enable {
		return fmt.Errorf("device: control_port required when discovery is disabled")
	}
	if c.Relay.Enable && c.Relay.Address == "" {
		return fmt.Errorf("relay: address required")
	}
	for _, s := range []struct{ name, v string }{
		{"device.settle", c.Device.Settle},
		{"device.reset_wait", c.Device.ResetWait},
		{"relay.window", c.Relay.Window},
		{"relay.retry_interval", c.Relay.RetryInterval},
	} {
		if s.v == "" {
			continue
		}
		if _, err := time.ParseDuration(s.v); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ParseDuration разбирает длительность из конфига; пусто или ошибка — def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
