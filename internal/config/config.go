package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// SimulatedRotator is one device the simulator backend reports during a scan.
type SimulatedRotator struct {
	ID   string `yaml:"id"` // generated when empty
	Name string `yaml:"name"`
}

// SimulatorConfig scripts the in-process rotator SDK.
type SimulatorConfig struct {
	Rotators       []SimulatedRotator `yaml:"rotators"`
	DiscoveryMs    int                `yaml:"discovery_ms"`     // delay before each rotator is reported
	ConnectDelayMs int                `yaml:"connect_delay_ms"` // delay before connect outcome
	FailConnect    bool               `yaml:"fail_connect"`     // every connect attempt fails
	ScanError      string             `yaml:"scan_error"`       // e.g. "bluetooth_off"; empty = scans succeed
	Battery        int                `yaml:"battery"`
	Firmware       string             `yaml:"firmware"`
}

// BLEConfig configures the Bluetooth LE backend.
type BLEConfig struct {
	NamePrefix         string `yaml:"name_prefix"`          // only advertisements whose name starts with this are reported
	CommandService     string `yaml:"command_service"`      // UUID of the motion service
	CommandChar        string `yaml:"command_char"`         // UUID of the write-without-response motion characteristic
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"` // consecutive connect failures before fast-failing
	BreakerTimeoutS    int    `yaml:"breaker_timeout_s"`    // open-state duration
}

// SDKConfig selects and configures the rotator SDK backend.
type SDKConfig struct {
	Backend   string          `yaml:"backend"` // "simulator" or "ble"
	Simulator SimulatorConfig `yaml:"simulator"`
	BLE       BLEConfig       `yaml:"ble"`
}

// ScanConfig holds discovery parameters.
type ScanConfig struct {
	TimeoutMs    int    `yaml:"timeout_ms"`    // scan window once scanning started
	WarmUpMs     int    `yaml:"warmup_ms"`     // delay between scan request and radio scan
	StopOnFirst  bool   `yaml:"stop_on_first"` // end the session on the first discovery
	SingleResult string `yaml:"single_result"` // "auto_connect" or "report"
	OnStart      bool   `yaml:"on_start"`      // run one discovery right after start-up
	Schedule     string `yaml:"schedule"`      // cron spec for rediscovery while idle; empty = off
}

// MotionConfig holds command defaults and limits.
type MotionConfig struct {
	DefaultSpeed      int     `yaml:"default_speed"`
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	Burst             int     `yaml:"burst"`
}

// PanelConfig describes the optional push-button and LED wired to the Pi.
type PanelConfig struct {
	Enabled    bool `yaml:"enabled"`
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	ButtonPin  int  `yaml:"button_pin"`  // BCM pin, active LOW with pull-up
	LEDPin     int  `yaml:"led_pin"`     // BCM pin, 0 = no LED
	PollMs     int  `yaml:"poll_ms"`     // button sampling period
	DebounceMs int  `yaml:"debounce_ms"` // level must be stable this long
}

// WebConfig holds settings for the HTTP control surface.
type WebConfig struct {
	MDNS         bool   `yaml:"mdns"`
	InstanceName string `yaml:"instance_name"`
}

// LoggingConfig holds debug output settings.
type LoggingConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	Format     string `yaml:"format"`      // "text" or "json"
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Config aggregates all application configuration.
type Config struct {
	SDK     SDKConfig     `yaml:"sdk"`
	Scan    ScanConfig    `yaml:"scan"`
	Motion  MotionConfig  `yaml:"motion"`
	Panel   PanelConfig   `yaml:"panel"`
	Web     WebConfig     `yaml:"web"`
	Logging LoggingConfig `yaml:"logging"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// Backend names.
const (
	BackendSimulator = "simulator"
	BackendBLE       = "ble"
)

// Single-result policies.
const (
	SingleAutoConnect = "auto_connect"
	SingleReport      = "report"
)

// ValidateConfigPath accepts only *.yaml files whose parent directory is named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path must not contain '..': %s", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 64 << 10

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.fill(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fill() error {
	switch c.SDK.Backend {
	case "":
		c.SDK.Backend = BackendSimulator
	case BackendSimulator, BackendBLE:
	default:
		return fmt.Errorf("sdk.backend must be %q or %q, got %q", BackendSimulator, BackendBLE, c.SDK.Backend)
	}

	sim := &c.SDK.Simulator
	if sim.DiscoveryMs <= 0 {
		sim.DiscoveryMs = 300
	}
	if sim.ConnectDelayMs <= 0 {
		sim.ConnectDelayMs = 500
	}
	if sim.Battery <= 0 {
		sim.Battery = 100
	}
	if sim.Battery > 100 {
		return fmt.Errorf("sdk.simulator.battery must be <= 100, got %d", sim.Battery)
	}
	if sim.Firmware == "" {
		sim.Firmware = "sim-1.0"
	}

	ble := &c.SDK.BLE
	if ble.NamePrefix == "" {
		ble.NamePrefix = "Pivo"
	}
	if ble.BreakerMaxFailures == 0 {
		ble.BreakerMaxFailures = 3
	}
	if ble.BreakerTimeoutS <= 0 {
		ble.BreakerTimeoutS = 30
	}
	if c.SDK.Backend == BackendBLE && (ble.CommandService == "" || ble.CommandChar == "") {
		return fmt.Errorf("sdk.ble.command_service and sdk.ble.command_char are required for the ble backend")
	}

	if c.Scan.TimeoutMs <= 0 {
		c.Scan.TimeoutMs = 5000 // 5s scan window
	}
	if c.Scan.WarmUpMs < 0 {
		return fmt.Errorf("scan.warmup_ms must be >= 0, got %d", c.Scan.WarmUpMs)
	}
	switch c.Scan.SingleResult {
	case "":
		c.Scan.SingleResult = SingleAutoConnect
	case SingleAutoConnect, SingleReport:
	default:
		return fmt.Errorf("scan.single_result must be %q or %q, got %q", SingleAutoConnect, SingleReport, c.Scan.SingleResult)
	}
	if c.Scan.Schedule != "" {
		if _, err := cron.ParseStandard(c.Scan.Schedule); err != nil {
			return fmt.Errorf("scan.schedule: %w", err)
		}
	}

	if c.Motion.DefaultSpeed <= 0 {
		c.Motion.DefaultSpeed = 10
	}
	if c.Motion.DefaultSpeed > 200 {
		return fmt.Errorf("motion.default_speed must be <= 200, got %d", c.Motion.DefaultSpeed)
	}
	if c.Motion.CommandsPerSecond <= 0 {
		c.Motion.CommandsPerSecond = 10
	}
	if c.Motion.Burst <= 0 {
		c.Motion.Burst = 5
	}

	if c.Panel.Enabled && c.Panel.ButtonPin <= 0 {
		return fmt.Errorf("panel.button_pin is required when the panel is enabled")
	}
	if c.Panel.PollMs <= 0 {
		c.Panel.PollMs = 20
	}
	if c.Panel.DebounceMs <= 0 {
		c.Panel.DebounceMs = 50
	}

	if c.Web.InstanceName == "" {
		c.Web.InstanceName = "RotaGo"
	}

	if c.Logging.DebugLevel < 0 || c.Logging.DebugLevel > 4 {
		return fmt.Errorf("logging.debug_level must be between 0 and 4, got %d", c.Logging.DebugLevel)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Tracer.Exporter == "" {
		c.Tracer.Exporter = "noop"
	}
	return nil
}

// ScanTimeout returns the scan window duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutMs) * time.Millisecond
}

// ScanWarmUp returns the delay before the radio scan starts.
func (c *Config) ScanWarmUp() time.Duration {
	return time.Duration(c.Scan.WarmUpMs) * time.Millisecond
}

// PanelPoll returns the button sampling period.
func (c *Config) PanelPoll() time.Duration {
	return time.Duration(c.Panel.PollMs) * time.Millisecond
}

// PanelDebounce returns how long a button level must hold before it counts.
func (c *Config) PanelDebounce() time.Duration {
	return time.Duration(c.Panel.DebounceMs) * time.Millisecond
}

// SimulatorDiscovery returns the delay between simulated discoveries.
func (c *Config) SimulatorDiscovery() time.Duration {
	return time.Duration(c.SDK.Simulator.DiscoveryMs) * time.Millisecond
}

// SimulatorConnectDelay returns the simulated connect latency.
func (c *Config) SimulatorConnectDelay() time.Duration {
	return time.Duration(c.SDK.Simulator.ConnectDelayMs) * time.Millisecond
}

// BreakerTimeout returns how long the BLE connect breaker stays open.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.SDK.BLE.BreakerTimeoutS) * time.Second
}
