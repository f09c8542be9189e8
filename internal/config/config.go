package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	// InjectInterface is the monitor-mode interface frames are sent from.
	InjectInterface string `yaml:"inject_interface"`
	// CaptureInterface is an optional second monitor-mode interface that
	// receives the injected frames. Empty captures on InjectInterface.
	CaptureInterface string `yaml:"capture_interface"`
	// Peer is an optional station or AP used by the real-address probes.
	Peer string `yaml:"peer"`
	// Channel tunes both interfaces before a run. 0 keeps the current one.
	Channel int `yaml:"channel"`
	// SetupMonitor switches the interfaces to monitor mode before opening them.
	SetupMonitor bool `yaml:"setup_monitor"`
	// InjectMAC replaces the hardware address of InjectInterface before a run.
	InjectMAC string `yaml:"inject_mac"`

	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DBPath         string   `yaml:"db"`
	PcapPath       string   `yaml:"pcap"`
	TracePath      string   `yaml:"trace"`
	Debug          bool     `yaml:"debug"`

	PreferRaw   bool              `yaml:"prefer_raw"`
	SnapLen     datasize.ByteSize `yaml:"snaplen"`
	BufferSize  datasize.ByteSize `yaml:"buffer_size"`
	ReadTimeout time.Duration     `yaml:"read_timeout"`
	// OpenTimeout bounds the retries when an interface cannot be opened yet.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	OrderTimeout   time.Duration `yaml:"order_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
}

// DefaultConfig returns the values used when nothing else is configured.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "127.0.0.1:8080",
		DBPath:         getDefaultDBPath(),
		PreferRaw:      true,
		SnapLen:        64 * datasize.KB,
		BufferSize:     2 * datasize.MB,
		ReadTimeout:    50 * time.Millisecond,
		OpenTimeout:    10 * time.Second,
		CaptureTimeout: time.Second,
		OrderTimeout:   1500 * time.Millisecond,
		ScanTimeout:    500 * time.Millisecond,
	}
}

// RegisterFlags defines the configuration flags on fs. Flag values only
// override the other sources when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.StringP("inject", "i", d.InjectInterface, "Monitor-mode interface to inject on")
	fs.StringP("capture", "c", d.CaptureInterface, "Second monitor-mode interface to capture on (default: the inject interface)")
	fs.StringP("peer", "p", d.Peer, "MAC address of a nearby station or AP")
	fs.Int("channel", d.Channel, "Tune the interfaces to this channel before testing (0 keeps the current one)")
	fs.Bool("setup-monitor", d.SetupMonitor, "Put the interfaces in monitor mode before opening them")
	fs.String("inject-mac", d.InjectMAC, "Set this MAC address on the inject interface before testing")
	fs.String("addr", d.Addr, "HTTP server address")
	fs.StringSlice("allowed-origin", d.AllowedOrigins, "Origins allowed to open the event WebSocket")
	fs.String("db", d.DBPath, "Path to SQLite database")
	fs.String("pcap", d.PcapPath, "Path to save PCAP file (empty to disable)")
	fs.String("trace", d.TracePath, "Write OpenTelemetry spans to this file (empty to disable)")
	fs.Bool("debug", d.Debug, "Enable verbose debug logging")
	fs.Bool("prefer-raw", d.PreferRaw, "Use AF_PACKET sockets when available instead of pcap")
	fs.Var(newSizeValue(d.SnapLen), "snaplen", "Capture snapshot length")
	fs.Var(newSizeValue(d.BufferSize), "buffer-size", "Kernel capture buffer size")
	fs.Duration("read-timeout", d.ReadTimeout, "Capture poll interval")
	fs.Duration("open-timeout", d.OpenTimeout, "How long to retry opening an interface")
	fs.Duration("capture-timeout", d.CaptureTimeout, "How long each probe waits for its frames")
	fs.Duration("order-timeout", d.OrderTimeout, "How long the ordering probe waits for its frames")
	fs.Duration("scan-timeout", d.ScanTimeout, "How long to listen for beacons")
}

// Load builds the configuration from defaults, then WPROBE_* environment
// variables, then the YAML file named by --config or WPROBE_CONFIG, then the
// flags set on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnv()

	path := getEnv("WPROBE_CONFIG", "")
	if fs != nil && fs.Changed("config") {
		path, _ = fs.GetString("config")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.InjectInterface = getEnv("WPROBE_INJECT", c.InjectInterface)
	c.CaptureInterface = getEnv("WPROBE_CAPTURE", c.CaptureInterface)
	c.Peer = getEnv("WPROBE_PEER", c.Peer)
	c.Channel = getEnvInt("WPROBE_CHANNEL", c.Channel)
	c.SetupMonitor = getEnvBool("WPROBE_SETUP_MONITOR", c.SetupMonitor)
	c.InjectMAC = getEnv("WPROBE_INJECT_MAC", c.InjectMAC)
	c.Addr = getEnv("WPROBE_ADDR", c.Addr)
	if origins, ok := os.LookupEnv("WPROBE_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = parseList(origins)
	}
	c.DBPath = getEnv("WPROBE_DB", c.DBPath)
	c.PcapPath = getEnv("WPROBE_PCAP", c.PcapPath)
	c.TracePath = getEnv("WPROBE_TRACE", c.TracePath)
	c.Debug = getEnvBool("WPROBE_DEBUG", c.Debug)
	c.PreferRaw = getEnvBool("WPROBE_PREFER_RAW", c.PreferRaw)
	c.SnapLen = getEnvSize("WPROBE_SNAPLEN", c.SnapLen)
	c.BufferSize = getEnvSize("WPROBE_BUFFER_SIZE", c.BufferSize)
	c.ReadTimeout = getEnvDuration("WPROBE_READ_TIMEOUT", c.ReadTimeout)
	c.OpenTimeout = getEnvDuration("WPROBE_OPEN_TIMEOUT", c.OpenTimeout)
	c.CaptureTimeout = getEnvDuration("WPROBE_CAPTURE_TIMEOUT", c.CaptureTimeout)
	c.OrderTimeout = getEnvDuration("WPROBE_ORDER_TIMEOUT", c.OrderTimeout)
	c.ScanTimeout = getEnvDuration("WPROBE_SCAN_TIMEOUT", c.ScanTimeout)
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, err := fs.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	duration := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, err := fs.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	size := func(name string, dst *datasize.ByteSize) {
		if fs.Changed(name) {
			*dst = fs.Lookup(name).Value.(*sizeValue).size
		}
	}

	str("inject", &c.InjectInterface)
	str("capture", &c.CaptureInterface)
	str("peer", &c.Peer)
	if fs.Changed("channel") {
		v, err := fs.GetInt("channel")
		errs = append(errs, err)
		c.Channel = v
	}
	boolean("setup-monitor", &c.SetupMonitor)
	str("inject-mac", &c.InjectMAC)
	str("addr", &c.Addr)
	if fs.Changed("allowed-origin") {
		v, err := fs.GetStringSlice("allowed-origin")
		errs = append(errs, err)
		c.AllowedOrigins = v
	}
	str("db", &c.DBPath)
	str("pcap", &c.PcapPath)
	str("trace", &c.TracePath)
	boolean("debug", &c.Debug)
	boolean("prefer-raw", &c.PreferRaw)
	size("snaplen", &c.SnapLen)
	size("buffer-size", &c.BufferSize)
	duration("read-timeout", &c.ReadTimeout)
	duration("open-timeout", &c.OpenTimeout)
	duration("capture-timeout", &c.CaptureTimeout)
	duration("order-timeout", &c.OrderTimeout)
	duration("scan-timeout", &c.ScanTimeout)
	return errors.Join(errs...)
}

// Validate checks interface names, the peer address and the timeouts.
func (c *Config) Validate() error {
	var errs []error
	if c.InjectInterface != "" && !domain.IsValidInterface(c.InjectInterface) {
		errs = append(errs, fmt.Errorf("invalid inject interface %q", c.InjectInterface))
	}
	if c.CaptureInterface != "" && !domain.IsValidInterface(c.CaptureInterface) {
		errs = append(errs, fmt.Errorf("invalid capture interface %q", c.CaptureInterface))
	}
	if c.Peer != "" && !domain.IsValidMAC(c.Peer) {
		errs = append(errs, fmt.Errorf("%w: peer %q", domain.ErrInvalidMAC, c.Peer))
	}
	if c.InjectMAC != "" && !domain.IsValidMAC(c.InjectMAC) {
		errs = append(errs, fmt.Errorf("%w: inject MAC %q", domain.ErrInvalidMAC, c.InjectMAC))
	}
	if c.Channel < 0 || c.Channel > 196 {
		errs = append(errs, fmt.Errorf("invalid channel %d", c.Channel))
	}
	if c.SnapLen < 256 {
		errs = append(errs, fmt.Errorf("snaplen %s is too small", c.SnapLen.HR()))
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":    c.ReadTimeout,
		"capture_timeout": c.CaptureTimeout,
		"order_timeout":   c.OrderTimeout,
		"scan_timeout":    c.ScanTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// RequireInjectInterface reports a usable error for commands that need a radio.
func (c *Config) RequireInjectInterface() error {
	if c.InjectInterface == "" {
		return errors.New("no inject interface configured (use --inject or WPROBE_INJECT)")
	}
	return nil
}

// sizeValue adapts datasize.ByteSize to pflag.Value.
type sizeValue struct {
	size datasize.ByteSize
}

func newSizeValue(v datasize.ByteSize) *sizeValue {
	return &sizeValue{size: v}
}

func (s *sizeValue) String() string { return s.size.String() }

func (s *sizeValue) Set(v string) error {
	return s.size.UnmarshalText([]byte(v))
}

func (s *sizeValue) Type() string { return "size" }

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSize(key string, fallback datasize.ByteSize) datasize.ByteSize {
	if value, ok := os.LookupEnv(key); ok {
		var s datasize.ByteSize
		if err := s.UnmarshalText([]byte(value)); err == nil {
			return s
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Could not get user home directory, using current dir", "error", err)
		return "wprobe.db"
	}

	dir := filepath.Join(home, ".wprobe")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Could not create .wprobe directory, using current dir", "error", err)
		return "wprobe.db"
	}

	return filepath.Join(dir, "wprobe.db")
}
