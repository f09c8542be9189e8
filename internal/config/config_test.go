package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// isolate keeps the default database directory out of the real home.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WPROBE_CONFIG", "")
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("wprobe", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, 64*datasize.KB, cfg.SnapLen)
	assert.Equal(t, 2*datasize.MB, cfg.BufferSize)
	assert.Equal(t, time.Second, cfg.CaptureTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.OrderTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanTimeout)
	assert.True(t, cfg.PreferRaw)
	assert.Equal(t, "wprobe.db", filepath.Base(cfg.DBPath))
	assert.Error(t, cfg.RequireInjectInterface())
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	t.Setenv("WPROBE_INJECT", "wlan0")
	t.Setenv("WPROBE_CAPTURE", "wlan1")
	t.Setenv("WPROBE_PEER", "02:00:00:00:00:aa")
	t.Setenv("WPROBE_CHANNEL", "6")
	t.Setenv("WPROBE_INJECT_MAC", "02:00:00:00:00:77")
	t.Setenv("WPROBE_DEBUG", "true")
	t.Setenv("WPROBE_BUFFER_SIZE", "4MB")
	t.Setenv("WPROBE_CAPTURE_TIMEOUT", "750ms")
	t.Setenv("WPROBE_ALLOWED_ORIGINS", "http://a.local:8080, http://b.local:8080,")
	t.Setenv("WPROBE_SCAN_TIMEOUT", "soon") // ignored

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "wlan0", cfg.InjectInterface)
	assert.Equal(t, "wlan1", cfg.CaptureInterface)
	assert.Equal(t, "02:00:00:00:00:aa", cfg.Peer)
	assert.Equal(t, 6, cfg.Channel)
	assert.Equal(t, "02:00:00:00:00:77", cfg.InjectMAC)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 4*datasize.MB, cfg.BufferSize)
	assert.Equal(t, 750*time.Millisecond, cfg.CaptureTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, []string{"http://a.local:8080", "http://b.local:8080"}, cfg.AllowedOrigins)
	assert.NoError(t, cfg.RequireInjectInterface())
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeFile(t, `
inject_interface: wlan2
capture_interface: wlan3
snaplen: 128KB
order_timeout: 2s
allowed_origins:
  - http://lab.local:8080
`)
	t.Setenv("WPROBE_INJECT", "wlan0")
	t.Setenv("WPROBE_CONFIG", path)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "wlan2", cfg.InjectInterface, "file overrides env")
	assert.Equal(t, "wlan3", cfg.CaptureInterface)
	assert.Equal(t, 128*datasize.KB, cfg.SnapLen)
	assert.Equal(t, 2*time.Second, cfg.OrderTimeout)
	assert.Equal(t, time.Second, cfg.CaptureTimeout, "absent keys keep their value")
	assert.Equal(t, []string{"http://lab.local:8080"}, cfg.AllowedOrigins)
}

func TestLoad_Flags(t *testing.T) {
	isolate(t)
	path := writeFile(t, "inject_interface: wlan2\ncapture_timeout: 3s\n")
	t.Setenv("WPROBE_PCAP", "/tmp/env.pcap")

	fs := newFlagSet(t,
		"--config", path,
		"-i", "wlan5",
		"--snaplen", "4KB",
		"--scan-timeout", "250ms",
		"--allowed-origin", "http://x.local",
		"--prefer-raw=false",
		"--inject-mac", "02:00:00:00:00:77",
	)
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "wlan5", cfg.InjectInterface, "flags override the file")
	assert.Equal(t, 3*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, "/tmp/env.pcap", cfg.PcapPath, "unset flags keep env values")
	assert.Equal(t, 4*datasize.KB, cfg.SnapLen)
	assert.Equal(t, 250*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, []string{"http://x.local"}, cfg.AllowedOrigins)
	assert.False(t, cfg.PreferRaw)
	assert.Equal(t, "02:00:00:00:00:77", cfg.InjectMAC)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(newFlagSet(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorContains(t, err, "read config")
	})

	t.Run("BadYAML", func(t *testing.T) {
		_, err := Load(newFlagSet(t, "--config", writeFile(t, "inject_interface: [")))
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("BadSizeFlag", func(t *testing.T) {
		fs := pflag.NewFlagSet("wprobe", pflag.ContinueOnError)
		fs.SetOutput(io.Discard)
		RegisterFlags(fs)
		assert.Error(t, fs.Parse([]string{"--snaplen", "lots"}))
	})
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(c *Config) { c.InjectInterface = "wlan0mon" }},
		{name: "BadInterface", mutate: func(c *Config) { c.InjectInterface = "wlan0;rm" }, wantErr: "invalid inject interface"},
		{name: "LongInterface", mutate: func(c *Config) { c.CaptureInterface = "wlan0123456789abcdef" }, wantErr: "invalid capture interface"},
		{name: "BadPeer", mutate: func(c *Config) { c.Peer = "02:00:00" }, wantErr: domain.ErrInvalidMAC.Error()},
		{name: "BadInjectMAC", mutate: func(c *Config) { c.InjectMAC = "02-00-00" }, wantErr: "inject MAC"},
		{name: "BadChannel", mutate: func(c *Config) { c.Channel = 300 }, wantErr: "invalid channel"},
		{name: "TinySnaplen", mutate: func(c *Config) { c.SnapLen = 64 }, wantErr: "too small"},
		{name: "ZeroTimeout", mutate: func(c *Config) { c.CaptureTimeout = 0 }, wantErr: "capture_timeout must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
