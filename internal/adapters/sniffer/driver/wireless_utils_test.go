package driver

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mdlayher/wifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

const iwInfoManaged = `Interface wlan0
	ifindex 4
	wdev 0x1
	addr 02:00:00:00:01:00
	type managed
	wiphy 0
	channel 11 (2462 MHz), width: 20 MHz (no HT), center1: 2462 MHz
	txpower 20.00 dBm
`

const iwInfoMonitor = `Interface wlan1
	ifindex 5
	type monitor
	wiphy 1
`

const iwDev = `phy#1
	Interface wlan1
		ifindex 5
		type monitor
phy#0
	Interface wlan0
		ifindex 4
		type managed
`

const iwPhyInfo = `Wiphy phy0
	Band 1:
		Bitrates (non-HT):
			* 1.0 Mbps
			* 2.0 Mbps (short preamble supported)
		Frequencies:
			* 2412 MHz [1] (20.0 dBm)
			* 2437 MHz [6] (20.0 dBm)
			* 2462 MHz [11] (20.0 dBm)
			* 2484 MHz [14] (disabled)
	Band 2:
		Frequencies:
			* 5180 MHz [36] (22.0 dBm) (no IR)
		valid interface combinations:
`

type fakeRunner struct {
	outputs map[string]string
	fail    map[string]bool
	calls   []string
}

func (f *fakeRunner) run(name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)
	if f.fail[cmd] {
		return []byte("command failed"), errors.New("exit status 1")
	}
	return []byte(f.outputs[cmd]), nil
}

type fakeLinks struct {
	links  map[string]*netlink.Dummy
	events []string
}

func (f *fakeLinks) LinkByName(name string) (netlink.Link, error) {
	l, ok := f.links[name]
	if !ok {
		return nil, errors.New("Link not found")
	}
	return l, nil
}

func (f *fakeLinks) LinkSetDown(link netlink.Link) error {
	f.events = append(f.events, "down "+link.Attrs().Name)
	return nil
}

func (f *fakeLinks) LinkSetUp(link netlink.Link) error {
	f.events = append(f.events, "up "+link.Attrs().Name)
	return nil
}

func (f *fakeLinks) LinkSetMTU(link netlink.Link, mtu int) error {
	f.events = append(f.events, "mtu "+link.Attrs().Name)
	link.Attrs().MTU = mtu
	return nil
}

func (f *fakeLinks) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	f.events = append(f.events, "addr "+link.Attrs().Name)
	link.Attrs().HardwareAddr = hwaddr
	return nil
}

type fakeNL80211 struct {
	ifis []*wifi.Interface
	err  error
}

func (f *fakeNL80211) Interfaces() ([]*wifi.Interface, error) { return f.ifis, f.err }

func newTestConfigurator(t *testing.T) (*Configurator, *fakeRunner, *fakeLinks) {
	t.Helper()
	runner := &fakeRunner{
		outputs: map[string]string{
			"iw wlan0 info":    iwInfoManaged,
			"iw wlan1 info":    iwInfoMonitor,
			"iw dev":           iwDev,
			"iw phy phy0 info": iwPhyInfo,
			"iw phy phy1 info": iwPhyInfo,
		},
		fail: map[string]bool{},
	}
	links := &fakeLinks{links: map[string]*netlink.Dummy{
		"wlan0": {LinkAttrs: netlink.LinkAttrs{Name: "wlan0", HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0x01, 0}}},
		"wlan1": {LinkAttrs: netlink.LinkAttrs{Name: "wlan1", HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0x02, 0}}},
	}}
	c := &Configurator{
		run:    runner.run,
		links:  links,
		sysfs:  t.TempDir(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return c, runner, links
}

func TestCurrentChannel(t *testing.T) {
	t.Run("FromIw", func(t *testing.T) {
		c, _, _ := newTestConfigurator(t)
		ch, err := c.CurrentChannel("wlan0")
		require.NoError(t, err)
		assert.Equal(t, 11, ch)

		_, err = c.CurrentChannel("wlan1")
		assert.Error(t, err)
	})

	t.Run("FromNL80211", func(t *testing.T) {
		c, runner, _ := newTestConfigurator(t)
		c.nl80211 = &fakeNL80211{ifis: []*wifi.Interface{
			{Name: "wlan1", Frequency: 5180},
		}}
		ch, err := c.CurrentChannel("wlan1")
		require.NoError(t, err)
		assert.Equal(t, 36, ch)
		assert.Empty(t, runner.calls)
	})

	t.Run("NL80211Failure", func(t *testing.T) {
		c, _, _ := newTestConfigurator(t)
		c.nl80211 = &fakeNL80211{err: errors.New("no genetlink family")}
		ch, err := c.CurrentChannel("wlan0")
		require.NoError(t, err)
		assert.Equal(t, 11, ch)
	})
}

func TestSetChannel(t *testing.T) {
	c, runner, _ := newTestConfigurator(t)

	require.NoError(t, c.SetChannel("wlan0", 6))
	assert.Contains(t, runner.calls, "iw wlan0 set channel 6")

	assert.ErrorContains(t, c.SetChannel("wlan0", 14), "not supported")
	assert.ErrorContains(t, c.SetChannel("wlan0", 0), "invalid channel")

	runner.fail["iw wlan0 set channel 1"] = true
	assert.ErrorContains(t, c.SetChannel("wlan0", 1), "command failed")
}

func TestEnsureMonitorMode(t *testing.T) {
	t.Run("Managed", func(t *testing.T) {
		c, runner, links := newTestConfigurator(t)
		require.NoError(t, c.EnsureMonitorMode("wlan0"))

		var typeCalls int
		for _, call := range runner.calls {
			if call == "iw wlan0 set type monitor" {
				typeCalls++
			}
		}
		assert.Equal(t, 2, typeCalls)
		assert.Equal(t, []string{"down wlan0", "up wlan0", "mtu wlan0"}, links.events)
		assert.Equal(t, MonitorMTU, links.links["wlan0"].MTU)
	})

	t.Run("AlreadyMonitor", func(t *testing.T) {
		c, runner, links := newTestConfigurator(t)
		require.NoError(t, c.EnsureMonitorMode("wlan1"))
		assert.NotContains(t, runner.calls, "iw wlan1 set type monitor")
		assert.Equal(t, []string{"up wlan1", "mtu wlan1"}, links.events)
	})

	t.Run("Busy", func(t *testing.T) {
		c, runner, _ := newTestConfigurator(t)
		runner.fail["iw wlan0 set type monitor"] = true
		assert.Error(t, c.EnsureMonitorMode("wlan0"))
	})

	t.Run("Missing", func(t *testing.T) {
		c, _, _ := newTestConfigurator(t)
		assert.ErrorContains(t, c.EnsureMonitorMode("wlan9"), "not found")
	})
}

func TestHardwareAddress(t *testing.T) {
	c, _, links := newTestConfigurator(t)

	mac, err := c.HardwareAddress("wlan1")
	require.NoError(t, err)
	assert.Equal(t, "02:00:00:00:02:00", mac.String())

	newMAC := net.HardwareAddr{0x02, 0xAA, 0, 0, 0, 0x01}
	require.NoError(t, c.SetHardwareAddress("wlan1", newMAC))
	assert.Equal(t, []string{"down wlan1", "addr wlan1", "up wlan1"}, links.events)

	mac, err = c.HardwareAddress("wlan1")
	require.NoError(t, err)
	assert.Equal(t, newMAC, mac)
}

func TestDriverName(t *testing.T) {
	c, _, _ := newTestConfigurator(t)

	driverDir := filepath.Join(c.sysfs, "bus", "pci", "drivers", "iwlwifi")
	require.NoError(t, os.MkdirAll(driverDir, 0o755))
	deviceDir := filepath.Join(c.sysfs, "wlan0", "device")
	require.NoError(t, os.MkdirAll(deviceDir, 0o755))
	require.NoError(t, os.Symlink(driverDir, filepath.Join(deviceDir, "driver")))

	name, ok := c.DriverName("wlan0")
	assert.True(t, ok)
	assert.Equal(t, "iwlwifi", name)

	_, ok = c.DriverName("wlan1")
	assert.False(t, ok)
}

func TestSupportedChannels(t *testing.T) {
	c, _, _ := newTestConfigurator(t)
	channels, err := c.SupportedChannels("wlan0")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6, 11, 36}, channels)

	_, err = c.SupportedChannels("wlan7")
	assert.Error(t, err)
}

func TestPhyForInterface(t *testing.T) {
	phy, err := phyForInterface([]byte(iwDev), "wlan1")
	require.NoError(t, err)
	assert.Equal(t, "phy1", phy)
}
