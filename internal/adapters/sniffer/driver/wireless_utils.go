package driver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/wifi"
	"github.com/vishvananda/netlink"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/codec"
)

// MonitorMTU leaves room for radiotap and 802.11 headers on top of a
// full-size payload.
const MonitorMTU = 2200

var (
	reChannel  = regexp.MustCompile(`channel ([0-9]+)`)
	reType     = regexp.MustCompile(`type (\w+)`)
	rePhyEntry = regexp.MustCompile(`\[([0-9]+)\]`)
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

type linkOps interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetDown(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error
}

type netlinkOps struct{}

func (netlinkOps) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (netlinkOps) LinkSetDown(link netlink.Link) error          { return netlink.LinkSetDown(link) }
func (netlinkOps) LinkSetUp(link netlink.Link) error            { return netlink.LinkSetUp(link) }
func (netlinkOps) LinkSetMTU(link netlink.Link, mtu int) error  { return netlink.LinkSetMTU(link, mtu) }
func (netlinkOps) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	return netlink.LinkSetHardwareAddr(link, hwaddr)
}

type interfaceLister interface {
	Interfaces() ([]*wifi.Interface, error)
}

// Configurator reads and changes wireless interface settings on Linux.
// Channel reads go through nl80211 when available; everything nl80211
// cannot do goes through `iw`.
type Configurator struct {
	run     CommandRunner
	links   linkOps
	nl80211 interfaceLister
	closer  io.Closer
	sysfs   string
	pause   time.Duration
	logger  *slog.Logger
}

// NewConfigurator returns a Configurator for the local machine.
func NewConfigurator(logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Configurator{
		run:    execRunner,
		links:  netlinkOps{},
		sysfs:  "/sys/class/net",
		pause:  500 * time.Millisecond,
		logger: logger,
	}
	if client, err := wifi.New(); err != nil {
		logger.Debug("nl80211 unavailable, using iw for channel reads", "error", err)
	} else {
		c.nl80211 = client
		c.closer = client
	}
	return c
}

// Close releases the nl80211 connection.
func (c *Configurator) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// CurrentChannel returns the channel iface is tuned to.
func (c *Configurator) CurrentChannel(iface string) (int, error) {
	if c.nl80211 != nil {
		ifis, err := c.nl80211.Interfaces()
		if err == nil {
			for _, ifi := range ifis {
				if ifi.Name == iface && ifi.Frequency > 0 {
					if ch := codec.FrequencyToChannel(ifi.Frequency); ch > 0 {
						return ch, nil
					}
				}
			}
		} else {
			c.logger.Debug("nl80211 interface dump failed", "error", err)
		}
	}

	out, err := c.run("iw", iface, "info")
	if err != nil {
		return 0, fmt.Errorf("iw %s info: %w (%s)", iface, err, strings.TrimSpace(string(out)))
	}
	m := reChannel.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no channel reported for %s", iface)
	}
	return strconv.Atoi(string(m[1]))
}

// SetChannel sets the WiFi channel for a given interface.
func (c *Configurator) SetChannel(iface string, channel int) error {
	if channel <= 0 {
		return fmt.Errorf("invalid channel: %d", channel)
	}
	if supported, err := c.SupportedChannels(iface); err == nil && len(supported) > 0 {
		if !slices.Contains(supported, channel) {
			return fmt.Errorf("channel %d is not supported by %s", channel, iface)
		}
	}
	if output, err := c.run("iw", iface, "set", "channel", strconv.Itoa(channel)); err != nil {
		return fmt.Errorf("failed to set channel %d on %s: %v (%s)", channel, iface, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// EnsureMonitorMode puts the interface into monitor mode unless it already
// is, then brings it up with a large MTU.
func (c *Configurator) EnsureMonitorMode(iface string) error {
	link, err := c.links.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}

	mode, err := c.interfaceType(iface)
	if err != nil {
		return err
	}
	if mode != "monitor" {
		c.logger.Info("Enabling monitor mode", "interface", iface, "current", mode)
		if err := c.links.LinkSetDown(link); err != nil {
			return fmt.Errorf("link down %s: %w", iface, err)
		}
		// Some kernels only register the monitor interface properly after
		// the type is set a second time.
		for i := 0; i < 2; i++ {
			if i > 0 {
				time.Sleep(c.pause)
			}
			if out, err := c.run("iw", iface, "set", "type", "monitor"); err != nil {
				c.logger.Error("Error setting monitor mode", "interface", iface, "output", strings.TrimSpace(string(out)))
				c.logger.Info("Hint: 'Device or resource busy' usually means another process manages the interface")
				return fmt.Errorf("set monitor mode on %s: %w", iface, err)
			}
		}
	}

	if err := c.links.LinkSetUp(link); err != nil {
		return fmt.Errorf("link up %s: %w", iface, err)
	}
	if err := c.links.LinkSetMTU(link, MonitorMTU); err != nil {
		return fmt.Errorf("set mtu on %s: %w", iface, err)
	}
	return nil
}

func (c *Configurator) interfaceType(iface string) (string, error) {
	out, err := c.run("iw", iface, "info")
	if err != nil {
		return "", fmt.Errorf("iw %s info: %w (%s)", iface, err, strings.TrimSpace(string(out)))
	}
	m := reType.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no interface type reported for %s", iface)
	}
	return string(m[1]), nil
}

// HardwareAddress works for interfaces in monitor mode too.
func (c *Configurator) HardwareAddress(iface string) (net.HardwareAddr, error) {
	link, err := c.links.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}
	return link.Attrs().HardwareAddr, nil
}

// SetHardwareAddress changes the MAC of iface, taking the link down while
// doing so.
func (c *Configurator) SetHardwareAddress(iface string, mac net.HardwareAddr) error {
	link, err := c.links.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", iface, err)
	}
	if err := c.links.LinkSetDown(link); err != nil {
		return fmt.Errorf("link down %s: %w", iface, err)
	}
	if err := c.links.LinkSetHardwareAddr(link, mac); err != nil {
		return fmt.Errorf("set address on %s: %w", iface, err)
	}
	return c.links.LinkSetUp(link)
}

// DriverName resolves /sys/class/net/<iface>/device/driver.
func (c *Configurator) DriverName(iface string) (string, bool) {
	target, err := filepath.EvalSymlinks(filepath.Join(c.sysfs, iface, "device", "driver"))
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}

// SupportedChannels lists the enabled channels of the PHY behind iface.
func (c *Configurator) SupportedChannels(iface string) ([]int, error) {
	out, err := c.run("iw", "dev")
	if err != nil {
		return nil, err
	}
	phy, err := phyForInterface(out, iface)
	if err != nil {
		return nil, err
	}
	out, err = c.run("iw", "phy", phy, "info")
	if err != nil {
		return nil, err
	}
	return phyChannels(out), nil
}

// phyForInterface finds iface in `iw dev` output:
//
//	phy#0
//		Interface wlan0
//	phy#1
//		Interface wlan1
func phyForInterface(out []byte, iface string) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	currentPhy := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "phy#") {
			currentPhy = line
		} else if line == "Interface "+iface {
			// "phy#0" -> "phy0"
			return strings.Replace(currentPhy, "#", "", 1), nil
		}
	}
	return "", fmt.Errorf("interface %s not found in iw dev output", iface)
}

// phyChannels reads the Frequencies blocks of `iw phy <phy> info`.
// Example: * 2412 MHz [1] (20.0 dBm)
func phyChannels(out []byte) []int {
	var channels []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inFrequencies := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "Frequencies:" {
			inFrequencies = true
			continue
		}
		if !inFrequencies {
			continue
		}
		// Bitrates also lists lines with "*"; the block ends at the first
		// line that is not an entry.
		if !strings.HasPrefix(line, "*") {
			inFrequencies = false
			continue
		}
		if strings.Contains(line, "(disabled)") {
			continue
		}
		if m := rePhyEntry.FindStringSubmatch(line); len(m) > 1 {
			ch, _ := strconv.Atoi(m[1])
			channels = append(channels, ch)
		}
	}
	return channels
}
