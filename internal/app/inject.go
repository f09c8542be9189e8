package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/capture"
	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/injection"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
	probes "github.com/lcalzada-xor/wprobe/internal/core/services/injection"
	"github.com/lcalzada-xor/wprobe/internal/core/services/ivreuse"
	"github.com/lcalzada-xor/wprobe/internal/telemetry"
)

// fragmentFlushDrivers hold back fragments until another frame is queued.
var fragmentFlushDrivers = map[string]bool{
	"iwlwifi": true,
}

var _ ports.InjectionTester = (*Application)(nil)

// RunInjectionTest runs the probe battery, injecting on injectIface and
// capturing on captureIface (or injectIface when empty). peer is an
// optional MAC used by the real-address probes.
//
// The report is stored before it is returned. When ctx is cancelled mid-run
// the partial report is returned together with the context error.
func (app *Application) RunInjectionTest(ctx context.Context, injectIface, captureIface, peer string) (*domain.Report, error) {
	if !app.running.TryLock() {
		return nil, domain.ErrTestInProgress
	}
	defer app.running.Unlock()

	if captureIface == injectIface {
		captureIface = ""
	}
	var peerMAC net.HardwareAddr
	if peer != "" {
		var err error
		if peerMAC, err = domain.ParseMAC(peer); err != nil {
			return nil, err
		}
	}

	ifaces := []string{injectIface}
	if captureIface != "" {
		ifaces = append(ifaces, captureIface)
	}
	if err := app.prepareInterfaces(ifaces); err != nil {
		return nil, err
	}

	report := &domain.Report{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Peer:      peer,
	}
	injectInfo, ownMAC, err := app.describe(injectIface)
	if err != nil {
		return nil, err
	}
	report.Inject = injectInfo
	report.Capture = injectInfo
	if captureIface != "" {
		if report.Capture, _, err = app.describe(captureIface); err != nil {
			return nil, err
		}
	}

	ch, closeCh, err := app.openChannel(ctx, injectIface, captureIface, injectInfo.Driver)
	if err != nil {
		return nil, err
	}
	defer closeCh()

	app.logger.Info("Starting injection test",
		"id", report.ID,
		"inject", injectIface,
		"capture", report.Capture.Name,
		"driver", injectInfo.Driver,
		"channel", injectInfo.Channel,
	)

	opts := []probes.Option{
		probes.WithLogger(app.logger.With("run", report.ID)),
		probes.WithIVEngine(ivreuse.NewEngine()),
	}
	if app.Publisher != nil {
		opts = append(opts, probes.WithPublisher(app.Publisher))
	}
	orch := probes.New(ch, injection.EAPOLBuilder{}, app.probeConfig(), opts...)

	res, runErr := orch.Run(ctx, probes.Target{Own: ownMAC, Peer: peerMAC})

	report.FinishedAt = time.Now()
	report.Verdicts = res.Verdicts
	report.AccessPoint = res.AccessPoint
	report.IVReuses = res.IVReuses
	report.Stats = ch.Stats()

	for _, v := range report.Verdicts {
		telemetry.ProbeVerdicts.WithLabelValues(v.Probe, string(v.Verdict)).Inc()
	}
	for _, ev := range report.IVReuses {
		telemetry.IVReuseDetections.WithLabelValues(cipherLabel(ev.Cipher)).Inc()
	}

	// Store with a fresh context so interrupted runs are kept too.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := app.Store.SaveReport(saveCtx, report); err != nil {
		app.logger.Error("Failed to store report", "id", report.ID, "error", err)
	}

	app.logger.Info("Injection test finished", "id", report.ID, "verdicts", len(report.Verdicts), "duration", report.FinishedAt.Sub(report.StartedAt))
	return report, runErr
}

// prepareInterfaces applies the monitor mode and channel settings, and the
// configured MAC address to the inject interface, ifaces[0].
func (app *Application) prepareInterfaces(ifaces []string) error {
	for i, iface := range ifaces {
		if !domain.IsValidInterface(iface) {
			return fmt.Errorf("%w: %q", domain.ErrInvalidInterfaceName, iface)
		}
		if i == 0 && app.Config.InjectMAC != "" {
			mac, err := domain.ParseMAC(app.Config.InjectMAC)
			if err != nil {
				return err
			}
			if err := app.Configurator.SetHardwareAddress(iface, mac); err != nil {
				return fmt.Errorf("set MAC address on %s: %w", iface, err)
			}
			app.logger.Info("Changed MAC address", "interface", iface, "mac", mac)
		}
		if app.Config.SetupMonitor {
			if err := app.Configurator.EnsureMonitorMode(iface); err != nil {
				return err
			}
		}
		if app.Config.Channel > 0 {
			if err := app.Configurator.SetChannel(iface, app.Config.Channel); err != nil {
				return err
			}
		}
	}
	return nil
}

// describe collects what the report shows about an interface. Only the
// hardware address is required.
func (app *Application) describe(iface string) (domain.InterfaceInfo, net.HardwareAddr, error) {
	info := domain.InterfaceInfo{Name: iface}

	mac, err := app.Configurator.HardwareAddress(iface)
	if err != nil {
		return info, nil, err
	}
	info.MAC = mac.String()

	if name, ok := app.Configurator.DriverName(iface); ok {
		info.Driver = name
	}
	if ch, err := app.Configurator.CurrentChannel(iface); err == nil {
		info.Channel = ch
	} else {
		app.logger.Debug("Could not read channel", "interface", iface, "error", err)
	}
	return info, mac, nil
}

// openChannel opens the capture handle first so nothing sent is missed.
func (app *Application) openChannel(ctx context.Context, injectIface, captureIface, driverName string) (*injection.MonitorChannel, func(), error) {
	var captureHandle injection.Handle
	if captureIface != "" {
		h, err := app.open(ctx, captureIface)
		if err != nil {
			return nil, nil, fmt.Errorf("open capture interface: %w", err)
		}
		captureHandle = h
	}

	injectHandle, err := app.open(ctx, injectIface)
	if err != nil {
		if captureHandle != nil {
			captureHandle.Close()
		}
		return nil, nil, fmt.Errorf("open inject interface: %w", err)
	}

	opts := []injection.ChannelOption{injection.WithLogger(app.logger)}
	if fragmentFlushDrivers[driverName] {
		app.logger.Info("Driver holds back fragments, flushing with dummy frames", "driver", driverName)
		opts = append(opts, injection.WithFragmentFlush())
	}

	var rec *capture.Recorder
	if app.Config.PcapPath != "" {
		rec, err = capture.Create(app.Config.PcapPath, uint32(app.Config.SnapLen.Bytes()))
		if err != nil {
			app.logger.Warn("Could not create pcap dump", "path", app.Config.PcapPath, "error", err)
		} else {
			opts = append(opts, injection.WithRecorder(rec))
		}
	}

	ch := injection.NewMonitorChannel(injectHandle, captureHandle, opts...)
	closeFn := func() {
		if err := ch.Close(); err != nil {
			app.logger.Warn("Failed to close monitor channel", "error", err)
		}
		if rec != nil {
			if err := rec.Close(); err != nil {
				app.logger.Warn("Failed to close pcap dump", "error", err)
			} else {
				app.logger.Info("Saved capture", "path", app.Config.PcapPath, "packets", rec.Count())
			}
		}
	}
	return ch, closeFn, nil
}

func (app *Application) probeConfig() probes.Config {
	cfg := probes.DefaultConfig()
	cfg.CaptureTimeout = app.Config.CaptureTimeout
	cfg.OrderTimeout = app.Config.OrderTimeout
	cfg.ScanTimeout = app.Config.ScanTimeout
	return cfg
}

func cipherLabel(c string) string {
	if c == "" {
		return "unknown"
	}
	return c
}
