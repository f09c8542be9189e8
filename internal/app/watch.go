package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/ie"
	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/injection"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	probes "github.com/lcalzada-xor/wprobe/internal/core/services/injection"
	"github.com/lcalzada-xor/wprobe/internal/core/services/ivreuse"
	"github.com/lcalzada-xor/wprobe/internal/telemetry"
)

// maxTrackedIVs bounds the engine's memory on busy channels. The engine is
// reset once it holds this many IVs.
const maxTrackedIVs = 1 << 20

// capabilityPrivacy is the Privacy bit of the beacon capability field.
const capabilityPrivacy = 0x0010

// Watch listens on iface until ctx is cancelled and reports every protected
// frame that reuses an earlier IV. Detections are logged, counted, published
// and stored.
func (app *Application) Watch(ctx context.Context, iface string) error {
	h, err := app.open(ctx, iface)
	if err != nil {
		return fmt.Errorf("open watch interface: %w", err)
	}
	ch := injection.NewMonitorChannel(h, nil, injection.WithLogger(app.logger))
	defer ch.Close()

	channel, err := app.Configurator.CurrentChannel(iface)
	if err != nil {
		app.logger.Debug("Could not read channel", "interface", iface, "error", err)
	}

	w := &watcher{
		app:     app,
		engine:  ivreuse.NewEngine(),
		ciphers: make(map[string]bssCipher),
		channel: channel,
	}
	app.logger.Info("Watching for IV reuse", "interface", iface, "channel", channel)

	for {
		if err := ctx.Err(); err != nil {
			app.logger.Info("Stopped watching", "interface", iface, "tracked", w.engine.Len(), "detections", w.detections)
			return nil
		}

		f, err := ch.Recv(app.Config.ReadTimeout, false)
		if err != nil {
			if errors.Is(err, domain.ErrChannelClosed) {
				return nil
			}
			return err
		}
		if f != nil {
			w.handle(ctx, f)
		}
	}
}

type watcher struct {
	app     *Application
	engine  *ivreuse.Engine
	ciphers map[string]bssCipher // by BSSID, from beacons
	channel int

	detections int
}

// bssCipher is the protection a BSS advertises in its beacons.
type bssCipher struct {
	name string
	tkip bool
}

func (w *watcher) handle(ctx context.Context, f *domain.Frame) {
	if f.IsBeacon() {
		w.learnCipher(f)
		return
	}
	if !f.IsEncrypted() {
		return
	}

	if w.engine.Len() >= maxTrackedIVs {
		w.app.logger.Info("IV table full, starting over", "tracked", w.engine.Len())
		w.engine.Reset()
	}

	ev, ok := probes.CheckIVReuse(w.engine, f)
	if !ok {
		return
	}
	ev.Channel = w.channel
	bss := w.cipherFor(f)
	ev.Cipher, ev.ApproximateIV = bss.name, bss.tkip
	w.detections++

	w.app.logger.Warn("IV reuse detected",
		"iv", ev.IV,
		"transmitter", ev.Transmitter,
		"receiver", ev.Receiver,
		"seq", ev.Seq,
		"previous_seq", ev.PreviousSeq,
		"cipher", ev.Cipher,
		"approximate_iv", ev.ApproximateIV,
	)
	telemetry.IVReuseDetections.WithLabelValues(cipherLabel(ev.Cipher)).Inc()
	if w.app.Publisher != nil {
		w.app.Publisher.PublishIVReuse(ev)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.app.Store.SaveIVReuse(saveCtx, ev); err != nil {
		w.app.logger.Error("Failed to store IV reuse", "error", err)
	}
}

func (w *watcher) learnCipher(f *domain.Frame) {
	if f.Addr2 == nil {
		return
	}
	privacy := len(f.Body) >= 12 && binary.LittleEndian.Uint16(f.Body[10:12])&capabilityPrivacy != 0
	bss := bssCipher{name: ie.Cipher(f.Elements, privacy)}
	if val, ok := ie.Find(f.Elements, ie.TagRSN); ok {
		if rsn, err := ie.ParseRSN(val); err == nil {
			bss.tkip = rsn.UsesTKIP()
		}
	} else {
		bss.tkip = bss.name == ie.CipherWPA
	}
	w.ciphers[f.Addr2.String()] = bss
}

// cipherFor looks the frame's BSS up among the beacons seen so far. Which
// address holds the BSSID depends on the DS bits, so all three are tried.
func (w *watcher) cipherFor(f *domain.Frame) bssCipher {
	for _, addr := range []net.HardwareAddr{f.Addr1, f.Addr2, f.Addr3} {
		if addr == nil {
			continue
		}
		if c, ok := w.ciphers[addr.String()]; ok {
			return c
		}
	}
	return bssCipher{}
}
