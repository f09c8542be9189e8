// Package capture dumps the packets crossing a monitor channel to a pcap
// file that Wireshark and aircrack-ng can open.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Recorder writes radiotap packets to a pcap stream. It is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  int
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer, snapLen uint32) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	// LinkType 127 is DLT_IEEE802_11_RADIO (Radiotap)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeIEEE80211Radio); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r := &Recorder{w: pw}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create opens path for writing and returns a Recorder on it.
func Create(path string, snapLen uint32) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating pcap file %s: %w", path, err)
	}
	r, err := NewRecorder(f, snapLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// WritePacket appends one packet.
func (r *Recorder) WritePacket(ts time.Time, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	r.count++
	return nil
}

// Count is the number of packets written so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
