//go:build !linux

package injection

import (
	"errors"
	"time"
)

var errRawUnsupported = errors.New("raw injection only supported on linux")

// RawTransport is unavailable outside Linux.
type RawTransport struct{}

func NewRawTransport(iface string, opts Options) (*RawTransport, error) {
	return nil, errRawUnsupported
}

func (r *RawTransport) Send([]byte) error                       { return errRawUnsupported }
func (r *RawTransport) Receive(time.Duration) (*Capture, error) { return nil, errRawUnsupported }
func (r *RawTransport) Name() string                            { return "" }
func (r *RawTransport) Close() error                            { return nil }
