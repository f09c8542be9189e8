package domain

import (
	"errors"
)

// Domain Errors for network interfaces.
var (
	ErrInvalidInterfaceName = errors.New("invalid interface name")
	ErrInvalidMAC           = errors.New("invalid MAC address")
)

// InterfaceInfo describes a wireless interface taking part in a run.
type InterfaceInfo struct {
	Name    string `json:"name"`
	MAC     string `json:"mac"`
	Driver  string `json:"driver,omitempty"`
	Channel int    `json:"channel,omitempty"`
}

// ChannelStats counts what a monitor channel has seen.
type ChannelStats struct {
	FramesSent         int64 `json:"frames_sent"`
	FramesReceived     int64 `json:"frames_received"`
	DroppedInjected    int64 `json:"dropped_injected"`    // carried the self-injection mark
	DroppedReflected   int64 `json:"dropped_reflected"`   // radiotap header too short
	DroppedUndecodable int64 `json:"dropped_undecodable"` // not radiotap or not 802.11
	ErrorCount         int64 `json:"error_count"`
}

// Dropped is the number of captures discarded before reaching the caller.
func (s ChannelStats) Dropped() int64 {
	return s.DroppedInjected + s.DroppedReflected + s.DroppedUndecodable
}
