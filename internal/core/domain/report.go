package domain

import "time"

// Report aggregates the verdicts of one injection run.
type Report struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Inject      InterfaceInfo  `json:"inject"`
	Capture     InterfaceInfo  `json:"capture"`
	Peer        string         `json:"peer,omitempty"`
	AccessPoint *AccessPoint   `json:"access_point,omitempty"`
	Verdicts    []TestVerdict  `json:"verdicts"`
	Stats       ChannelStats   `json:"stats"`
	IVReuses    []IVReuseEvent `json:"iv_reuses,omitempty"`
}

// Summary counts verdicts by outcome.
func (r *Report) Summary() map[Verdict]int {
	out := make(map[Verdict]int, 4)
	for _, v := range r.Verdicts {
		out[v.Verdict]++
	}
	return out
}

// Verdict returns the first verdict with the given probe and variant.
func (r *Report) Verdict(probe, variant string) (TestVerdict, bool) {
	for _, v := range r.Verdicts {
		if v.Probe == probe && v.Variant == variant {
			return v, true
		}
	}
	return TestVerdict{}, false
}

// AccessPoint is a nearby network found from its beacons.
type AccessPoint struct {
	BSSID     string `json:"bssid"`
	SSID      string `json:"ssid"`
	SignalDBM int8   `json:"signal_dbm"`
	Channel   int    `json:"channel,omitempty"`
	Cipher    string `json:"cipher,omitempty"`
}

// IVReuseEvent records a protected frame that repeated an earlier IV.
type IVReuseEvent struct {
	IV          uint64    `json:"iv"`
	Transmitter string    `json:"transmitter"`
	Receiver    string    `json:"receiver"`
	PreviousSeq uint16    `json:"previous_seq"`
	Seq         uint16    `json:"seq"`
	FirstSeen   time.Time `json:"first_seen"`
	SeenAt      time.Time `json:"seen_at"`
	Channel     int       `json:"channel,omitempty"`
	Cipher      string    `json:"cipher,omitempty"`

	// ApproximateIV marks TKIP traffic, whose IV is read with the CCMP
	// octet layout.
	ApproximateIV bool `json:"approximate_iv,omitempty"`
}
