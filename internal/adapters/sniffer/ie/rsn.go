package ie

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRSN is returned for an RSN element without a version field.
var ErrShortRSN = errors.New("RSN IE too short")

// RSNInfo is the decoded body of an RSN element (ID 48).
type RSNInfo struct {
	Version         uint16
	GroupCipher     string
	PairwiseCiphers []string
	AKMSuites       []string
	Capabilities    RSNCapabilities
}

// RSNCapabilities holds the capability bits that matter for IV handling.
type RSNCapabilities struct {
	Raw         uint16
	PreAuth     bool
	MFPRequired bool
	MFPCapable  bool
}

// Suite selector types under the 00-0F-AC OUI.
var (
	cipherSuites = map[byte]string{
		1:  "WEP-40",
		2:  "TKIP",
		4:  "CCMP",
		5:  "WEP-104",
		8:  "GCMP-128",
		9:  "GCMP-256",
		10: "CCMP-256",
	}
	akmSuites = map[byte]string{
		1:  "802.1X",
		2:  "PSK",
		3:  "FT-802.1X",
		4:  "FT-PSK",
		5:  "802.1X-SHA256",
		6:  "PSK-SHA256",
		8:  "SAE",
		9:  "FT-SAE",
		18: "OWE",
	}
)

// cipherRank orders ciphers from weakest to strongest.
var cipherRank = map[string]int{
	"WEP-40":   1,
	"WEP-104":  2,
	"TKIP":     3,
	"CCMP":     4,
	"GCMP-128": 5,
	"CCMP-256": 6,
	"GCMP-256": 7,
}

// suiteReader walks the fixed-then-counted layout of an RSN body. Every
// field after the version is optional; reads past the end yield nothing.
type suiteReader struct {
	data []byte
	off  int
}

func (r *suiteReader) uint16() (uint16, bool) {
	if r.off+2 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, true
}

func (r *suiteReader) suite(names map[byte]string) (string, bool) {
	if r.off+4 > len(r.data) {
		return "", false
	}
	typ := r.data[r.off+3]
	r.off += 4
	if name, ok := names[typ]; ok {
		return name, true
	}
	return fmt.Sprintf("UNKNOWN(%d)", typ), true
}

func (r *suiteReader) list(names map[byte]string) []string {
	n, ok := r.uint16()
	if !ok {
		return nil
	}
	var out []string
	for i := 0; i < int(n); i++ {
		s, ok := r.suite(names)
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// ParseRSN decodes an RSN element body. Truncated bodies yield the fields
// read so far.
func ParseRSN(data []byte) (*RSNInfo, error) {
	r := &suiteReader{data: data}
	version, ok := r.uint16()
	if !ok {
		return nil, ErrShortRSN
	}

	rsn := &RSNInfo{Version: version}
	rsn.GroupCipher, _ = r.suite(cipherSuites)
	rsn.PairwiseCiphers = r.list(cipherSuites)
	rsn.AKMSuites = r.list(akmSuites)
	if caps, ok := r.uint16(); ok {
		rsn.Capabilities = RSNCapabilities{
			Raw:         caps,
			PreAuth:     caps&0x0001 != 0,
			MFPRequired: caps&0x0040 != 0,
			MFPCapable:  caps&0x0080 != 0,
		}
	}
	return rsn, nil
}

// PrimaryCipher is the strongest pairwise cipher, falling back to the group
// cipher when no pairwise list is present.
func (r *RSNInfo) PrimaryCipher() string {
	best := ""
	for _, c := range r.PairwiseCiphers {
		if cipherRank[c] > cipherRank[best] {
			best = c
		}
	}
	if best == "" {
		best = r.GroupCipher
	}
	if best == "" {
		return "UNKNOWN"
	}
	return best
}

// UsesTKIP reports whether any advertised cipher derives IVs the TKIP way.
func (r *RSNInfo) UsesTKIP() bool {
	if r.GroupCipher == "TKIP" {
		return true
	}
	for _, c := range r.PairwiseCiphers {
		if c == "TKIP" {
			return true
		}
	}
	return false
}
