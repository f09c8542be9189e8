// Package ie decodes 802.11 information element chains.
package ie

import (
	"bytes"
	"errors"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// Common IE Tags
const (
	TagSSID           = 0
	TagDSParameterSet = 3
	TagRSN            = 48
	TagVendorSpecific = 221 // 0xDD
)

// Errors
var (
	ErrMalformedIE = errors.New("malformed information element")
	ErrIENotFound  = errors.New("information element not found")
)

var wpaOUI = []byte{0x00, 0x50, 0xF2, 0x01}

// CipherWPA is what Cipher reports for a WPA1 vendor element.
const CipherWPA = "WPA/TKIP"

// SSID represents a Service Set Identifier
type SSID struct {
	Value  string
	Hidden bool
}

// String returns the string representation of the SSID
func (s SSID) String() string {
	if s.Hidden {
		return "<HIDDEN>"
	}
	return s.Value
}

// IterateIEs calls the provided callback for each valid IE found in the data.
// It stops at the first element whose length exceeds the remaining data and
// reports ErrMalformedIE in that case.
func IterateIEs(data []byte, callback func(id uint8, data []byte)) error {
	offset := 0
	limit := len(data)

	for offset < limit {
		// Needs at least 2 bytes (ID and Length)
		if offset+2 > limit {
			return ErrMalformedIE
		}

		id := data[offset]
		length := int(data[offset+1])
		offset += 2

		if offset+length > limit {
			return ErrMalformedIE
		}

		callback(id, data[offset:offset+length])
		offset += length
	}
	return nil
}

// Parse splits an element chain. Elements decoded before a malformed one
// are returned together with the error.
func Parse(data []byte) ([]domain.Element, error) {
	var out []domain.Element
	err := IterateIEs(data, func(id uint8, val []byte) {
		out = append(out, domain.Element{ID: id, Info: val})
	})
	return out, err
}

// Find returns the info of the first element with the given ID.
func Find(elems []domain.Element, id uint8) ([]byte, bool) {
	for _, e := range elems {
		if e.ID == id {
			return e.Info, true
		}
	}
	return nil, false
}

// ParseSSID extracts the SSID from a decoded element chain.
func ParseSSID(elems []domain.Element) SSID {
	val, ok := Find(elems, TagSSID)
	if !ok {
		return SSID{Hidden: true}
	}
	// Some devices hide the SSID by zeroing it instead of omitting it.
	if len(bytes.Trim(val, "\x00")) == 0 {
		return SSID{Hidden: true}
	}
	return SSID{Value: safeString(val)}
}

// ParseChannel extracts the channel from the DS Parameter Set (Tag 3).
func ParseChannel(elems []domain.Element) (int, error) {
	val, ok := Find(elems, TagDSParameterSet)
	if ok && len(val) >= 1 {
		return int(val[0]), nil
	}
	return 0, ErrIENotFound
}

// ParseVendorSpecific returns a list of all Vendor Specific IEs (Tag 221).
func ParseVendorSpecific(elems []domain.Element) [][]byte {
	var results [][]byte
	for _, e := range elems {
		if e.ID == TagVendorSpecific {
			results = append(results, e.Info)
		}
	}
	return results
}

// Cipher names the protection a beacon advertises: the RSN pairwise
// cipher, the WPA1 vendor element, or WEP when only the privacy bit is set.
func Cipher(elems []domain.Element, privacy bool) string {
	if val, ok := Find(elems, TagRSN); ok {
		if rsn, err := ParseRSN(val); err == nil {
			return "WPA2/" + rsn.PrimaryCipher()
		}
	}
	for _, v := range ParseVendorSpecific(elems) {
		if bytes.HasPrefix(v, wpaOUI) {
			return CipherWPA
		}
	}
	if privacy {
		return "WEP"
	}
	return "OPEN"
}

func safeString(b []byte) string {
	out := make([]rune, 0, len(b))
	for _, c := range string(b) {
		if c < 0x20 || c == 0x7f {
			c = '.'
		}
		out = append(out, c)
	}
	return string(out)
}
