// Package fragment splits a payload into 802.11 fragments.
package fragment

import (
	"fmt"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// MaxFragments is the largest count the 4-bit fragment number can address.
const MaxFragments = 16

// Build splits payload into count fragments that share header's addresses,
// type and sequence number. Fragment i carries fragment number i and the
// more-fragments flag is set on all fragments except the last. The last
// fragment may be shorter than the others, or empty.
func Build(header domain.Frame, payload []byte, count int) ([]domain.Frame, error) {
	if count < 1 || count > MaxFragments {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidFragmentCount, count)
	}

	size := (len(payload) + count - 1) / count
	seq := header.SequenceNumber()

	frags := make([]domain.Frame, 0, count)
	for i := 0; i < count; i++ {
		start := min(i*size, len(payload))
		end := min(start+size, len(payload))

		f := header.Clone()
		f.Encrypted = nil
		f.Raw = nil
		f.Body = append([]byte(nil), payload[start:end]...)
		f.SetSequence(seq, uint8(i))
		if i < count-1 {
			f.Flags |= domain.FlagMoreFragments
		} else {
			f.Flags &^= domain.FlagMoreFragments
		}
		frags = append(frags, f)
	}
	return frags, nil
}
