package ivreuse

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// protectedFrame returns a CCMP-style frame whose IV decodes to iv.
func protectedFrame(iv uint64, seq uint16, at time.Time) *domain.Frame {
	hdr := make([]byte, 8)
	hdr[0] = byte(iv)
	hdr[1] = byte(iv >> 8)
	hdr[3] = 0x20
	binary.BigEndian.PutUint32(hdr[4:], uint32(iv>>16))
	f := &domain.Frame{
		Kind:      domain.KindDataProtected,
		Type:      domain.TypeData,
		Flags:     domain.FlagProtected,
		Body:      append(hdr, 0xde, 0xad, 0xbe, 0xef),
		Timestamp: at,
	}
	f.SetSequence(seq, 0)
	return f
}

func TestProtectedFrameHelper(t *testing.T) {
	f := protectedFrame(0x0102_0304_0506, 1, t0)
	iv, err := f.IV()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102_0304_0506), iv)
}

func TestEngine_Retransmission(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Track(protectedFrame(42, 100, t0)))

	// Same IV, same sequence number: a retransmission, however late.
	reused, err := e.IsReused(protectedFrame(42, 100, t0.Add(5*time.Second)))
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestEngine_TooSoon(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Track(protectedFrame(42, 100, t0)))

	reused, err := e.IsReused(protectedFrame(42, 101, t0.Add(999*time.Millisecond)))
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestEngine_Reuse(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Track(protectedFrame(42, 100, t0)))

	reused, err := e.IsReused(protectedFrame(42, 250, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.True(t, reused, "exactly one second later counts")

	reused, err = e.IsReused(protectedFrame(43, 250, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, reused, "untracked IV")
}

func TestEngine_TrackUpserts(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Track(protectedFrame(7, 1, t0)))
	require.NoError(t, e.Track(protectedFrame(7, 2, t0.Add(3*time.Second))))
	assert.Equal(t, 1, e.Len())

	// Compared against the latest record, not the first one.
	reused, err := e.IsReused(protectedFrame(7, 1, t0.Add(3500*time.Millisecond)))
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestEngine_IsNew(t *testing.T) {
	e := NewEngine()

	isNew, err := e.IsNew(protectedFrame(1, 0, t0))
	require.NoError(t, err)
	assert.True(t, isNew, "empty engine")

	for _, iv := range []uint64{5, 9, 3} {
		require.NoError(t, e.Track(protectedFrame(iv, uint16(iv), t0)))
	}

	isNew, err = e.IsNew(protectedFrame(10, 0, t0))
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = e.IsNew(protectedFrame(7, 0, t0))
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestEngine_Plaintext(t *testing.T) {
	e := NewEngine()
	plain := &domain.Frame{Kind: domain.KindDataPlaintext, Body: []byte{1, 2, 3}}

	assert.ErrorIs(t, e.Track(plain), domain.ErrPlaintextFrame)
	_, err := e.IsReused(plain)
	assert.ErrorIs(t, err, domain.ErrPlaintextFrame)
	_, err = e.IsNew(plain)
	assert.ErrorIs(t, err, domain.ErrPlaintextFrame)
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Track(protectedFrame(99, 1, t0)))
	e.Reset()

	assert.Equal(t, 0, e.Len())

	isNew, err := e.IsNew(protectedFrame(1, 0, t0))
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestEngine_NoFalsePositiveProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine()
		iv := rapid.Uint64Range(0, 1<<48-1).Draw(t, "iv")
		seq := rapid.Uint16Range(0, 0x0FFF).Draw(t, "seq")
		gap := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "gap"))

		if err := e.Track(protectedFrame(iv, seq, t0)); err != nil {
			t.Fatalf("Track: %v", err)
		}
		reused, err := e.IsReused(protectedFrame(iv, seq, t0.Add(gap)))
		if err != nil {
			t.Fatalf("IsReused: %v", err)
		}
		if reused {
			t.Fatalf("retransmission of iv %d seq %d after %v flagged as reuse", iv, seq, gap)
		}
	})
}

func TestEngine_TruePositiveProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine()
		iv := rapid.Uint64Range(0, 1<<48-1).Draw(t, "iv")
		seq := rapid.Uint16Range(0, 0x0FFE).Draw(t, "seq")
		delta := rapid.Uint16Range(1, 0x0FFF-seq).Draw(t, "delta")
		gap := time.Second + time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "gap"))

		if err := e.Track(protectedFrame(iv, seq, t0)); err != nil {
			t.Fatalf("Track: %v", err)
		}
		reused, err := e.IsReused(protectedFrame(iv, seq+delta, t0.Add(gap)))
		if err != nil {
			t.Fatalf("IsReused: %v", err)
		}
		if !reused {
			t.Fatalf("iv %d reused with seq %d -> %d after %v not detected", iv, seq, seq+delta, gap)
		}
	})
}
