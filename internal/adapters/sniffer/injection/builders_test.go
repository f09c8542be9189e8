package injection

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

func TestEAPOLBuilder(t *testing.T) {
	data, err := EAPOLBuilder{}.EAPOL()
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0xAA, 0xAA, 0x03,
		0x00, 0x00, 0x00, 0x88, 0x8E,
		0x01, 0x00, 0x00, 0x04,
		0x04, 0x00, 0x00, 0x04,
	}, data)

	packet := gopacket.NewPacket(data, layers.LayerTypeLLC, gopacket.Default)
	snap, ok := packet.Layer(layers.LayerTypeSNAP).(*layers.SNAP)
	require.True(t, ok, "SNAP layer not found")
	assert.Equal(t, layers.EthernetTypeEAPOL, snap.Type)

	eap, ok := packet.Layer(layers.LayerTypeEAP).(*layers.EAP)
	require.True(t, ok, "EAP layer not found")
	assert.Equal(t, layers.EAPCodeFailure, eap.Code)
	assert.Equal(t, uint16(4), eap.Length)
}

func TestDummyFrame(t *testing.T) {
	f := DummyFrame()
	assert.Equal(t, domain.TypeData, f.Type)
	assert.Equal(t, domain.SubtypeData, f.Subtype)
	assert.Empty(t, f.Body)
	assert.Zero(t, f.Flags)
}
