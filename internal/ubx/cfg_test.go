package ubx

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(t *testing.T, frame []byte) []byte {
	t.Helper()
	require.True(t, VerifyFrame(frame), "frame % X", frame)
	return frame[HeaderLen : len(frame)-2]
}

func TestCfgGNSSSingleCompositeMessage(t *testing.T) {
	set, err := ParseConstellations("GPS+GLONASS+GALILEO+BEIDOU")
	require.NoError(t, err)

	f := CfgGNSS(set)
	assert.Equal(t, ClassCFG, f[2])
	assert.Equal(t, IDCfgGNSS, f[3])

	p := payloadOf(t, f)
	require.Len(t, p, 4+8*6)
	assert.Equal(t, byte(6), p[3])

	enabled := map[byte]bool{}
	for i := 0; i < 6; i++ {
		blk := p[4+8*i:]
		enabled[blk[0]] = binary.LittleEndian.Uint32(blk[4:])&0x01 != 0
	}
	assert.Equal(t, map[byte]bool{
		byte(GPS): true, byte(SBAS): false, byte(Galileo): true,
		byte(BeiDou): true, byte(QZSS): false, byte(GLONASS): true,
	}, enabled)
}

func TestParseConstellations(t *testing.T) {
	set, err := ParseConstellations("gps, glo+BDS+QZSS+SBAS")
	require.NoError(t, err)
	assert.Len(t, set, 5)
	assert.True(t, set[BeiDou])

	_, err = ParseConstellations("GPS+NAVIC")
	assert.Error(t, err)
	_, err = ParseConstellations(" ")
	assert.Error(t, err)
}

func TestDynamicModelCode(t *testing.T) {
	cases := map[string]uint8{
		"portable":   0,
		"stationary": 2,
		"pedestrian": 3,
		"Automotive": 4,
		"sea":        5,
		"airborne1g": 6,
	}
	for name, want := range cases {
		got, ok := DynamicModelCode(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	got, ok := DynamicModelCode("hovercraft")
	assert.False(t, ok)
	assert.Equal(t, DynamicModelAutomotive, got)
}

func TestCfgNav5Dynamic(t *testing.T) {
	p := payloadOf(t, CfgNav5Dynamic(2))
	require.Len(t, p, 36)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(p))
	assert.Equal(t, byte(2), p[2])
}

func TestCfgRate(t *testing.T) {
	assert.Equal(t, uint16(1000), MeasPeriodMs(1))
	assert.Equal(t, uint16(200), MeasPeriodMs(5))
	assert.Equal(t, uint16(1000), MeasPeriodMs(0))

	p := payloadOf(t, CfgRate(100, 1))
	assert.Equal(t, []byte{100, 0, 1, 0, 1, 0}, p)
}

func TestCfgCfgMasks(t *testing.T) {
	p := payloadOf(t, CfgCfg(SaveMasks{Clear: 0, Save: 0x1F, Load: 0, Device: 0x17}))
	assert.Equal(t, []byte{0, 0, 0, 0, 0x1F, 0, 0, 0, 0, 0, 0, 0, 0x17}, p)
}

func TestValSetValueWidths(t *testing.T) {
	f, err := ValSet(LayerRAM|LayerBBR,
		KeyValue{Key: KeySFCoreUseSF, Value: 1},
		KeyValue{Key: KeyNavSpgDynModel, Value: 4},
		KeyValue{Key: KeyRateMeas, Value: 200},
	)
	require.NoError(t, err)
	p := payloadOf(t, f)

	want := []byte{0x00, 0x03, 0x00, 0x00,
		0x01, 0x00, 0x08, 0x10, 0x01,
		0x21, 0x00, 0x11, 0x20, 0x04,
		0x01, 0x00, 0x21, 0x30, 0xC8, 0x00,
	}
	assert.Equal(t, want, p)

	_, err = ValSet(LayerRAM, KeyValue{Key: 0x00000001})
	assert.Error(t, err)
}

func TestCfgHNR(t *testing.T) {
	assert.Equal(t, []byte{30, 0, 0, 0}, payloadOf(t, CfgHNR(30)))
}
