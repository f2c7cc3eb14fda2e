package gps

import (
	"testing"

	"ublox-bridge/internal/ubx"
)

func encodeMsg(t *testing.T, class, id byte, m interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	p, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ubx.Encode(class, id, p)
}

// rtkFixedPVT is a NAV-PVT with a 3D fix and an RTK fixed carrier solution.
func rtkFixedPVT() ubx.NavPVT {
	return ubx.NavPVT{
		ITOW:    345600000,
		Year:    2024,
		Month:   5,
		Day:     1,
		Hour:    12,
		Valid:   0x03,
		FixType: ubx.Fix3D,
		Flags:   0x01 | 0x02 | 2<<6,
		NumSV:   24,
		Lat:     481173000,
		Lon:     115166667,
		Height:  592100,
		HMSL:    545400,
		HAcc:    14,
		VAcc:    21,
		GSpeed:  1500,
		HeadMot: 9000000,
		PDOP:    120,
	}
}

func pvtFrame(t *testing.T, m ubx.NavPVT) []byte {
	t.Helper()
	return encodeMsg(t, ubx.ClassNAV, ubx.IDNavPVT, m)
}
