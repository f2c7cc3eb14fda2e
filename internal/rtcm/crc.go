package rtcm

// crc24qPoly is the CRC-24Q generator used by RTCM 3 transport frames.
const crc24qPoly = 0x1864CFB

var crc24qTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 16
		for j := 0; j < 8; j++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24qPoly
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC24Q computes the 24-bit parity over b.
func CRC24Q(b []byte) uint32 {
	var crc uint32
	for _, c := range b {
		crc = ((crc << 8) & 0xFFFFFF) ^ crc24qTable[(crc>>16)^uint32(c)]
	}
	return crc
}
