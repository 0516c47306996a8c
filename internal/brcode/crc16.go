package brcode

// crc16Poly is the CCITT polynomial mandated for BR Code checksums.
const crc16Poly = 0x1021

// Checksum computes the CRC16 of data with polynomial 0x1021 and initial
// register 0xFFFF. Total over any input; the empty string yields 0xFFFF.
func Checksum(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
