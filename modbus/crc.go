package modbus

// crcTable is the precomputed CRC-16/Modbus lookup table (polynomial 0xA001,
// the bit-reversed form of 0x8005).
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CRC16 computes the CRC-16/Modbus checksum of data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crcTable[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}

// appendCRC appends the CRC of b to b, low byte first per the RTU framing
// rules, and returns the extended slice.
func appendCRC(b []byte) []byte {
	crc := CRC16(b)
	return append(b, byte(crc), byte(crc>>8))
}

// verifyCRC checks the trailing two CRC bytes of adu. The caller must have
// already validated the minimum length.
func verifyCRC(adu []byte) error {
	body := adu[:len(adu)-2]
	want := uint16(adu[len(adu)-2]) | uint16(adu[len(adu)-1])<<8
	if CRC16(body) != want {
		return ErrCRCMismatch
	}
	return nil
}
