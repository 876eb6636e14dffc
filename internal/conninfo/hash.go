package conninfo

import "hash/crc32"

// hashAlphabet excludes letters and digits that are visually confusable in
// a short printed identifier (I/O/S and the digit 5).
const hashAlphabet = "ABCDEFGHJKLMNPQRTUVWXYZ012346789"

// noUID is the literal hash string for an all-zero 128-bit device id.
const noUID = "NoUid"

// DeviceIDHash returns the Ethernet (IEEE 802.3) CRC-32 of a 128-bit
// device id, matching §4.3 rule 6.
func DeviceIDHash(id [16]byte) uint32 {
	return crc32.ChecksumIEEE(id[:])
}

// DeviceIDHashString reduces id to a 6-character hash string: "NoUid" for
// an all-zero id, otherwise its CRC-32 divided down through hashAlphabet
// from the least-significant end, with the leftover most-significant
// remainder mapped through just the letter portion of the alphabet
// (hashAlphabet[:len-10], "without numbers") for the first character.
func DeviceIDHashString(id [16]byte) string {
	if id == [16]byte{} {
		return noUID
	}
	value := DeviceIDHash(id)
	buf := make([]byte, 6)
	for i := 5; i > 0; i-- {
		buf[i] = hashAlphabet[value%32]
		value /= 32
	}
	buf[0] = hashAlphabet[value%(32-10)]
	return string(buf)
}
