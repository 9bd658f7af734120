package protocol

// maxPackedLen is the longest valid packed encoding of a 32-bit value.
const maxPackedLen = 5

// AppendPacked appends the packed (base-128, least significant group first)
// encoding of v to dst.
func AppendPacked(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// PackedLen returns the encoded size of v.
func PackedLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// DecodePacked decodes a packed integer from the front of buf and returns the
// value and the number of bytes consumed.
func DecodePacked(buf []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < maxPackedLen; i++ {
		if i >= len(buf) {
			return 0, i, ErrReadOverrun
		}
		b := buf[i]
		if i == maxPackedLen-1 && b > 0x0F {
			// Fifth group may only carry the top four bits.
			return 0, i + 1, ErrPackedOverflow
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return 0, i + 1, ErrPackedNotMinimal
			}
			return v, i + 1, nil
		}
	}
	return 0, maxPackedLen, ErrPackedOverflow
}
