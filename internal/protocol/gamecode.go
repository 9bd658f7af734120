package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// GameCode is the int32 lobby identifier. Six-letter V2 codes have the sign bit
// set; legacy four-letter V1 codes are the ASCII letters packed little-endian.
type GameCode int32

const v2Alphabet = "QWXRTYLPESDFGHUJKZOCVBINMA"

var v2Index = func() [26]int {
	var idx [26]int
	for i := 0; i < len(v2Alphabet); i++ {
		idx[v2Alphabet[i]-'A'] = i
	}
	return idx
}()

// ErrInvalidGameCode is returned for strings that are not 4 or 6 letters.
var ErrInvalidGameCode = errors.New("invalid game code")

// ParseGameCode converts a 4 or 6 letter code to its integer form.
func ParseGameCode(s string) (GameCode, error) {
	s = strings.ToUpper(s)
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidGameCode, s)
		}
	}
	switch len(s) {
	case 4:
		return GameCode(int32(binary.LittleEndian.Uint32([]byte(s)))), nil
	case 6:
		a := v2Index[s[0]-'A']
		b := v2Index[s[1]-'A']
		c := v2Index[s[2]-'A']
		d := v2Index[s[3]-'A']
		e := v2Index[s[4]-'A']
		f := v2Index[s[5]-'A']
		one := uint32(a+26*b) & 0x3FF
		two := uint32(c + 26*(d+26*(e+26*f)))
		return GameCode(int32(one | ((two << 10) & 0x3FFFFC00) | 0x80000000)), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidGameCode, s)
	}
}

// String returns the letters of the code.
func (g GameCode) String() string {
	v := int32(g)
	if v < 0 {
		a := v & 0x3FF
		b := (v >> 10) & 0xFFFFF
		return string([]byte{
			v2Alphabet[a%26],
			v2Alphabet[a/26],
			v2Alphabet[b%26],
			v2Alphabet[b/26%26],
			v2Alphabet[b/676%26],
			v2Alphabet[b/17576%26],
		})
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return string(buf[:])
}

// RandomGameCode returns a random six-letter code.
func RandomGameCode() GameCode {
	var raw [6]byte
	_, _ = rand.Read(raw[:])
	letters := make([]byte, 6)
	for i, r := range raw {
		letters[i] = v2Alphabet[int(r)%26]
	}
	code, _ := ParseGameCode(string(letters))
	return code
}
