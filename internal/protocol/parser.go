package protocol

import (
	"encoding/binary"
	"math"

	"github.com/airlock-project/airlock/internal/version"
)

// Packet is a decoded outer Hazel datagram.
type Packet struct {
	Type PacketType
	// Sequence is set for reliable packets and acknowledgements.
	Sequence uint16
	// Body covers everything after the outer header.
	Body *MessageReader
}

// ReadPacket splits a datagram into its outer header and body.
func ReadPacket(raw []byte) (*Packet, error) {
	if len(raw) < 1 {
		return nil, framingError("ReadPacket", 0, ErrReadOverrun)
	}
	if len(raw) > MaxPacketSize {
		return nil, framingError("ReadPacket", 0, ErrMessageTooLarge)
	}

	p := &Packet{Type: PacketType(raw[0])}
	headerLen := 1

	switch p.Type {
	case PacketReliable, PacketHello, PacketPing, PacketAck:
		if len(raw) < 3 {
			return nil, framingError("ReadPacket", 1, ErrReadOverrun)
		}
		p.Sequence = binary.BigEndian.Uint16(raw[1:3])
		headerLen = 3
	case PacketUnreliable, PacketDisconnect:
	default:
		return nil, framingError("ReadPacket", 0, ErrUnknownPacket)
	}

	p.Body = &MessageReader{tag: raw[0], buf: raw[headerLen:], base: headerLen}
	return p, nil
}

// MessageReader reads primitives and nested messages from a bounded window.
// Every read is checked against the window; reading past it is a framing error.
type MessageReader struct {
	tag  byte
	buf  []byte
	pos  int
	base int // offset of buf within the datagram, for error reporting
}

// NewMessageReader wraps a message body with its tag.
func NewMessageReader(tag byte, body []byte) *MessageReader {
	return &MessageReader{tag: tag, buf: body}
}

// Tag returns the message tag.
func (r *MessageReader) Tag() byte {
	return r.tag
}

// Length returns the declared body length.
func (r *MessageReader) Length() int {
	return len(r.buf)
}

// Position returns the read offset within the body.
func (r *MessageReader) Position() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *MessageReader) Remaining() int {
	return len(r.buf) - r.pos
}

// Raw returns the complete body regardless of the read offset.
func (r *MessageReader) Raw() []byte {
	return r.buf
}

// Rest returns the unread bytes and consumes them.
func (r *MessageReader) Rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// Clone returns an independent reader over the same window, rewound to the start.
func (r *MessageReader) Clone() *MessageReader {
	return &MessageReader{tag: r.tag, buf: r.buf, base: r.base}
}

func (r *MessageReader) take(op string, n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, framingError(op, r.base+r.pos, ErrReadOverrun)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadMessage returns a reader scoped to the next nested message. The parent is
// advanced past the whole sub-message before the child is returned.
func (r *MessageReader) ReadMessage() (*MessageReader, error) {
	start := r.pos
	hdr, err := r.take("ReadMessage", MessageHeaderSize)
	if err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(hdr))
	body, err := r.take("ReadMessage", length)
	if err != nil {
		r.pos = start
		return nil, err
	}
	return &MessageReader{tag: hdr[2], buf: body, base: r.base + start + MessageHeaderSize}, nil
}

// ReadBool reads a byte and reports whether it is non-zero.
func (r *MessageReader) ReadBool() (bool, error) {
	b, err := r.take("ReadBool", 1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadByte implements io.ByteReader.
func (r *MessageReader) ReadByte() (byte, error) {
	b, err := r.take("ReadByte", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadSByte reads a signed byte.
func (r *MessageReader) ReadSByte() (int8, error) {
	b, err := r.take("ReadSByte", 1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// ReadUint16 reads a little-endian uint16.
func (r *MessageReader) ReadUint16() (uint16, error) {
	b, err := r.take("ReadUint16", 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian int16.
func (r *MessageReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (r *MessageReader) ReadUint32() (uint32, error) {
	b, err := r.take("ReadUint32", 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (r *MessageReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (r *MessageReader) ReadUint64() (uint64, error) {
	b, err := r.take("ReadUint64", 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat32 reads a little-endian IEEE-754 float32.
func (r *MessageReader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadBytes reads n raw bytes. The result aliases the packet buffer.
func (r *MessageReader) ReadBytes(n int) ([]byte, error) {
	return r.take("ReadBytes", n)
}

// ReadBytesAndSize reads a packed length followed by that many bytes.
func (r *MessageReader) ReadBytesAndSize() ([]byte, error) {
	n, err := r.ReadPacked()
	if err != nil {
		return nil, err
	}
	return r.take("ReadBytesAndSize", int(n))
}

// ReadString reads a packed byte length followed by UTF-8 bytes.
func (r *MessageReader) ReadString() (string, error) {
	n, err := r.ReadPacked()
	if err != nil {
		return "", err
	}
	b, err := r.take("ReadString", int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadPacked reads a packed unsigned integer.
func (r *MessageReader) ReadPacked() (uint32, error) {
	v, n, err := DecodePacked(r.buf[r.pos:])
	if err != nil {
		return 0, framingError("ReadPacked", r.base+r.pos, err)
	}
	r.pos += n
	return v, nil
}

// ReadPackedInt32 reads a packed signed integer.
func (r *MessageReader) ReadPackedInt32() (int32, error) {
	v, err := r.ReadPacked()
	return int32(v), err
}

// ReadVector2 reads a quantised position.
func (r *MessageReader) ReadVector2() (Vector2, error) {
	x, err := r.ReadUint16()
	if err != nil {
		return Vector2{}, err
	}
	y, err := r.ReadUint16()
	if err != nil {
		return Vector2{}, err
	}
	return Vector2{X: dequantize(x), Y: dequantize(y)}, nil
}

// ReadGameVersion reads a packed game version.
func (r *MessageReader) ReadGameVersion() (version.GameVersion, error) {
	v, err := r.ReadInt32()
	return version.GameVersion(v), err
}
