package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/airlock-project/airlock/internal/version"
)

// MessageWriter builds one outgoing packet: the outer Hazel header followed by
// primitives and nested length-prefixed messages.
type MessageWriter struct {
	buf        []byte
	packetType PacketType
	headerLen  int
	stack      []int
}

// NewMessageWriter creates a writer for a packet of the given type. Reliable
// packets reserve two bytes for the sequence number, filled in by the transport.
func NewMessageWriter(packetType PacketType) *MessageWriter {
	w := &MessageWriter{buf: make([]byte, 0, 256)}
	w.reset(packetType, true)
	return w
}

// NewBodyWriter creates a writer without an outer packet header, for composing
// message bodies that are later embedded with WriteMessage.
func NewBodyWriter() *MessageWriter {
	w := &MessageWriter{buf: make([]byte, 0, 256)}
	w.reset(PacketUnreliable, false)
	return w
}

func (w *MessageWriter) reset(packetType PacketType, header bool) {
	w.buf = w.buf[:0]
	w.stack = w.stack[:0]
	w.packetType = packetType
	w.headerLen = 0
	if header {
		w.buf = append(w.buf, byte(packetType))
		if packetType.IsReliable() {
			w.buf = append(w.buf, 0, 0)
		}
		w.headerLen = len(w.buf)
	}
}

// PacketType returns the type written in the outer header.
func (w *MessageWriter) PacketType() PacketType {
	return w.packetType
}

// SetSequence stores the reliable sequence number (big-endian) in the header.
func (w *MessageWriter) SetSequence(seq uint16) {
	if w.headerLen == 3 {
		binary.BigEndian.PutUint16(w.buf[1:3], seq)
	}
}

// Len returns the current size in bytes including the header.
func (w *MessageWriter) Len() int {
	return len(w.buf)
}

// HasBody reports whether anything was written after the header.
func (w *MessageWriter) HasBody() bool {
	return len(w.buf) > w.headerLen
}

// OpenMessages returns the nesting depth of unterminated messages.
func (w *MessageWriter) OpenMessages() int {
	return len(w.stack)
}

// StartMessage opens a nested message with the given tag.
func (w *MessageWriter) StartMessage(tag byte) {
	w.stack = append(w.stack, len(w.buf))
	w.buf = append(w.buf, 0, 0, tag)
}

// EndMessage closes the innermost nested message and back-patches its length.
func (w *MessageWriter) EndMessage() error {
	if len(w.stack) == 0 {
		return framingError("EndMessage", len(w.buf), ErrUnbalancedMessage)
	}
	start := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	length := len(w.buf) - start - MessageHeaderSize
	if length > math.MaxUint16 {
		w.buf = w.buf[:start]
		return framingError("EndMessage", start, ErrMessageTooLarge)
	}
	binary.LittleEndian.PutUint16(w.buf[start:], uint16(length))
	return nil
}

// CancelMessage discards the innermost nested message and everything written into it.
func (w *MessageWriter) CancelMessage() error {
	if len(w.stack) == 0 {
		return framingError("CancelMessage", len(w.buf), ErrUnbalancedMessage)
	}
	start := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.buf = w.buf[:start]
	return nil
}

// Bytes returns the finished packet. It fails while nested messages are open.
// The returned slice aliases the writer's buffer until the next write or Release.
func (w *MessageWriter) Bytes() ([]byte, error) {
	if len(w.stack) != 0 {
		return nil, framingError("Bytes", len(w.buf), ErrUnbalancedMessage)
	}
	return w.buf, nil
}

// Body returns the bytes written after the outer header.
func (w *MessageWriter) Body() ([]byte, error) {
	b, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	return b[w.headerLen:], nil
}

// WriteBool writes a single byte, 1 for true.
func (w *MessageWriter) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteByte implements io.ByteWriter. It never fails.
func (w *MessageWriter) WriteByte(v byte) error {
	w.buf = append(w.buf, v)
	return nil
}

// WriteSByte writes a signed byte.
func (w *MessageWriter) WriteSByte(v int8) {
	w.buf = append(w.buf, byte(v))
}

// WriteUint16 writes a uint16 in little-endian order.
func (w *MessageWriter) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteInt16 writes an int16 in little-endian order.
func (w *MessageWriter) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint32 writes a uint32 in little-endian order.
func (w *MessageWriter) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteInt32 writes an int32 in little-endian order.
func (w *MessageWriter) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint64 writes a uint64 in little-endian order.
func (w *MessageWriter) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteFloat32 writes an IEEE-754 float32 in little-endian order.
func (w *MessageWriter) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteBytes writes raw bytes.
func (w *MessageWriter) WriteBytes(data []byte) {
	w.buf = append(w.buf, data...)
}

// WriteBytesAndSize writes a packed length followed by the bytes.
func (w *MessageWriter) WriteBytesAndSize(data []byte) {
	w.WritePacked(uint32(len(data)))
	w.buf = append(w.buf, data...)
}

// WriteString writes a packed byte length followed by the UTF-8 bytes.
func (w *MessageWriter) WriteString(s string) {
	w.WritePacked(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// WritePacked writes a packed unsigned integer.
func (w *MessageWriter) WritePacked(v uint32) {
	w.buf = AppendPacked(w.buf, v)
}

// WritePackedInt32 writes a signed integer using its two's complement bits.
func (w *MessageWriter) WritePackedInt32(v int32) {
	w.WritePacked(uint32(v))
}

// WriteVector2 writes a quantised position.
func (w *MessageWriter) WriteVector2(v Vector2) {
	w.WriteUint16(quantize(v.X))
	w.WriteUint16(quantize(v.Y))
}

// WriteGameVersion writes a packed game version as an int32.
func (w *MessageWriter) WriteGameVersion(v version.GameVersion) {
	w.WriteInt32(int32(v))
}

// WriteMessage embeds body as a complete nested message with the given tag.
func (w *MessageWriter) WriteMessage(tag byte, body []byte) error {
	w.StartMessage(tag)
	w.WriteBytes(body)
	return w.EndMessage()
}

// String returns a hex dump of the current packet for debugging.
func (w *MessageWriter) String() string {
	return fmt.Sprintf("MessageWriter[%d bytes, %d open]: %x", len(w.buf), len(w.stack), w.buf)
}
