package protocol

import "fmt"

// BuildDisconnect builds a forced Hazel disconnect carrying the reason and, for
// ReasonCustom, the free-form message shown to the player.
func BuildDisconnect(reason DisconnectReason, message string) ([]byte, error) {
	w := NewMessageWriter(PacketDisconnect)
	w.WriteBool(true)
	w.StartMessage(0)
	_ = w.WriteByte(byte(reason))
	if reason == ReasonCustom {
		w.WriteString(message)
	}
	if err := w.EndMessage(); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// Disconnect is a decoded disconnect packet.
type Disconnect struct {
	Forced  bool
	Reason  DisconnectReason
	Message string
}

// ParseDisconnect decodes the body of a disconnect packet. Clients may send an
// empty body, which reads as a plain ExitGame.
func ParseDisconnect(r *MessageReader) (*Disconnect, error) {
	d := &Disconnect{Reason: ReasonExitGame}
	if r.Remaining() == 0 {
		return d, nil
	}
	forced, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	d.Forced = forced
	if r.Remaining() == 0 {
		return d, nil
	}
	msg, err := r.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("disconnect payload: %w", err)
	}
	reason, err := msg.ReadByte()
	if err != nil {
		return nil, err
	}
	d.Reason = DisconnectReason(reason)
	if d.Reason == ReasonCustom && msg.Remaining() > 0 {
		if d.Message, err = msg.ReadString(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// BuildAck builds the acknowledgement for a reliable packet. recent is the
// bitfield of the eight previously received ids.
func BuildAck(seq uint16, recent byte) []byte {
	return []byte{byte(PacketAck), byte(seq >> 8), byte(seq), recent}
}
