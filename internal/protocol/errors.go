package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOverrun is returned when a read would pass the end of the current message.
	ErrReadOverrun = errors.New("read past end of message")
	// ErrUnbalancedMessage is returned when StartMessage/EndMessage calls do not pair up.
	ErrUnbalancedMessage = errors.New("unbalanced nested message")
	// ErrMessageTooLarge is returned when a nested body exceeds the 16-bit length prefix.
	ErrMessageTooLarge = errors.New("nested message exceeds 65535 bytes")
	// ErrPackedOverflow is returned for a packed integer that does not terminate within 32 bits.
	ErrPackedOverflow = errors.New("packed integer overflows 32 bits")
	// ErrPackedNotMinimal is returned for a packed integer with redundant trailing groups.
	ErrPackedNotMinimal = errors.New("packed integer is not minimally encoded")
	// ErrUnknownPacket is returned for an outer packet type this server does not speak.
	ErrUnknownPacket = errors.New("unknown packet type")
)

// FramingError describes a malformed frame. Framing errors are fatal to the
// connection that produced them.
type FramingError struct {
	Op     string
	Offset int
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error in %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err came from malformed input.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

func framingError(op string, offset int, err error) error {
	return &FramingError{Op: op, Offset: offset, Err: err}
}
