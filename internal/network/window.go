package network

// ackWindow remembers the last 64 reliable ids received from a peer.
// Bit i of mask is set when highest-i arrived.
type ackWindow struct {
	highest uint16
	mask    uint64
	started bool
}

// record notes seq and reports whether it is new. Ids more than 64 behind
// the newest are treated as duplicates.
func (w *ackWindow) record(seq uint16) bool {
	if !w.started {
		w.started, w.highest, w.mask = true, seq, 1
		return true
	}
	d := int16(seq - w.highest)
	switch {
	case d > 0:
		if d >= 64 {
			w.mask = 1
		} else {
			w.mask = w.mask<<uint(d) | 1
		}
		w.highest = seq
		return true
	case -int(d) >= 64:
		return false
	default:
		bit := uint64(1) << uint(-d)
		if w.mask&bit != 0 {
			return false
		}
		w.mask |= bit
		return true
	}
}

// recent returns the bitfield sent with an ack of seq: bit i is set when
// seq-i-1 was received.
func (w *ackWindow) recent(seq uint16) byte {
	var out byte
	back := int(int16(w.highest - seq))
	for i := 0; i < 8; i++ {
		off := back + i + 1
		if off >= 0 && off < 64 && w.mask&(uint64(1)<<uint(off)) != 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}
