package protocol

import "sync"

// Writers are pooled by buffer capacity so a burst of large packets does not
// pin large buffers into the path used for small ones.
var writerClasses = [...]int{256, 1024, 4096, 16384, MaxPacketSize + 1}

var writerPools [len(writerClasses)]sync.Pool

func init() {
	for i := range writerPools {
		size := writerClasses[i]
		writerPools[i].New = func() any {
			return &MessageWriter{buf: make([]byte, 0, size)}
		}
	}
}

// GetWriter returns a pooled writer for a packet of the given type. Pair it
// with Release.
func GetWriter(packetType PacketType) *MessageWriter {
	return GetWriterSized(packetType, 0)
}

// GetWriterSized returns a pooled writer with at least sizeHint bytes of capacity.
func GetWriterSized(packetType PacketType, sizeHint int) *MessageWriter {
	class := len(writerClasses) - 1
	for i, size := range writerClasses {
		if size >= sizeHint {
			class = i
			break
		}
	}
	w := writerPools[class].Get().(*MessageWriter)
	w.reset(packetType, true)
	return w
}

// Release clears the writer and returns it to the pool. The writer and any
// slice obtained from Bytes must not be used afterwards.
func (w *MessageWriter) Release() {
	if w == nil {
		return
	}
	c := cap(w.buf)
	class := -1
	for i, size := range writerClasses {
		if size <= c {
			class = i
		}
	}
	if class < 0 || c > 2*writerClasses[len(writerClasses)-1] {
		return
	}
	w.buf = w.buf[:0]
	w.stack = w.stack[:0]
	w.headerLen = 0
	writerPools[class].Put(w)
}
