package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
)

// ErrPeerClosed is returned when sending to a closed peer.
var ErrPeerClosed = errors.New("peer closed")

// pending is a reliable packet awaiting its ack.
type pending struct {
	data     []byte
	sentAt   time.Time
	attempts int
}

// Peer is one remote endpoint. It implements client.Conn. Outbound packets
// go through a bounded queue drained by the peer's own writer goroutine.
type Peer struct {
	addr   net.Addr
	key    string
	l      *Listener
	out    chan []byte
	logger zerolog.Logger

	mu       sync.Mutex
	client   *client.Client
	nextSeq  uint16
	unacked  map[uint16]*pending
	window   ackWindow
	lastSeen time.Time
	lastPing time.Time
	closed   bool
}

func newPeer(l *Listener, addr net.Addr) *Peer {
	now := time.Now()
	return &Peer{
		addr:     addr,
		key:      addr.String(),
		l:        l,
		out:      make(chan []byte, l.opts.OutboundQueueSize),
		logger:   l.logger.With().Str("remote", addr.String()).Logger(),
		unacked:  make(map[uint16]*pending),
		lastSeen: now,
		lastPing: now,
	}
}

// RemoteAddr implements client.Conn.
func (p *Peer) RemoteAddr() net.Addr {
	return p.addr
}

// Client returns the registered client, or nil before registration.
func (p *Peer) Client() *client.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Peer) setClient(c *client.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
	p.logger = p.logger.With().Int32("client_id", c.ID).Logger()
}

// Send implements client.Conn. Reliable packets get the next sequence
// number and are kept until acknowledged.
func (p *Peer) Send(w *protocol.MessageWriter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}

	if w.PacketType().IsReliable() {
		p.nextSeq++
		w.SetSequence(p.nextSeq)
	}
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	data := append([]byte(nil), b...)
	if w.PacketType().IsReliable() {
		p.unacked[p.nextSeq] = &pending{data: data, sentAt: time.Now()}
	}
	return p.enqueueLocked(data)
}

// enqueueLocked queues data. A full queue drops the peer. Callers hold p.mu.
func (p *Peer) enqueueLocked(data []byte) error {
	select {
	case p.out <- data:
		return nil
	default:
	}
	p.l.metrics.OutboundOverflow()
	p.logger.Warn().Int("queue", cap(p.out)).Msg("outbound queue full, dropping peer")
	go p.l.drop(p, nil)
	return ErrPeerClosed
}

// Disconnect implements client.Conn.
func (p *Peer) Disconnect(reason protocol.DisconnectReason, message string) error {
	data, err := protocol.BuildDisconnect(reason, message)
	if err != nil {
		return err
	}
	p.l.drop(p, data)
	return nil
}

// sendRaw queues a packet that needs no sequence number.
func (p *Peer) sendRaw(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		_ = p.enqueueLocked(data)
	}
}

// close marks the peer closed and queues a final packet. It reports false
// when the peer was already closed.
func (p *Peer) close(final []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	if final != nil {
		select {
		case p.out <- final:
		default:
		}
	}
	close(p.out)
	return true
}

// writeLoop drains the outbound queue until the peer closes.
func (p *Peer) writeLoop(conn net.PacketConn) {
	for data := range p.out {
		if _, err := conn.WriteTo(data, p.addr); err != nil {
			p.logger.Debug().Err(err).Msg("write failed")
			continue
		}
		p.l.metrics.PacketOut(packetName(protocol.PacketType(data[0])))
	}
}

// receive notes a reliable id and returns the ack to send and whether the
// packet is new.
func (p *Peer) receive(seq uint16) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now()
	fresh := p.window.record(seq)
	return protocol.BuildAck(seq, p.window.recent(seq)), fresh
}

func (p *Peer) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now()
}

// acknowledge clears seq and the earlier ids flagged in recent.
func (p *Peer) acknowledge(seq uint16, recent byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now()
	delete(p.unacked, seq)
	for i := 0; i < 8; i++ {
		if recent&(1<<uint(i)) != 0 {
			delete(p.unacked, seq-uint16(i+1))
		}
	}
}

// idle returns when the peer was last heard from.
func (p *Peer) idle(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastSeen)
}

// tick resends overdue reliable packets and reports false once a packet
// ran out of attempts. It also sends a keepalive ping when due.
func (p *Peer) tick(now time.Time) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	for seq, pk := range p.unacked {
		if now.Sub(pk.sentAt) < p.l.opts.ResendInterval {
			continue
		}
		if pk.attempts >= p.l.opts.MaxResends {
			p.mu.Unlock()
			p.logger.Debug().Uint16("seq", seq).Msg("reliable packet never acknowledged")
			return false
		}
		pk.attempts++
		pk.sentAt = now
		p.l.metrics.Resend()
		if p.enqueueLocked(pk.data) != nil {
			p.mu.Unlock()
			return true
		}
	}
	pingDue := p.l.opts.PingInterval > 0 && now.Sub(p.lastPing) >= p.l.opts.PingInterval
	if pingDue {
		p.lastPing = now
	}
	p.mu.Unlock()

	if pingDue {
		w := protocol.GetWriter(protocol.PacketPing)
		defer w.Release()
		_ = p.Send(w)
	}
	return true
}

// dispatch hands every root message of a data packet to the handler.
func (p *Peer) dispatch(ctx context.Context, c *client.Client, pkt *protocol.Packet) error {
	for pkt.Body.Remaining() > 0 {
		msg, err := pkt.Body.ReadMessage()
		if err != nil {
			return err
		}
		if err := p.l.handler.HandleMessage(ctx, c, pkt.Type, msg); err != nil {
			return err
		}
	}
	return nil
}
