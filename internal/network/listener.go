// Package network speaks Hazel over UDP: it accepts Hello handshakes,
// acknowledges and deduplicates reliable packets, resends its own reliable
// packets until acknowledged and keeps idle peers alive with pings.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
)

const readBufferSize = 64 * 1024

// Handler serves the clients of a listener.
type Handler interface {
	Connect(ctx context.Context, conn client.Conn, hs *protocol.Handshake) (*client.Client, error)
	HandleMessage(ctx context.Context, c *client.Client, pt protocol.PacketType, msg *protocol.MessageReader) error
	Disconnected(ctx context.Context, c *client.Client)
}

// Recorder receives transport counters.
type Recorder interface {
	PacketIn(packetType string)
	PacketOut(packetType string)
	OutboundOverflow()
	Resend()
	FramingError()
}

type nopRecorder struct{}

func (nopRecorder) PacketIn(string)   {}
func (nopRecorder) PacketOut(string)  {}
func (nopRecorder) OutboundOverflow() {}
func (nopRecorder) Resend()           {}
func (nopRecorder) FramingError()     {}

// Options tune the transport.
type Options struct {
	TokenMode         bool
	OutboundQueueSize int
	HandshakesPerSec  float64
	HandshakeBurst    int
	LimiterCacheSize  int
	ResendInterval    time.Duration
	MaxResends        int
	PingInterval      time.Duration
}

func (o *Options) setDefaults() {
	if o.OutboundQueueSize <= 0 {
		o.OutboundQueueSize = 256
	}
	if o.ResendInterval <= 0 {
		o.ResendInterval = 200 * time.Millisecond
	}
	if o.MaxResends <= 0 {
		o.MaxResends = 10
	}
}

// Listener accepts Hazel peers on one UDP socket.
type Listener struct {
	opts    Options
	handler Handler
	metrics Recorder
	limiter *handshakeLimiter
	logger  zerolog.Logger

	// ctx is the serving context, used when peers are dropped from
	// their writer path.
	ctx     context.Context
	conn    net.PacketConn
	writers sync.WaitGroup

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewListener creates a listener. metrics may be nil.
func NewListener(opts Options, handler Handler, metrics Recorder, logger zerolog.Logger) (*Listener, error) {
	opts.setDefaults()
	limiter, err := newHandshakeLimiter(opts.HandshakesPerSec, opts.HandshakeBurst, opts.LimiterCacheSize)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Listener{
		opts:    opts,
		handler: handler,
		metrics: metrics,
		limiter: limiter,
		logger:  logger,
		ctx:     context.Background(),
		peers:   make(map[string]*Peer),
	}, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	lc := listenConfig(readBufferSize * 64)
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("hazel listener started")
	return l.Serve(ctx, pc)
}

// Serve reads datagrams from pc until ctx is cancelled. Peers are sent a
// disconnect before pc is closed.
func (l *Listener) Serve(ctx context.Context, pc net.PacketConn) error {
	l.ctx = ctx
	l.conn = pc

	go func() {
		<-ctx.Done()
		l.CloseAll(protocol.ReasonServerRequest)
		_ = pc.SetReadDeadline(time.Now())
	}()
	go l.maintain(ctx)

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("hazel listener stopping")
				l.flush(time.Second)
				return pc.Close()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.logger.Error().Err(err).Msg("udp read error")
			continue
		}
		l.handleDatagram(ctx, buf[:n], addr)
	}
}

// flush waits up to timeout for the writers of closed peers to drain.
func (l *Listener) flush(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		l.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		l.logger.Warn().Msg("timed out flushing peers")
	}
}

// handleDatagram processes one datagram. raw is only valid for the call.
func (l *Listener) handleDatagram(ctx context.Context, raw []byte, addr net.Addr) {
	peer := l.peer(addr.String())

	pkt, err := protocol.ReadPacket(raw)
	if err != nil {
		l.framingError(peer, addr, err)
		return
	}
	l.metrics.PacketIn(packetName(pkt.Type))

	if pkt.Type == protocol.PacketHello {
		l.handleHello(ctx, peer, addr, pkt)
		return
	}
	if peer == nil {
		return
	}

	switch pkt.Type {
	case protocol.PacketReliable:
		ack, fresh := peer.receive(pkt.Sequence)
		peer.sendRaw(ack)
		if !fresh {
			return
		}
		l.dispatch(ctx, peer, pkt)
	case protocol.PacketUnreliable:
		peer.touch()
		l.dispatch(ctx, peer, pkt)
	case protocol.PacketPing:
		ack, _ := peer.receive(pkt.Sequence)
		peer.sendRaw(ack)
	case protocol.PacketAck:
		recent, _ := pkt.Body.ReadByte()
		peer.acknowledge(pkt.Sequence, recent)
	case protocol.PacketDisconnect:
		if d, err := protocol.ParseDisconnect(pkt.Body); err == nil {
			peer.logger.Debug().Str("reason", d.Reason.String()).Msg("peer disconnected")
		}
		l.drop(peer, nil)
	}
}

func (l *Listener) handleHello(ctx context.Context, peer *Peer, addr net.Addr, pkt *protocol.Packet) {
	if peer != nil {
		// Our ack was lost; the peer is already registered.
		ack, _ := peer.receive(pkt.Sequence)
		peer.sendRaw(ack)
		return
	}
	ip := sourceIP(addr)
	if !l.limiter.allow(ip) {
		l.logger.Debug().Str("ip", ip).Msg("handshake rate limited")
		return
	}

	if _, err := pkt.Body.ReadByte(); err != nil {
		l.framingError(nil, addr, err)
		return
	}
	hs, err := protocol.DecodeHandshake(pkt.Body, l.opts.TokenMode)
	if err != nil {
		l.framingError(nil, addr, err)
		return
	}

	if ctx.Err() != nil {
		return
	}
	peer = newPeer(l, addr)
	ack, _ := peer.receive(pkt.Sequence)
	l.mu.Lock()
	l.peers[peer.key] = peer
	l.mu.Unlock()
	l.writers.Add(1)
	go func() {
		defer l.writers.Done()
		peer.writeLoop(l.conn)
	}()
	peer.sendRaw(ack)

	c, err := l.handler.Connect(ctx, peer, hs)
	if err != nil {
		var rejected *client.RejectError
		if !errors.As(err, &rejected) {
			peer.logger.Error().Err(err).Msg("client registration failed")
		}
		l.drop(peer, nil)
		return
	}
	peer.setClient(c)
}

func (l *Listener) dispatch(ctx context.Context, peer *Peer, pkt *protocol.Packet) {
	c := peer.Client()
	if c == nil {
		return
	}
	if err := peer.dispatch(ctx, c, pkt); err != nil {
		if protocol.IsFramingError(err) {
			l.framingError(peer, peer.addr, err)
			return
		}
		peer.logger.Error().Err(err).Msg("message handling failed")
		data, _ := protocol.BuildDisconnect(protocol.ReasonCustom, c.Message(client.MsgError))
		l.drop(peer, data)
	}
}

// framingError logs malformed input and disconnects the peer that sent it.
func (l *Listener) framingError(peer *Peer, addr net.Addr, err error) {
	l.metrics.FramingError()
	event := l.logger.Warn().Err(err).Str("remote", addr.String())
	if peer != nil {
		if c := peer.Client(); c != nil {
			event = event.Int32("client_id", c.ID)
		}
	}
	event.Msg("framing error")
	if peer == nil {
		return
	}
	data, _ := protocol.BuildDisconnect(protocol.ReasonError, "")
	l.drop(peer, data)
}

func (l *Listener) peer(key string) *Peer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peers[key]
}

// drop closes a peer, sending final first when set, and unregisters its
// client. Repeated calls are no-ops.
func (l *Listener) drop(p *Peer, final []byte) {
	if !p.close(final) {
		return
	}
	l.mu.Lock()
	if l.peers[p.key] == p {
		delete(l.peers, p.key)
	}
	l.mu.Unlock()

	if c := p.Client(); c != nil {
		l.handler.Disconnected(l.ctx, c)
	}
}

// maintain drives resends and keepalives.
func (l *Listener) maintain(ctx context.Context) {
	interval := l.opts.ResendInterval / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

func (l *Listener) tick(now time.Time) {
	for _, p := range l.snapshot() {
		if !p.tick(now) {
			p.logger.Info().Msg("peer stopped acknowledging, dropping")
			l.drop(p, nil)
		}
	}
}

func (l *Listener) snapshot() []*Peer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Peer, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of live peers.
func (l *Listener) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

// SweepStale drops peers not heard from within timeout and returns how many
// went.
func (l *Listener) SweepStale(timeout time.Duration) int {
	now := time.Now()
	dropped := 0
	for _, p := range l.snapshot() {
		if p.idle(now) > timeout {
			p.logger.Warn().Dur("idle", p.idle(now)).Msg("dropping stale peer")
			l.drop(p, nil)
			dropped++
		}
	}
	return dropped
}

// CloseAll disconnects every peer.
func (l *Listener) CloseAll(reason protocol.DisconnectReason) {
	data, _ := protocol.BuildDisconnect(reason, "")
	for _, p := range l.snapshot() {
		l.drop(p, data)
	}
}

var packetNames = map[protocol.PacketType]string{
	protocol.PacketUnreliable: "unreliable",
	protocol.PacketReliable:   "reliable",
	protocol.PacketHello:      "hello",
	protocol.PacketDisconnect: "disconnect",
	protocol.PacketAck:        "ack",
	protocol.PacketFragment:   "fragment",
	protocol.PacketPing:       "ping",
}

func packetName(t protocol.PacketType) string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return "unknown"
}
