//go:build linux

package net

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/neutronium/metrics"
	"github.com/adred-codev/neutronium/net/poller"
)

// ChangeKind classifies a ConnectionChange.
type ChangeKind int

const (
	ChangeConnected ChangeKind = iota
	ChangeDisconnected
)

// ConnectionChange is enqueued whenever a channel transitions into or out
// of StateConnected, so application code (typically a system reading this
// queue each frame) can react without polling every channel itself.
type ConnectionChange struct {
	UserID   uint64
	Kind     ChangeKind
	Reason   DisconnectReason
	Duration time.Duration // wall-clock time connected; zero for ChangeConnected
}

type pooledConn struct {
	fd      int
	netConn net.Conn
	channel *Channel
	addr    net.Addr
}

// Housekeeping timing constants, per the wire protocol's endpoint pass.
const (
	HousekeepingInterval = 3 * time.Second
	HandshakeTimeout     = 5 * time.Second
	IngressTimeout       = 30 * time.Second
	KeepaliveInterval    = 3 * time.Second
)

// EndpointConfig configures an Endpoint.
type EndpointConfig struct {
	ListenAddr      string
	ServerKey       Key
	ChannelBuffer   int
	MaxChannels     int
	ChannelTimeout  time.Duration
	AcceptRateLimit rate.Limit
	AcceptBurst     int

	// Version/ProtocolID are this endpoint's wire identity; a connection
	// token presenting a different version or protocol id is fatally
	// rejected during handshake (§4.7/§6).
	Version    [16]byte
	ProtocolID uint16

	// Logger receives structured audit events for handshake rejections
	// (bad MAC, expired token, protocol/version mismatch), separate from
	// per-frame debug trace. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// Endpoint owns a listener, a bounded pool of Channels and two pollers
// that drive them without blocking the calling goroutine: one on the
// listener, and one I/O poller shared by every channel, whether it is still
// in handshake or connected (the two states are not polled separately).
// It is meant to be ticked once per frame from the same
// goroutine that steps the ECS world, per the single-threaded, cooperative
// design the wire protocol assumes.
type Endpoint struct {
	cfg      EndpointConfig
	listener net.Listener
	listenFD int

	acceptPoller *poller.Poller
	ioPoller     *poller.Poller
	acceptLimit  *rate.Limiter

	byFD   map[int]*pooledConn
	byUser map[uint64]*pooledConn
	free   []*Channel

	lastHousekeeping time.Time

	Changes chan ConnectionChange
}

// NewEndpoint binds cfg.ListenAddr with the teacher's socket-tuning
// listener and prepares the accept/IO pollers. Call Tick every frame; it
// accepts pending connections and drives the channels.
func NewEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = 1024
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = PageIncrement
	}
	if cfg.AcceptRateLimit <= 0 {
		cfg.AcceptRateLimit = 200
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = 64
	}

	l, err := poller.CreateOptimizedListener(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("neutronium: listen %s: %w", cfg.ListenAddr, err)
	}
	tcpL, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("neutronium: listener for %s is not TCP", cfg.ListenAddr)
	}
	file, err := tcpL.File()
	if err != nil {
		l.Close()
		return nil, err
	}
	listenFD := int(file.Fd())
	file.Close()

	acceptPoller, err := poller.New(cfg.MaxChannels)
	if err != nil {
		l.Close()
		return nil, err
	}
	if err := acceptPoller.Add(listenFD, poller.In); err != nil {
		acceptPoller.Close()
		l.Close()
		return nil, err
	}

	ioPoller, err := poller.New(cfg.MaxChannels)
	if err != nil {
		acceptPoller.Close()
		l.Close()
		return nil, err
	}

	return &Endpoint{
		cfg:          cfg,
		listener:     l,
		listenFD:     listenFD,
		acceptPoller: acceptPoller,
		ioPoller:     ioPoller,
		acceptLimit:  rate.NewLimiter(cfg.AcceptRateLimit, cfg.AcceptBurst),
		byFD:         make(map[int]*pooledConn),
		byUser:       make(map[uint64]*pooledConn),
		Changes:      make(chan ConnectionChange, cfg.MaxChannels),
	}, nil
}

// Close tears down the listener, pollers and every pooled channel.
func (e *Endpoint) Close() error {
	for _, pc := range e.byFD {
		pc.netConn.Close()
		pc.channel.Close()
	}
	e.acceptPoller.Close()
	e.ioPoller.Close()
	return e.listener.Close()
}

// Tick runs one non-blocking pass: accept as many pending connections as
// the accept-rate limiter currently allows, pump ready channels' ingress
// and egress, and run housekeeping (timeouts, free-list maintenance). It
// never blocks.
func (e *Endpoint) Tick(now time.Time) error {
	if err := e.acceptReady(now); err != nil {
		return err
	}
	if err := e.pumpReady(now); err != nil {
		return err
	}
	e.housekeeping(now)
	return nil
}

func (e *Endpoint) acceptReady(now time.Time) error {
	ready, err := e.acceptPoller.Wait()
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}
	for {
		if !e.acceptLimit.AllowN(now, 1) {
			return nil
		}
		conn, err := e.listener.Accept()
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return err
		}
		if len(e.byFD) >= e.cfg.MaxChannels {
			conn.Close()
			metrics.ConnectionsRejected.WithLabelValues("pool_exhausted").Inc()
			continue
		}
		if err := e.admit(conn, now); err != nil {
			conn.Close()
			metrics.ConnectionsRejected.WithLabelValues("admit_failed").Inc()
		}
	}
}

func (e *Endpoint) admit(conn net.Conn, now time.Time) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("neutronium: accepted connection is not TCP")
	}
	poller.SetTCPOptions(tcpConn)
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return err
	}

	ch := e.takeChannel()
	if ch == nil {
		var cerr error
		ch, cerr = NewChannel(e.cfg.ChannelBuffer, e.cfg.ChannelTimeout, e.cfg.Version, e.cfg.ProtocolID)
		if cerr != nil {
			return cerr
		}
	}
	ch.Open(now)

	if err := e.ioPoller.Add(fd, poller.In|poller.Out); err != nil {
		return err
	}
	e.byFD[fd] = &pooledConn{fd: fd, netConn: conn, channel: ch, addr: conn.RemoteAddr()}
	return nil
}

func (e *Endpoint) pumpReady(now time.Time) error {
	ready, err := e.ioPoller.Wait()
	if err != nil {
		return err
	}
	for _, fd := range ready {
		pc, ok := e.byFD[fd]
		if !ok {
			continue
		}
		wasConnected := pc.channel.State() == StateConnected

		if err := pc.channel.PumpIn(pc.netConn, e.cfg.ServerKey, now); err != nil {
			if fe, fatal := AsFatal(err); fatal {
				if !wasConnected {
					e.auditRejectedHandshake(fe, pc)
				}
				pc.channel.Disconnect(ReasonProtocolError)
			} else {
				return err
			}
		}
		if err := pc.channel.PumpOut(pc.netConn, now); err != nil {
			if _, fatal := AsFatal(err); fatal {
				pc.channel.Disconnect(ReasonProtocolError)
			} else {
				return err
			}
		}

		switch {
		case !wasConnected && pc.channel.State() == StateConnected:
			e.byUser[pc.channel.UserID] = pc
			pc.channel.WriteControl(CategoryConnectionAccepted)
			e.emit(ConnectionChange{UserID: pc.channel.UserID, Kind: ChangeConnected})
		case wasConnected && pc.channel.State() == StateDisconnected:
			e.emit(ConnectionChange{UserID: pc.channel.UserID, Kind: ChangeDisconnected, Reason: pc.channel.Reason(), Duration: now.Sub(pc.channel.ConnectedAt())})
		}
	}
	return nil
}

// auditRejectedHandshake logs a rejected connection token as a structured
// security event, distinct from per-frame debug trace, so a deployment can
// alert on a spike of bad MACs, expired tokens or protocol/version
// mismatches.
func (e *Endpoint) auditRejectedHandshake(fe *FatalError, pc *pooledConn) {
	event := e.cfg.Logger.Warn().
		Str("kind", fe.Kind.String()).
		Str("remote_addr", pc.addr.String())
	if fe.Cause != nil {
		event = event.Err(fe.Cause)
	}
	event.Msg("rejected connection token")
}

func (e *Endpoint) emit(c ConnectionChange) {
	select {
	case e.Changes <- c:
	default:
		// application is behind on draining Changes; drop rather than
		// block the frame loop.
	}
}

// housekeeping reclaims terminal channels every tick and, at most once per
// HousekeepingInterval, sweeps every live channel for handshake/ingress
// timeouts and due keepalives.
func (e *Endpoint) housekeeping(now time.Time) {
	e.reclaimDisconnected()
	if e.lastHousekeeping.IsZero() || now.Sub(e.lastHousekeeping) >= HousekeepingInterval {
		e.lastHousekeeping = now
		start := time.Now()
		e.sweep(now)
		e.reclaimDisconnected()
		metrics.HousekeepingDuration.Observe(time.Since(start).Seconds())
	}
}

// reclaimDisconnected detaches every terminal channel from its socket,
// closes the socket, and returns the Channel to the free list after Reset
// for pool reuse.
func (e *Endpoint) reclaimDisconnected() {
	for fd, pc := range e.byFD {
		if pc.channel.State() != StateDisconnected {
			continue
		}
		e.ioPoller.Remove(fd)
		pc.netConn.Close()
		delete(e.byFD, fd)
		if e.byUser[pc.channel.UserID] == pc {
			delete(e.byUser, pc.channel.UserID)
		}
		pc.channel.Reset()
		e.free = append(e.free, pc.channel)
	}
}

// sweep closes channels stuck in handshake past HandshakeTimeout or idle
// past IngressTimeout without a notify frame, and enqueues a Keepalive for
// any connected channel that hasn't sent anything in KeepaliveInterval. It
// then flushes every live channel's egress buffer directly, since a
// freshly staged keepalive has no poll-readiness event of its own to ride
// out on; a connected channel whose flush fails fatally is closed and
// reported as disconnected.
func (e *Endpoint) sweep(now time.Time) {
	for _, pc := range e.byFD {
		ch := pc.channel
		switch {
		case ch.State() == StateHandshake && now.Sub(ch.OpenedAt()) >= HandshakeTimeout:
			ch.Disconnect(ReasonTimedOut)
			e.emit(ConnectionChange{UserID: ch.UserID, Kind: ChangeDisconnected, Reason: ReasonTimedOut, Duration: connectedDuration(ch, now)})
		case now.Sub(ch.LastIngress()) >= IngressTimeout:
			ch.Disconnect(ReasonTimedOut)
			e.emit(ConnectionChange{UserID: ch.UserID, Kind: ChangeDisconnected, Reason: ReasonTimedOut, Duration: connectedDuration(ch, now)})
		case ch.State() == StateConnected && now.Sub(ch.LastEgress()) >= KeepaliveInterval:
			ch.WriteControl(CategoryKeepalive)
		}
	}
	for _, pc := range e.byFD {
		if err := pc.channel.PumpOut(pc.netConn, now); err != nil {
			if _, fatal := AsFatal(err); fatal {
				wasConnected := pc.channel.State() == StateConnected
				pc.channel.Disconnect(ReasonProtocolError)
				if wasConnected {
					e.emit(ConnectionChange{UserID: pc.channel.UserID, Kind: ChangeDisconnected, Reason: ReasonProtocolError, Duration: connectedDuration(pc.channel, now)})
				}
			}
		}
	}
}

// connectedDuration reports how long ch was connected as of now, or zero if
// it never left StateHandshake.
func connectedDuration(ch *Channel, now time.Time) time.Duration {
	if ch.ConnectedAt().IsZero() {
		return 0
	}
	return now.Sub(ch.ConnectedAt())
}

func (e *Endpoint) takeChannel() *Channel {
	if len(e.free) == 0 {
		return nil
	}
	ch := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]
	return ch
}

// Send writes a payload frame to the channel belonging to userID, if
// connected.
func (e *Endpoint) Send(userID uint64, payload []byte) error {
	pc, ok := e.byUser[userID]
	if !ok {
		return fmt.Errorf("neutronium: no connected channel for user %d", userID)
	}
	return pc.channel.WritePayload(payload)
}

// TakePayloads returns every payload received on userID's channel since
// the last call.
func (e *Endpoint) TakePayloads(userID uint64) [][]byte {
	pc, ok := e.byUser[userID]
	if !ok {
		return nil
	}
	return pc.channel.TakePayloads()
}

// Disconnect forcibly closes userID's channel.
func (e *Endpoint) Disconnect(userID uint64, reason DisconnectReason) {
	if pc, ok := e.byUser[userID]; ok {
		pc.channel.Disconnect(reason)
	}
}
