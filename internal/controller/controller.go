package controller

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/LeJamon/yggjumper/internal/admin"
	"github.com/LeJamon/yggjumper/internal/config"
	"github.com/LeJamon/yggjumper/internal/logging"
	"github.com/LeJamon/yggjumper/internal/overlay"
	"github.com/LeJamon/yggjumper/internal/rendezvous"
	"github.com/LeJamon/yggjumper/internal/stunresolver"
	"github.com/LeJamon/yggjumper/internal/traversal"
)

// Deps are the collaborators the Controller drives. Engine.TLSConfig may
// be nil when neither "tls" nor "quic" is present in Config.YggdrasilProtocols.
type Deps struct {
	Admin  *admin.Client
	Stun   *stunresolver.Resolver
	Engine *traversal.Engine
	Config *config.Config
	Logger *slog.Logger
}

// Controller is the Session Watcher & Controller (C5). One Controller
// drives every remote peer's state machine for a single local jumper
// instance.
type Controller struct {
	admin  *admin.Client
	stun   *stunresolver.Resolver
	engine *traversal.Engine
	cfg    *config.Config
	log    *slog.Logger

	whitelist overlay.Whitelist
	ledger    *FailureLedger

	mu    sync.Mutex
	self  overlay.Address
	peers map[overlay.Address]*peerEntry

	listenerMu sync.Mutex
	pending    map[overlay.Address]chan *rendezvous.Channel

	// PreSplice, if set, is consulted just before addPeer is called for a
	// successfully traversed peer; returning false vetoes the splice and
	// sends the peer to Cooldown instead. yggdrasil_dpi's own semantics
	// are out of scope (spec.md 9, Open Question 1), but this is the hook
	// point a future dpi module would occupy.
	PreSplice func(addr overlay.Address, result traversal.Result) bool
}

// New validates cfg's whitelist and builds a Controller ready for Run.
func New(deps Deps) (*Controller, error) {
	wl, err := overlay.ParseWhitelist(deps.Config.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		admin:     deps.Admin,
		stun:      deps.Stun,
		engine:    deps.Engine,
		cfg:       deps.Config,
		log:       log,
		whitelist: wl,
		ledger:    NewFailureLedger(deps.Config.Timings.FailureLedgerTTL),
		peers:     make(map[overlay.Address]*peerEntry),
		pending:   make(map[overlay.Address]chan *rendezvous.Channel),
	}, nil
}

// Run learns the local overlay address, starts the rendezvous listener,
// and polls the router forever until ctx is cancelled (spec.md 4.5).
func (c *Controller) Run(ctx context.Context) error {
	self, err := c.admin.GetSelf(ctx)
	if err != nil {
		return fmt.Errorf("controller: getSelf: %w", err)
	}
	addr, err := overlay.ParseAddress(self.Address)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c.mu.Lock()
	c.self = addr
	c.mu.Unlock()
	c.log.Info("controller starting", "self", addr.String())

	ln, err := rendezvous.Listen(c.cfg.ListenPort)
	if err != nil {
		return err
	}
	go c.acceptLoop(ctx, ln)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	ticker := time.NewTicker(c.cfg.Timings.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.pollOnce(ctx); err != nil {
			c.log.Warn("poll failed", "err", err)
			if errors.Is(err, admin.ErrUnavailable) && !c.cfg.YggdrasilAdminReconnect {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// acceptLoop accepts inbound rendezvous connections and hands each to the
// PeerState waiting for it (registered via waitForInbound). A connection
// from a peer with no waiter registered at that moment is closed.
func (c *Controller) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		ch, remote, err := rendezvous.Accept(ln, c.cfg.Timings.RendezvousReadTimeout)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.log.Warn("rendezvous accept failed", "err", err)
			return
		}
		tcpAddr, ok := remote.(*net.TCPAddr)
		if !ok {
			ch.Close()
			continue
		}
		addr := overlay.Address(netIPTo16(tcpAddr.IP))
		c.listenerMu.Lock()
		waiter, ok := c.pending[addr]
		c.listenerMu.Unlock()
		if !ok {
			c.log.Warn("unexpected inbound rendezvous connection", "peer", addr.String())
			ch.Close()
			continue
		}
		waiter <- ch
	}
}

func netIPTo16(ip net.IP) [16]byte {
	var out [16]byte
	copy(out[:], ip.To16())
	return out
}

// waitForInbound registers addr as expecting one inbound rendezvous
// connection and returns a channel that receives it.
func (c *Controller) waitForInbound(addr overlay.Address) (<-chan *rendezvous.Channel, func()) {
	ch := make(chan *rendezvous.Channel, 1)
	c.listenerMu.Lock()
	c.pending[addr] = ch
	c.listenerMu.Unlock()
	return ch, func() {
		c.listenerMu.Lock()
		delete(c.pending, addr)
		c.listenerMu.Unlock()
	}
}

// pollOnce issues one getPeers call, reconciles disappeared sessions, and
// admits newly eligible peers into the state machine (spec.md 4.5).
func (c *Controller) pollOnce(ctx context.Context) error {
	records, err := c.admin.GetPeers(ctx)
	if err != nil {
		if errors.Is(err, admin.ErrUnavailable) {
			c.resetAllToIdle()
		}
		return err
	}

	c.ledger.Sweep(time.Now())

	snapshot := make(map[overlay.Address]admin.PeerRecord, len(records))
	for _, r := range records {
		addr, err := overlay.ParseAddress(r.Address)
		if err != nil {
			c.log.Warn("skipping peer with unparseable address", "address", r.Address, "err", err)
			continue
		}
		snapshot[addr] = r
	}

	c.reconcileDisappeared(snapshot)
	c.admitEligible(ctx, snapshot)
	return nil
}

// reconcileDisappeared cancels the child task of any active peer whose
// overlay session is no longer present (testable property 2: removePeer
// issued within one poll interval).
func (c *Controller) reconcileDisappeared(snapshot map[overlay.Address]admin.PeerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pe := range c.peers {
		if _, present := snapshot[addr]; present {
			continue
		}
		if pe.state.active() && pe.cancel != nil {
			pe.cancel()
		}
	}
}

func (c *Controller) admitEligible(ctx context.Context, snapshot map[overlay.Address]admin.PeerRecord) {
	for addr, rec := range snapshot {
		if !c.eligible(addr, rec) {
			continue
		}
		c.mu.Lock()
		pe, ok := c.peers[addr]
		if !ok {
			pe = &peerEntry{state: StateIdle}
			c.peers[addr] = pe
		}
		start := pe.state == StateIdle
		if start {
			pe.state = StateDiscovering
			pe.lastRecord = rec
		}
		c.mu.Unlock()
		if start {
			go c.drivePeer(ctx, addr)
		}
	}
}

func (c *Controller) eligible(addr overlay.Address, rec admin.PeerRecord) bool {
	if !c.whitelist.Allows(addr) {
		return false
	}
	if c.cfg.OnlyPeersAdvertisingJumper && (rec.NodeInfo == nil || !rec.NodeInfo.Jumper) {
		return false
	}
	c.mu.Lock()
	pe, ok := c.peers[addr]
	c.mu.Unlock()
	if ok && pe.state.terminalForEligibility() {
		return false
	}
	if ok && pe.state != StateIdle {
		return false
	}
	return true
}

func (c *Controller) resetAllToIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pe := range c.peers {
		if pe.cancel != nil {
			pe.cancel()
		}
		delete(c.peers, addr)
	}
}

func (c *Controller) setState(addr overlay.Address, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pe, ok := c.peers[addr]; ok {
		pe.state = s
	}
}

// drivePeer runs one peer's full pipeline: Discovering -> Rendezvous ->
// Traversing -> Spliced -> (session gone) -> Cooldown -> Idle.
func (c *Controller) drivePeer(parent context.Context, addr overlay.Address) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	pe := c.peers[addr]
	pe.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	log := logging.WithPeer(c.log, addr.String())

	c.mu.Lock()
	initiator := c.self.Initiates(addr)
	c.mu.Unlock()

	ch, err := c.openChannel(ctx, addr, initiator)
	if err != nil {
		log.Warn("rendezvous open failed", "err", err)
		c.cooldown(addr)
		return
	}
	defer ch.Close()

	if err := c.exchangeHello(ch, initiator); err != nil {
		log.Warn("rendezvous hello failed", "err", err)
		c.cooldown(addr)
		return
	}

	result, ok := c.negotiateAndTraverse(ctx, ch, addr, initiator, log)
	if !ok {
		c.cooldown(addr)
		return
	}

	if c.PreSplice != nil && !c.PreSplice(addr, result) {
		log.Info("splice vetoed", "url", result.TraversalURL)
		result.Conn.Close()
		c.cooldown(addr)
		return
	}

	c.setState(addr, StateSpliced)
	if err := c.admin.AddPeer(ctx, result.TraversalURL); err != nil {
		log.Warn("addPeer failed", "url", result.TraversalURL, "err", err)
		result.Conn.Close()
		c.recordFailure(addr)
		c.cooldown(addr)
		return
	}
	c.ledger.RecordSuccess(addr)
	log.Info("spliced", "url", result.TraversalURL, "transport", result.Transport.String())

	c.mu.Lock()
	pe.traversalURL = result.TraversalURL
	pe.conn = result.Conn
	c.mu.Unlock()

	<-ctx.Done()

	_ = c.admin.RemovePeer(context.Background(), result.TraversalURL)
	result.Conn.Close()
	log.Info("unspliced", "url", result.TraversalURL)
	c.cooldown(addr)
}

// openChannel dials out if local initiates, otherwise waits for the
// listener to deliver the peer's inbound connection (spec.md 4.3).
func (c *Controller) openChannel(ctx context.Context, addr overlay.Address, initiator bool) (*rendezvous.Channel, error) {
	if initiator {
		dialCtx, cancel := context.WithTimeout(ctx, rendezvous.DialTimeout)
		defer cancel()
		return rendezvous.Dial(dialCtx, addr, c.cfg.ListenPort, c.cfg.Timings.RendezvousReadTimeout)
	}

	waiter, cleanup := c.waitForInbound(addr)
	defer cleanup()
	select {
	case ch := <-waiter:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(rendezvous.DialTimeout):
		return nil, fmt.Errorf("rendezvous: no inbound connection from %s within %s", addr, rendezvous.DialTimeout)
	}
}

func (c *Controller) exchangeHello(ch *rendezvous.Channel, initiator bool) error {
	local := rendezvous.Hello{Version: rendezvous.ProtocolVersion, SupportedTransports: c.cfg.YggdrasilProtocols}
	if initiator {
		if err := ch.SendHello(local); err != nil {
			return err
		}
		_, err := ch.ReadHello()
		return err
	}
	if _, err := ch.ReadHello(); err != nil {
		return err
	}
	return ch.SendHello(local)
}

// negotiateAndTraverse walks the configured transports in order, offering
// each in turn until one completes a successful traversal (spec.md 4.5
// step 3: "either try the next configured transport or ... fall back to
// Cooldown").
func (c *Controller) negotiateAndTraverse(ctx context.Context, ch *rendezvous.Channel, addr overlay.Address, initiator bool, log *slog.Logger) (traversal.Result, bool) {
	for _, proto := range c.cfg.YggdrasilProtocols {
		transport, ok := overlay.ParseTransport(proto)
		if !ok {
			continue
		}
		tlog := logging.WithTransport(log, transport.String())

		c.setState(addr, StateDiscovering)
		ep, _, err := c.stun.Resolve(ctx, transport, c.cfg.ListenPort, c.cfg.StunServers, stunresolver.Options{
			NoCheck:      !c.cfg.StunCrossCheck,
			PrintServers: c.cfg.StunPrintServers,
		})
		if err != nil {
			logging.WithErrKind(tlog, errKind(err)).Warn("stun resolve failed", "err", err)
			continue
		}

		c.setState(addr, StateRendezvous)
		remoteOffer, t0, err := c.exchangeOfferAndGo(ch, initiator, transport, ep)
		if err != nil {
			logging.WithErrKind(tlog, errKind(err)).Warn("rendezvous offer exchange failed", "err", err)
			continue
		}

		remoteIP := net.ParseIP(remoteOffer.ExternalIP)
		if remoteIP == nil {
			tlog.Warn("peer offered unparseable external ip", "ip", remoteOffer.ExternalIP)
			continue
		}

		var verifyPeerKey func(certDER []byte) error
		if transport != overlay.TransportStream {
			if key := c.expectedPeerKey(addr); len(key) > 0 {
				verifyPeerKey = traversal.VerifyOverlayKey(key)
			}
		}

		c.setState(addr, StateTraversing)
		res, err := c.engine.Run(ctx, transport, c.cfg.ListenPort, traversal.RemoteEndpoint{IP: remoteIP, Port: remoteOffer.ExternalPort}, t0, initiator, verifyPeerKey)
		if err != nil {
			logging.WithErrKind(tlog, errKind(err)).Warn("traversal attempt failed", "err", err)
			_ = ch.SendResult(rendezvous.Result{OK: false, Reason: err.Error()})
			// Consume the peer's result so the next attempt's offer/accept
			// exchange does not read it in place of its own frame.
			_, _ = ch.ReadResult()
			if initiator {
				// Only the initiator counts the failure, to avoid double
				// counting a single failed attempt (spec.md 4.3).
				c.recordFailure(addr)
			}
			continue
		}

		_ = ch.SendResult(rendezvous.Result{OK: true})
		return res, true
	}
	return traversal.Result{}, false
}

// exchangeOfferAndGo sends this side's offer, reads the peer's, and
// returns the negotiated start time. The initiator sends first to keep
// the exchange deterministic over a single duplex channel. The responder
// computes t0 from its own clock alone: offers carry no sender timestamp,
// so the initiator's clock does not enter t0.
func (c *Controller) exchangeOfferAndGo(ch *rendezvous.Channel, initiator bool, transport overlay.Transport, self stunresolver.Endpoint) (rendezvous.Offer, time.Time, error) {
	localNow := time.Now()
	offer := rendezvous.Offer{
		Transport:    transport.String(),
		ExternalIP:   self.IP.String(),
		ExternalPort: self.Port,
		Nonce:        randomNonce(),
	}

	if initiator {
		if err := ch.SendOffer(offer); err != nil {
			return rendezvous.Offer{}, time.Time{}, err
		}
		remote, err := ch.ReadAccept()
		if err != nil {
			return rendezvous.Offer{}, time.Time{}, err
		}
		g, err := ch.ReadGo()
		if err != nil {
			return rendezvous.Offer{}, time.Time{}, err
		}
		return rendezvous.Offer{Transport: remote.Transport, ExternalIP: remote.ExternalIP, ExternalPort: remote.ExternalPort, Nonce: remote.Nonce}, time.UnixMilli(g.T0UnixMs), nil
	}

	remote, err := ch.ReadOffer()
	if err != nil {
		return rendezvous.Offer{}, time.Time{}, err
	}
	accept := rendezvous.Accept{Transport: offer.Transport, ExternalIP: offer.ExternalIP, ExternalPort: offer.ExternalPort, Nonce: offer.Nonce, EchoNonce: remote.Nonce}
	if err := ch.SendAccept(accept); err != nil {
		return rendezvous.Offer{}, time.Time{}, err
	}
	t0 := rendezvous.NegotiateT0(localNow, localNow, c.cfg.Timings.RendezvousDelta)
	if err := ch.SendGo(rendezvous.Go{T0UnixMs: t0.UnixMilli()}); err != nil {
		return rendezvous.Offer{}, time.Time{}, err
	}
	return remote, t0, nil
}

// expectedPeerKey returns the overlay public key the admin channel last
// reported for addr, decoded from hex, or nil if none is on record. It
// backs the TLS/QUIC variants' peer authentication (spec.md 4.4).
func (c *Controller) expectedPeerKey(addr overlay.Address) []byte {
	c.mu.Lock()
	pe, ok := c.peers[addr]
	c.mu.Unlock()
	if !ok || pe.lastRecord.PublicKey == "" {
		return nil
	}
	key, err := hex.DecodeString(pe.lastRecord.PublicKey)
	if err != nil {
		return nil
	}
	return key
}

func (c *Controller) recordFailure(addr overlay.Address) {
	count := c.ledger.RecordFailure(addr)
	if c.cfg.FailedTraversalLimit > 0 && count > c.cfg.FailedTraversalLimit {
		c.setState(addr, StateBlacklisted)
		c.log.Warn("peer blacklisted", "peer", addr.String(), "failures", count)
	}
}

// cooldown parks addr in Cooldown for cooldown_interval, then returns it
// to Idle unless it was blacklisted in the meantime.
func (c *Controller) cooldown(addr overlay.Address) {
	c.mu.Lock()
	pe, ok := c.peers[addr]
	if !ok {
		c.mu.Unlock()
		return
	}
	if pe.state == StateBlacklisted {
		c.mu.Unlock()
		return
	}
	pe.state = StateCooldown
	pe.traversalURL = ""
	pe.conn = nil
	c.mu.Unlock()

	time.AfterFunc(c.cfg.Timings.CooldownInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if pe, ok := c.peers[addr]; ok && pe.state == StateCooldown {
			pe.state = StateIdle
		}
	})
}

// errKind classifies a failed attempt into the err_kind attribute attached
// to its log line (spec.md 7).
func errKind(err error) string {
	var mismatch *stunresolver.MismatchError
	var rzProto *rendezvous.ErrProtocol
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.Is(err, stunresolver.ErrTimeout):
		return "StunTimeout"
	case errors.As(err, &mismatch):
		return "StunMismatch"
	case errors.Is(err, stunresolver.ErrAllServersFailed):
		return "StunAllFailed"
	case errors.Is(err, rendezvous.ErrClosed):
		return "RendezvousClosed"
	case errors.As(err, &rzProto):
		return "RendezvousProtocol"
	case errors.Is(err, traversal.ErrHandshakeFailed):
		return "TraversalHandshake"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, traversal.ErrAllAttemptsFailed):
		return "TraversalTimeout"
	case errors.Is(err, traversal.ErrCancelled):
		return "Cancelled"
	case errors.Is(err, traversal.ErrUnsupported):
		return "Unsupported"
	default:
		return "Unknown"
	}
}

func randomNonce() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
