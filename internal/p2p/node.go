// Package p2p implements the node-to-node wire protocol: a raw,
// length-framed TCP transport with an explicit magic-byte handshake, a
// bounded peer registry, per-peer rate limiting, an offense-scoring ban
// manager, and the block/transaction gossip and sync state machine.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	atlog "github.com/atmnchain/atmnd/internal/log"
	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 30 * time.Second
	peerGCInterval   = 5 * time.Minute
	defaultPeerIdle  = 90 * time.Minute
	dialTimeout      = 10 * time.Second
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	Magic      [4]byte
	UserAgent  string
	RateLimit  RateLimitConfig
	DB         storage.DB // peer/ban persistence; nil disables it (tests)
}

// Node is a raw-TCP P2P endpoint: it accepts and dials connections,
// performs the handshake, and drives the per-peer message state machine.
type Node struct {
	config   Config
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nodeID      uint64
	genesisHash types.Hash
	heightFn    func() uint64

	registry   *registry
	BanManager *BanManager
	peerStore  *PeerStore

	blockAnnounceHandler func(addr string, msg BlockAnnounceMsg)
	blockProvider        func(hash types.Hash) (*block.Block, bool)
	txHandler            func(t *tx.Transaction) error
	syncProvider         func(fromHeight uint64, max uint32) (blocks []*block.Block, hasMore bool)
	onPeerConnected      func(addr string)
}

// New creates a P2P node with the given config. Call SetGenesisHash,
// SetHeightFn, and the handler setters before Start.
func New(cfg Config) *Node {
	if cfg.Magic == ([4]byte{}) {
		cfg.Magic = MagicMainnet
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		nodeID:   newNodeID(),
		registry: newRegistry(cfg.MaxPeers),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
		n.BanManager = NewBanManager(NewBanStore(cfg.DB), n)
	} else {
		n.BanManager = NewBanManager(nil, n)
	}
	return n
}

func (n *Node) logger() zerolog.Logger { return atlog.WithComponent("p2p") }

// SetGenesisHash configures the genesis hash peers must agree on during
// handshake.
func (n *Node) SetGenesisHash(h types.Hash) { n.genesisHash = h }

// SetHeightFn supplies the local chain height advertised in handshakes.
func (n *Node) SetHeightFn(fn func() uint64) { n.heightFn = fn }

// SetBlockAnnounceHandler is invoked when a peer announces a block hash the
// caller should consider fetching.
func (n *Node) SetBlockAnnounceHandler(fn func(addr string, msg BlockAnnounceMsg)) {
	n.blockAnnounceHandler = fn
}

// SetBlockProvider supplies blocks for incoming BlockRequest messages.
// SyncRequests are served by the provider set with SetSyncProvider.
func (n *Node) SetBlockProvider(fn func(hash types.Hash) (*block.Block, bool)) {
	n.blockProvider = fn
}

// SetTxHandler is invoked for every TransactionBroadcast received. A
// non-nil error penalizes the sending peer's quality score; success
// triggers regossip to the node's other peers.
func (n *Node) SetTxHandler(fn func(t *tx.Transaction) error) { n.txHandler = fn }

// SetSyncProvider supplies the block range for incoming SyncRequests.
func (n *Node) SetSyncProvider(fn func(fromHeight uint64, max uint32) ([]*block.Block, bool)) {
	n.syncProvider = fn
}

// SetOnPeerConnected registers a callback fired once a peer's handshake
// completes successfully.
func (n *Node) SetOnPeerConnected(fn func(addr string)) { n.onPeerConnected = fn }

// Start opens the listening socket and begins accepting and dialing peers.
func (n *Node) Start() error {
	addr := fmt.Sprintf("%s:%d", n.config.ListenAddr, n.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	n.listener = ln

	n.BanManager.LoadBans()

	n.wg.Add(1)
	go n.acceptLoop()

	for _, seed := range n.config.Seeds {
		seed := seed
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.dial(seed, "seed")
		}()
	}

	n.wg.Add(1)
	go n.maintenanceLoop()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.BanManager.RunPruneLoop(n.ctx.Done())
	}()

	n.logger().Info().Str("addr", addr).Int("seeds", len(n.config.Seeds)).Msg("p2p node started")
	return nil
}

// Stop closes the listener, disconnects every peer, and waits for
// background goroutines to exit.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	for _, p := range n.registry.list() {
		p.close()
	}
	n.wg.Wait()
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				n.logger().Debug().Err(err).Msg("accept failed")
				continue
			}
		}
		n.handleAccepted(conn)
	}
}

func (n *Node) handleAccepted(conn net.Conn) {
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if n.BanManager.IsBanned(ip) {
		_ = conn.Close()
		return
	}
	if n.registry.countFromIP(ip) >= maxConnsPerIP(n.config.RateLimit) {
		_ = conn.Close()
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.handleConn(conn, false)
	}()
}

func maxConnsPerIP(cfg RateLimitConfig) int {
	if cfg.MaxConnectionsPerIP <= 0 {
		return DefaultRateLimitConfig().MaxConnectionsPerIP
	}
	return cfg.MaxConnectionsPerIP
}

// Dial connects to a single peer address and, on success, runs it through
// the same handshake and message loop as an accepted connection. It
// returns once the handshake completes (or fails); the peer's read loop
// continues in the background.
func (n *Node) Dial(addr string) error { return n.dial(addr, "manual") }

func (n *Node) dial(addr, source string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		n.logger().Debug().Err(err).Str("addr", addr).Msg("dial failed")
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := n.handleConn(conn, true); err != nil {
		return err
	}
	if n.peerStore != nil {
		_ = n.peerStore.Save(PeerRecord{Addr: addr, LastSeen: time.Now().Unix(), Source: source})
	}
	return nil
}

// handleConn performs the handshake and, on success, registers the peer
// and spawns its read loop in the background. It returns once the peer is
// either registered or rejected — it never blocks on the connection's
// lifetime.
func (n *Node) handleConn(conn net.Conn, outbound bool) error {
	p := newPeer(conn, outbound, n.config.RateLimit)

	if err := n.doHandshake(p); err != nil {
		n.logger().Debug().Err(err).Str("peer", p.addr).Msg("handshake failed")
		n.BanManager.RecordOffense(p.IP(), PenaltyHandshakeFail, err.Error())
		p.close()
		return err
	}

	if !n.registry.add(p) {
		n.logger().Debug().Str("peer", p.addr).Msg("peer registry full, dropping connection")
		p.close()
		return fmt.Errorf("peer registry full")
	}
	p.setHandshakeDone()

	n.logger().Info().Str("peer", p.addr).Bool("outbound", outbound).Msg("peer connected")
	if n.onPeerConnected != nil {
		n.onPeerConnected(p.addr)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop(p)
	}()
	return nil
}

// doHandshake runs the simultaneous challenge/response exchange described
// in the wire protocol: both sides send a Handshake carrying a fresh
// nonce, then prove receipt of the peer's nonce via a HandshakeAck.
func (n *Node) doHandshake(p *Peer) error {
	_ = p.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer p.conn.SetDeadline(time.Time{})

	ourChallenge := newChallenge()
	ours := n.buildHandshake(ourChallenge)
	oursPayload, err := json.Marshal(ours)
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	if err := WriteFrame(p.conn, n.config.Magic, MsgHandshake, oursPayload); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	frame, err := ReadFrame(p.conn, n.config.Magic)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if frame.Type != MsgHandshake {
		return fmt.Errorf("expected Handshake, got %s", frame.Type)
	}
	var theirs HandshakeMsg
	if err := json.Unmarshal(frame.Payload, &theirs); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if reason := n.validateHandshake(theirs); reason != "" {
		return fmt.Errorf("handshake rejected: %s", reason)
	}

	ackPayload, err := json.Marshal(HandshakeAck{Proof: proveChallenge(theirs.Challenge, theirs.NodeID)})
	if err != nil {
		return fmt.Errorf("marshal handshake ack: %w", err)
	}
	if err := WriteFrame(p.conn, n.config.Magic, MsgHandshakeAck, ackPayload); err != nil {
		return fmt.Errorf("send handshake ack: %w", err)
	}

	ackFrame, err := ReadFrame(p.conn, n.config.Magic)
	if err != nil {
		return fmt.Errorf("read handshake ack: %w", err)
	}
	if ackFrame.Type != MsgHandshakeAck {
		return fmt.Errorf("expected HandshakeAck, got %s", ackFrame.Type)
	}
	var theirAck HandshakeAck
	if err := json.Unmarshal(ackFrame.Payload, &theirAck); err != nil {
		return fmt.Errorf("decode handshake ack: %w", err)
	}
	if theirAck.Proof != proveChallenge(ourChallenge, n.nodeID) {
		return fmt.Errorf("handshake proof mismatch")
	}

	p.nodeID = theirs.NodeID
	p.setBestHeight(theirs.BestHeight)
	return nil
}

func (n *Node) readLoop(p *Peer) {
	defer func() {
		n.registry.remove(p.addr)
		p.close()
		n.logger().Info().Str("peer", p.addr).Msg("peer disconnected")
	}()

	for {
		frame, err := ReadFrame(p.conn, n.config.Magic)
		if err != nil {
			return
		}
		p.touch(len(frame.Payload))

		if ok, violations := p.limiter.allow(); !ok {
			n.BanManager.RecordOffense(p.IP(), PenaltyRateLimit, "rate limit exceeded")
			if violations >= 3 {
				return
			}
			continue
		}

		n.dispatch(p, frame)
	}
}

func (n *Node) dispatch(p *Peer, frame *Frame) {
	switch frame.Type {
	case MsgBlockAnnounce:
		var msg BlockAnnounceMsg
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return
		}
		p.setBestHeight(msg.Height)
		if n.blockAnnounceHandler != nil {
			n.blockAnnounceHandler(p.addr, msg)
		}

	case MsgBlockRequest:
		var req BlockRequestMsg
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		resp := BlockResponseMsg{}
		if n.blockProvider != nil {
			if b, ok := n.blockProvider(req.Hash); ok {
				resp.Found = true
				resp.Block = b
			}
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return
		}
		_ = p.send(n.config.Magic, MsgBlockResponse, payload)

	case MsgBlockResponse:
		var resp BlockResponseMsg
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			return
		}
		select {
		case p.blockResp <- &resp:
		default:
		}

	case MsgTransactionBroadcast:
		var msg TransactionBroadcastMsg
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return
		}
		if n.txHandler == nil {
			return
		}
		if err := n.txHandler(msg.Transaction); err != nil {
			p.bumpScore(-float64(PenaltyInvalidTx))
			n.BanManager.RecordOffense(p.IP(), PenaltyInvalidTx, "invalid transaction")
			return
		}
		n.broadcast(MsgTransactionBroadcast, frame.Payload, p.addr)

	case MsgGetPeers:
		peers := n.registry.list()
		addrs := make([]string, 0, len(peers))
		for _, peer := range peers {
			if peer.addr != p.addr {
				addrs = append(addrs, peer.addr)
			}
		}
		payload, err := json.Marshal(PeersResponseMsg{Addrs: addrs})
		if err != nil {
			return
		}
		_ = p.send(n.config.Magic, MsgPeersResponse, payload)

	case MsgPeersResponse:
		var resp PeersResponseMsg
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			return
		}
		select {
		case p.peersResp <- &resp:
		default:
		}

	case MsgPing:
		var ping PingMsg
		if err := json.Unmarshal(frame.Payload, &ping); err != nil {
			return
		}
		payload, err := json.Marshal(PongMsg{Nonce: ping.Nonce})
		if err != nil {
			return
		}
		_ = p.send(n.config.Magic, MsgPong, payload)

	case MsgPong:
		var pong PongMsg
		if err := json.Unmarshal(frame.Payload, &pong); err != nil {
			return
		}
		select {
		case p.pongResp <- &pong:
		default:
		}

	case MsgSyncRequest:
		var req SyncRequestMsg
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return
		}
		if req.Max == 0 || req.Max > maxSyncBatch {
			req.Max = maxSyncBatch
		}
		var resp SyncResponseMsg
		if n.syncProvider != nil {
			resp.Blocks, resp.HasMore = n.syncProvider(req.FromHeight, req.Max)
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return
		}
		_ = p.send(n.config.Magic, MsgSyncResponse, payload)

	case MsgSyncResponse:
		var resp SyncResponseMsg
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			return
		}
		select {
		case p.syncResp <- &resp:
		default:
		}
	}
}

// GetPeers queries a connected peer for its known addresses.
func (n *Node) GetPeers(ctx context.Context, addr string) ([]string, error) {
	p, ok := n.registry.get(addr)
	if !ok {
		return nil, fmt.Errorf("peer not connected: %s", addr)
	}
	payload, err := json.Marshal(GetPeersMsg{})
	if err != nil {
		return nil, err
	}
	if err := p.send(n.config.Magic, MsgGetPeers, payload); err != nil {
		return nil, err
	}
	select {
	case resp := <-p.peersResp:
		return resp.Addrs, nil
	case <-time.After(syncRequestTimeout):
		return nil, fmt.Errorf("get peers from %s timed out", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("peer %s disconnected", addr)
	}
}

// Ping sends a liveness probe to addr and waits for the matching Pong.
func (n *Node) Ping(ctx context.Context, addr string, nonce uint64) error {
	p, ok := n.registry.get(addr)
	if !ok {
		return fmt.Errorf("peer not connected: %s", addr)
	}
	payload, err := json.Marshal(PingMsg{Nonce: nonce})
	if err != nil {
		return err
	}
	if err := p.send(n.config.Magic, MsgPing, payload); err != nil {
		return err
	}
	select {
	case pong := <-p.pongResp:
		if pong.Nonce != nonce {
			return fmt.Errorf("pong nonce mismatch")
		}
		return nil
	case <-time.After(syncRequestTimeout):
		return fmt.Errorf("ping to %s timed out", addr)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return fmt.Errorf("peer %s disconnected", addr)
	}
}

// DisconnectPeer closes a specific peer's connection by address.
func (n *Node) DisconnectPeer(addr string) error {
	p, ok := n.registry.get(addr)
	if !ok {
		return fmt.Errorf("peer not connected: %s", addr)
	}
	p.close()
	return nil
}

func (n *Node) disconnectIP(ip string) {
	for _, p := range n.registry.list() {
		if p.IP() == ip {
			p.close()
		}
	}
}

// PeerCount returns the number of currently connected peers.
func (n *Node) PeerCount() int { return n.registry.len() }

// PeerList returns a snapshot of every currently connected peer.
func (n *Node) PeerList() []Snapshot {
	peers := n.registry.list()
	out := make([]Snapshot, len(peers))
	for i, p := range peers {
		out[i] = p.snapshot()
	}
	return out
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(peerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			evicted := n.registry.evictStaleOrLowScore(defaultPeerIdle)
			if evicted > 0 {
				n.logger().Debug().Int("count", evicted).Msg("evicted stale or low-quality peers")
			}
			n.persistPeers()
			if n.peerStore != nil {
				n.peerStore.PruneStale(staleThreshold)
			}
		}
	}
}

func (n *Node) persistPeers() {
	if n.peerStore == nil {
		return
	}
	for _, p := range n.registry.list() {
		snap := p.snapshot()
		_ = n.peerStore.Save(PeerRecord{
			Addr:     snap.Addr,
			NodeID:   snap.NodeID,
			LastSeen: snap.LastSeen.Unix(),
			Source:   "gossip",
		})
	}
}
