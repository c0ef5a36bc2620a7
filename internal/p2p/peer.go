package p2p

import (
	"net"
	"sync"
	"time"
)

// initialQualityScore is where every peer starts; it falls when the peer
// relays an invalid transaction, and well-formed traffic does not raise it.
const initialQualityScore = 100.0

// Peer is one connected counterparty: a raw TCP socket plus the bookkeeping
// the registry and rate limiter need.
type Peer struct {
	conn     net.Conn
	addr     string // remote "ip:port"
	outbound bool

	connectedAt time.Time

	writeMu sync.Mutex

	mu            sync.RWMutex
	nodeID        uint64
	handshakeDone bool
	lastSeen      time.Time
	bestHeight    uint64
	qualityScore  float64
	bytesIn       uint64
	bytesOut      uint64
	msgsIn        uint64
	msgsOut       uint64

	limiter *rateLimiter

	// Single-outstanding-request correlation channels: each request method
	// sends, then blocks on the matching channel for this connection's next
	// reply of that kind. Buffered by one so the read loop never blocks
	// delivering a response nobody is waiting for.
	syncResp  chan *SyncResponseMsg
	blockResp chan *BlockResponseMsg
	pongResp  chan *PongMsg
	peersResp chan *PeersResponseMsg

	closed    chan struct{}
	closeOnce sync.Once
}

// newPeer wraps an accepted or dialed connection.
func newPeer(conn net.Conn, outbound bool, limiterCfg RateLimitConfig) *Peer {
	return &Peer{
		conn:         conn,
		addr:         conn.RemoteAddr().String(),
		outbound:     outbound,
		connectedAt:  time.Now(),
		lastSeen:     time.Now(),
		qualityScore: initialQualityScore,
		limiter:      newRateLimiter(limiterCfg),
		syncResp:     make(chan *SyncResponseMsg, 1),
		blockResp:    make(chan *BlockResponseMsg, 1),
		pongResp:     make(chan *PongMsg, 1),
		peersResp:    make(chan *PeersResponseMsg, 1),
		closed:       make(chan struct{}),
	}
}

// IP returns the remote address without its port, for ban/connection-cap
// bookkeeping.
func (p *Peer) IP() string {
	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return p.addr
	}
	return host
}

func (p *Peer) send(magic [4]byte, t MsgType, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := WriteFrame(p.conn, magic, t, payload); err != nil {
		return err
	}
	p.mu.Lock()
	p.msgsOut++
	p.bytesOut += uint64(len(payload))
	p.mu.Unlock()
	return nil
}

// touch refreshes last-seen and records inbound traffic accounting.
func (p *Peer) touch(n int) {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.msgsIn++
	p.bytesIn += uint64(n)
	p.mu.Unlock()
}

// bumpScore adjusts the peer's quality score, clamped at zero.
func (p *Peer) bumpScore(delta float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qualityScore += delta
	if p.qualityScore < 0 {
		p.qualityScore = 0
	}
	return p.qualityScore
}

func (p *Peer) setBestHeight(h uint64) {
	p.mu.Lock()
	if h > p.bestHeight {
		p.bestHeight = h
	}
	p.mu.Unlock()
}

func (p *Peer) setHandshakeDone() {
	p.mu.Lock()
	p.handshakeDone = true
	p.mu.Unlock()
}

// Snapshot is an immutable copy of peer state for registry listings.
type Snapshot struct {
	Addr          string
	NodeID        uint64
	Outbound      bool
	ConnectedAt   time.Time
	LastSeen      time.Time
	BestHeight    uint64
	QualityScore  float64
	HandshakeDone bool
	BytesIn       uint64
	BytesOut      uint64
}

func (p *Peer) snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Addr:          p.addr,
		NodeID:        p.nodeID,
		Outbound:      p.outbound,
		ConnectedAt:   p.connectedAt,
		LastSeen:      p.lastSeen,
		BestHeight:    p.bestHeight,
		QualityScore:  p.qualityScore,
		HandshakeDone: p.handshakeDone,
		BytesIn:       p.bytesIn,
		BytesOut:      p.bytesOut,
	}
}

func (p *Peer) isStale(timeout time.Duration) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.lastSeen) > timeout
}

func (p *Peer) score() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qualityScore
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}
