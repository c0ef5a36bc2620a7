// Package rpc implements the Rosetta-style JSON-over-HTTP query surface:
// network/list, network/options, network/status, block, block/transaction,
// mempool, mempool/transaction, account/balance and account/coins.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/chain"
	rlog "github.com/atmnchain/atmnd/internal/log"
	"github.com/atmnchain/atmnd/internal/mempool"
	"github.com/atmnchain/atmnd/internal/p2p"
	"github.com/atmnchain/atmnd/internal/utxo"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

const nodeVersion = "1.0.0"
const rosettaVersion = "1.4.13"

// Server is the query-surface HTTP server.
type Server struct {
	addr    string
	chain   *chain.Chain
	utxos   *utxo.Store
	pool    *mempool.Pool
	p2pNode *p2p.Node
	genesis *config.Genesis

	banManager *p2p.BanManager       // Stored only; no endpoint reads it (nil = not set).
	mempoolCfg *config.MempoolConfig // For metadata in network/options (nil = omitted).

	server *http.Server
	logger zerolog.Logger
	ln     net.Listener

	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.

	startedAt time.Time
}

// New creates a new query-surface server. rpcCfg controls IP filtering
// and CORS; a zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, ch *chain.Chain, utxos *utxo.Store, pool *mempool.Pool,
	p2pNode *p2p.Node, genesis *config.Genesis, rpcCfg ...config.RPCConfig) *Server {

	s := &Server{
		addr:      addr,
		chain:     ch,
		utxos:     utxos,
		pool:      pool,
		p2pNode:   p2pNode,
		genesis:   genesis,
		logger:    rlog.WithComponent("rpc"),
		startedAt: time.Now(),
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/network/list", s.withMiddleware(s.handleNetworkList))
	mux.HandleFunc("/network/options", s.withMiddleware(s.handleNetworkOptions))
	mux.HandleFunc("/network/status", s.withMiddleware(s.handleNetworkStatus))
	mux.HandleFunc("/block", s.withMiddleware(s.handleBlock))
	mux.HandleFunc("/block/transaction", s.withMiddleware(s.handleBlockTransaction))
	mux.HandleFunc("/mempool", s.withMiddleware(s.handleMempool))
	mux.HandleFunc("/mempool/transaction", s.withMiddleware(s.handleMempoolTransaction))
	mux.HandleFunc("/account/balance", s.withMiddleware(s.handleAccountBalance))
	mux.HandleFunc("/account/coins", s.withMiddleware(s.handleAccountCoins))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// SetBanManager attaches the ban manager to the server. No endpoint reports
// ban data; network/options metadata carries only the mempool policy.
func (s *Server) SetBanManager(bm *p2p.BanManager) {
	s.banManager = bm
}

// SetMempoolConfig attaches the admission policy so network/options can
// report it to callers.
func (s *Server) SetMempoolConfig(cfg config.MempoolConfig) {
	s.mempoolCfg = &cfg
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine. It
// returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("rpc server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// withMiddleware wraps a handler with IP filtering, CORS, method
// enforcement and body-size-limited JSON decoding into the concrete
// request type before calling h.
func (s *Server) withMiddleware(h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if len(s.allowedNets) > 0 {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !s.isIPAllowed(ip) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read body", false)
			return
		}
		if len(body) > maxBodySize {
			writeError(w, http.StatusRequestEntityTooLarge, codeInvalidRequest, "request body too large", false)
			return
		}

		h(w, r, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, message string, retriable bool) {
	writeJSON(w, status, Error{Code: code, Message: message, Retriable: retriable})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			break
		}
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// networkIdentifier returns this node's canonical network identifier.
func (s *Server) networkIdentifier() NetworkIdentifier {
	return NetworkIdentifier{Blockchain: "atmn", Network: s.genesis.ChainID}
}

func (s *Server) matchesNetwork(id NetworkIdentifier) bool {
	want := s.networkIdentifier()
	return id.Blockchain == want.Blockchain && id.Network == want.Network
}
