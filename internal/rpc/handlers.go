package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/utxo"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

func decode(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (s *Server) currency() Currency {
	symbol := s.genesis.Symbol
	if symbol == "" {
		symbol = s.genesis.ChainID
	}
	return Currency{Symbol: symbol, Decimals: int32(config.Decimals)}
}

func (s *Server) genesisIdentifier() (BlockIdentifier, error) {
	gb, err := s.chain.GetBlockByHeight(0)
	if err != nil {
		return BlockIdentifier{}, err
	}
	return blockIdentifierOf(0, gb), nil
}

// ── network/* ─────────────────────────────────────────────────────────────

func (s *Server) handleNetworkList(w http.ResponseWriter, r *http.Request, body []byte) {
	writeJSON(w, http.StatusOK, NetworkListResponse{
		NetworkIdentifiers: []NetworkIdentifier{s.networkIdentifier()},
	})
}

func (s *Server) handleNetworkOptions(w http.ResponseWriter, r *http.Request, body []byte) {
	var req NetworkRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}

	var meta map[string]any
	if s.mempoolCfg != nil {
		meta = map[string]any{
			"mempool": map[string]any{
				"max_transactions":   s.mempoolCfg.MaxTransactions,
				"max_total_bytes":    s.mempoolCfg.MaxTotalBytes,
				"max_tx_size":        s.mempoolCfg.MaxTxSize,
				"min_fee_per_byte":   s.mempoolCfg.MinFeePerByte,
				"tx_expiration_secs": s.mempoolCfg.TxExpirationSecs,
			},
		}
	}

	writeJSON(w, http.StatusOK, NetworkOptionsResponse{
		Version: Version{RosettaVersion: rosettaVersion, NodeVersion: nodeVersion},
		Allow: Allow{
			OperationStatuses: []OperationStatus{{Status: StatusSuccess, Successful: true}},
			OperationTypes:    []string{OpTransfer, OpMint, OpFee},
			Errors: []Error{
				{Code: codeInvalidRequest, Message: "invalid request"},
				{Code: codeInvalidNetwork, Message: "unknown network"},
				{Code: codeBlockNotFound, Message: "block not found"},
				{Code: codeTxNotFound, Message: "transaction not found"},
				{Code: codeInvalidAddress, Message: "invalid address"},
				{Code: codeInternal, Message: "internal error"},
			},
			HistoricalBalanceLookup: false,
		},
		Metadata: meta,
	})
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request, body []byte) {
	var req NetworkRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}
	if req.NetworkIdentifier.Network != "" && !s.matchesNetwork(req.NetworkIdentifier) {
		writeError(w, http.StatusBadRequest, codeInvalidNetwork, "unknown network", false)
		return
	}

	height := s.chain.Height()
	tip, err := s.chain.GetBlockByHeight(height)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load tip: %v", err), true)
		return
	}
	genID, err := s.genesisIdentifier()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load genesis: %v", err), true)
		return
	}

	var peers []PeerSummary
	if s.p2pNode != nil {
		for _, p := range s.p2pNode.PeerList() {
			peers = append(peers, PeerSummary{PeerID: p.Addr, Metadata: map[string]any{
				"best_height":   p.BestHeight,
				"quality_score": p.QualityScore,
				"outbound":      p.Outbound,
			}})
		}
	}

	writeJSON(w, http.StatusOK, NetworkStatusResponse{
		CurrentBlockIdentifier: blockIdentifierOf(height, tip),
		CurrentBlockTimestamp:  int64(tip.Header.Timestamp) * 1000,
		GenesisBlockIdentifier: genID,
		Peers:                  peers,
	})
}

// ── block/* ───────────────────────────────────────────────────────────────

func (s *Server) resolveBlock(p PartialBlockIdentifier) (uint64, *block.Block, *Error) {
	if p.Hash != nil {
		hash, err := types.HexToHash(*p.Hash)
		if err != nil {
			return 0, nil, &Error{Code: codeInvalidRequest, Message: "invalid block hash"}
		}
		blk, err := s.chain.GetBlock(hash)
		if err != nil {
			return 0, nil, &Error{Code: codeBlockNotFound, Message: "block not found"}
		}
		return blk.Height, blk, nil
	}
	if p.Index != nil {
		blk, err := s.chain.GetBlockByHeight(*p.Index)
		if err != nil {
			return 0, nil, &Error{Code: codeBlockNotFound, Message: "block not found"}
		}
		return *p.Index, blk, nil
	}
	height := s.chain.Height()
	blk, err := s.chain.GetBlockByHeight(height)
	if err != nil {
		return 0, nil, &Error{Code: codeBlockNotFound, Message: "block not found"}
	}
	return height, blk, nil
}

func (s *Server) buildTransaction(t *tx.Transaction) Transaction {
	var ops []Operation
	idx := int64(0)
	coinbase := len(t.Inputs) > 0 && t.Inputs[0].IsCoinbase()
	opType := OpTransfer
	if coinbase {
		opType = OpMint
	}

	for _, in := range t.Inputs {
		if in.IsCoinbase() {
			continue
		}
		ops = append(ops, Operation{
			OperationIdentifier: OperationIdentifier{Index: idx},
			Type:                OpTransfer,
			Status:              StatusSuccess,
			CoinChange: &CoinChange{
				CoinIdentifier: CoinIdentifier{Identifier: in.PrevOut.String()},
				CoinAction:     CoinSpent,
			},
		})
		idx++
	}

	txHash := t.Hash()
	for i, out := range t.Outputs {
		var acct *AccountIdentifier
		if addr, ok := out.PubKeyScript.Address(); ok {
			acct = &AccountIdentifier{Address: addr.String()}
		}
		amt := Amount{Value: strconv.FormatUint(out.Amount, 10), Currency: s.currency()}
		ops = append(ops, Operation{
			OperationIdentifier: OperationIdentifier{Index: idx},
			Type:                opType,
			Status:              StatusSuccess,
			Account:             acct,
			Amount:              &amt,
			CoinChange: &CoinChange{
				CoinIdentifier: CoinIdentifier{Identifier: fmt.Sprintf("%s:%d", txHash.String(), i)},
				CoinAction:     CoinCreated,
			},
		})
		idx++
	}

	return Transaction{
		TransactionIdentifier: TransactionIdentifier{Hash: txHash.String()},
		Operations:            ops,
	}
}

func (s *Server) buildBlock(height uint64, blk *block.Block) *Block {
	txs := make([]Transaction, len(blk.Transactions))
	for i, t := range blk.Transactions {
		txs[i] = s.buildTransaction(t)
	}

	parent := BlockIdentifier{Index: height, Hash: blk.Header.PrevHash.String()}
	if height > 0 {
		parent.Index = height - 1
	}

	return &Block{
		BlockIdentifier:       blockIdentifierOf(height, blk),
		ParentBlockIdentifier: parent,
		Timestamp:             int64(blk.Header.Timestamp) * 1000,
		Transactions:          txs,
	}
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, body []byte) {
	var req BlockRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}

	height, blk, rpcErr := s.resolveBlock(req.BlockIdentifier)
	if rpcErr != nil {
		writeJSON(w, http.StatusNotFound, rpcErr)
		return
	}
	writeJSON(w, http.StatusOK, BlockResponse{Block: s.buildBlock(height, blk)})
}

func (s *Server) handleBlockTransaction(w http.ResponseWriter, r *http.Request, body []byte) {
	var req BlockTransactionRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}

	hash, err := types.HexToHash(req.TransactionIdentifier.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid transaction hash", false)
		return
	}

	blk, err := s.chain.GetBlockByHeight(req.BlockIdentifier.Index)
	if err != nil {
		writeError(w, http.StatusNotFound, codeBlockNotFound, "block not found", false)
		return
	}

	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			built := s.buildTransaction(t)
			writeJSON(w, http.StatusOK, BlockTransactionResponse{Transaction: &built})
			return
		}
	}
	writeError(w, http.StatusNotFound, codeTxNotFound, "transaction not found in block", false)
}

// ── mempool/* ─────────────────────────────────────────────────────────────

func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request, body []byte) {
	hashes := s.pool.Hashes()
	ids := make([]TransactionIdentifier, len(hashes))
	for i, h := range hashes {
		ids[i] = TransactionIdentifier{Hash: h.String()}
	}
	writeJSON(w, http.StatusOK, MempoolResponse{TransactionIdentifiers: ids})
}

func (s *Server) handleMempoolTransaction(w http.ResponseWriter, r *http.Request, body []byte) {
	var req MempoolTransactionRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}
	hash, err := types.HexToHash(req.TransactionIdentifier.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid transaction hash", false)
		return
	}
	t := s.pool.Get(hash)
	if t == nil {
		writeError(w, http.StatusNotFound, codeTxNotFound, "transaction not in mempool", false)
		return
	}
	built := s.buildTransaction(t)
	writeJSON(w, http.StatusOK, MempoolTransactionResponse{Transaction: &built})
}

// ── account/* ─────────────────────────────────────────────────────────────

func coinsFor(utxos []*utxo.UTXO, cur Currency) []Coin {
	coins := make([]Coin, len(utxos))
	for i, u := range utxos {
		coins[i] = Coin{
			CoinIdentifier: CoinIdentifier{Identifier: u.Outpoint.String()},
			Amount:         Amount{Value: strconv.FormatUint(u.Value, 10), Currency: cur},
		}
	}
	return coins
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request, body []byte) {
	var req AccountBalanceRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}
	addr, err := types.ParseAddress(req.AccountIdentifier.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidAddress, "invalid address", false)
		return
	}

	coins, err := s.utxos.GetByAddress(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load utxos: %v", err), true)
		return
	}

	var total uint64
	for _, c := range coins {
		total += c.Value
	}

	height := s.chain.Height()
	tip, err := s.chain.GetBlockByHeight(height)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load tip: %v", err), true)
		return
	}

	cur := s.currency()
	writeJSON(w, http.StatusOK, AccountBalanceResponse{
		BlockIdentifier: blockIdentifierOf(height, tip),
		Balances:        []Amount{{Value: strconv.FormatUint(total, 10), Currency: cur}},
		Coins:           coinsFor(coins, cur),
	})
}

func (s *Server) handleAccountCoins(w http.ResponseWriter, r *http.Request, body []byte) {
	var req AccountCoinsRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request", false)
		return
	}
	addr, err := types.ParseAddress(req.AccountIdentifier.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidAddress, "invalid address", false)
		return
	}

	coins, err := s.utxos.GetByAddress(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load utxos: %v", err), true)
		return
	}

	height := s.chain.Height()
	tip, err := s.chain.GetBlockByHeight(height)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, fmt.Sprintf("load tip: %v", err), true)
		return
	}

	writeJSON(w, http.StatusOK, AccountCoinsResponse{
		BlockIdentifier: blockIdentifierOf(height, tip),
		Coins:           coinsFor(coins, s.currency()),
	})
}
