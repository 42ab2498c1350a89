package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/entangled-chain/node/pkg/node"
	"github.com/entangled-chain/node/pkg/protocol"
	"github.com/entangled-chain/node/pkg/txn"
)

// handleRunNode is idempotent: a second call is a no-op. The node's own
// identity and url are fixed at construction, so this handler only
// acknowledges the request.
func (s *Server) handleRunNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.RunNodeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	info := protocol.NodeInfo{
		NodeID:          s.node.ID(),
		URL:             s.node.URL(),
		Peers:           s.node.Peers(),
		EntangledPairID: s.node.EntangledPairID(),
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFindPair(w http.ResponseWriter, r *http.Request) {
	err := s.node.FindPair(r.Context())
	if err == node.ErrAlreadyPaired {
		writeError(w, http.StatusLocked, "already paired")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"entangled_pair_id": s.node.EntangledPairID()})
}

func (s *Server) handleEntanglementRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.EntanglementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	requesterURL, ok := s.node.Peers()[req.RemotePeerID]
	if !ok {
		writeError(w, http.StatusNotFound, node.ErrPeerUnknown.Error())
		return
	}

	err := s.node.HandleEntanglementRequest(r.Context(), req.RemotePeerID, requesterURL, req.RequestID)
	if err == node.ErrAlreadyPaired {
		writeError(w, http.StatusLocked, "already paired")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleReceivePairKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.ReceivePairKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.node.ReceivePairKey(req.Key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBlockchain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.BlockchainSnapshot{
		Chain:          s.node.Chain().Chain(),
		CoherenceChain: s.node.Chain().CoherenceChain(),
	})
}

func (s *Server) handleValidateBlockchain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": s.node.Chain().Validate()})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Peers())
}

func (s *Server) handleReceivePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.ReceivePeersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.node.ReceivePeers(req)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.node.Chain() == nil {
		writeError(w, http.StatusBadRequest, node.ErrUninitialized.Error())
		return
	}
	var tx txn.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction body")
		return
	}
	s.node.Chain().AddTransaction(&tx)
	if err := s.node.MaybeStartRound(r.Context()); err != nil {
		s.logger.Printf("consensus round error: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Chain().PendingTransactions())
}

func (s *Server) handleReceiveTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleAddTransaction(w, r)
}

func (s *Server) handleReceivePrediction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.ReceivePredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.node.ReceivePrediction(req.NodeID, req.Prediction)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReceiveScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.ReceiveScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.node.ReceiveScore(r.Context(), req.NodeID, req.Score)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReceiveBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.ReceiveBlocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.node.ReceiveBlocks(req.NodeID, req.Block, req.CoherenceBlock, req.EntangledHash)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/block/")
	if hash == "" {
		writeError(w, http.StatusNotFound, "missing hash")
		return
	}
	b, err := s.node.Chain().BlockByHash(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCoherenceBlockByHash(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/coherence_block/")
	if hash == "" {
		writeError(w, http.StatusNotFound, "missing hash")
		return
	}
	cb, err := s.node.Chain().CoherenceBlockByHash(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cb)
}
