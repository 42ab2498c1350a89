// Package server wires the protocol surface onto stdlib net/http: the HTTP
// transport itself is an external collaborator, not part of the core
// consensus semantics, but something has to carry these messages to run the
// node, so this package provides it.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/entangled-chain/node/pkg/node"
	"github.com/entangled-chain/node/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the node's protocol surface over HTTP.
type Server struct {
	node   *node.Node
	logger *log.Logger
}

// New constructs a Server for n.
func New(n *node.Node, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}
	return &Server{node: n, logger: logger}
}

// Handler builds the full request router for every endpoint this node serves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/run_node", s.handleRunNode)
	mux.HandleFunc("/node_info", s.handleNodeInfo)
	mux.HandleFunc("/find_pair", s.handleFindPair)
	mux.HandleFunc("/entanglement_request", s.handleEntanglementRequest)
	mux.HandleFunc("/receive_pair_key", s.handleReceivePairKey)
	mux.HandleFunc("/blockchain", s.handleBlockchain)
	mux.HandleFunc("/validate_blockchain", s.handleValidateBlockchain)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/receive_peers", s.handleReceivePeers)
	mux.HandleFunc("/add_transaction", s.handleAddTransaction)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/receive_transaction", s.handleReceiveTransaction)
	mux.HandleFunc("/receive_prediction", s.handleReceivePrediction)
	mux.HandleFunc("/receive_score", s.handleReceiveScore)
	mux.HandleFunc("/receive_blocks", s.handleReceiveBlocks)
	mux.HandleFunc("/block/", s.handleBlockByHash)
	mux.HandleFunc("/coherence_block/", s.handleCoherenceBlockByHash)
	mux.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{}))

	return s.recoverMiddleware(mux)
}

// recoverMiddleware catches a panic from any handler, logs it, and writes a
// JSON error body instead of letting net/http's default recovery close the
// connection with no response body.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("🚨 panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeError converts an error into the JSON error body and status code this
// system uses throughout the protocol surface.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
