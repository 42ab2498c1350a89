// Command entangled-node runs a single ledger node participating in
// entanglement consensus: it wires the wallet, chain state, node
// orchestrator, and HTTP protocol surface together and serves them until
// interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/entangled-chain/node/pkg/chain"
	"github.com/entangled-chain/node/pkg/config"
	"github.com/entangled-chain/node/pkg/node"
	"github.com/entangled-chain/node/pkg/server"
)

func main() {
	nodeID := flag.String("node-id", "", "node identity; defaults to the size of the bootstrapped peer map")
	url := flag.String("url", "", "this node's advertised address, e.g. http://127.0.0.1:5000")
	flag.Parse()

	cfg := config.Load()

	logger := log.New(os.Stdout, "[entangled-node] ", log.LstdFlags)
	logger.Printf("🧬 starting entanglement node")

	roster, err := cfg.LoadPeerRoster()
	if err != nil {
		logger.Fatalf("load peer roster: %v", err)
	}

	id := *nodeID
	if id == "" {
		id = indexFromRoster(roster.Peers)
	}
	advertisedURL := *url
	if advertisedURL == "" {
		advertisedURL = cfg.BootstrapNodeURL
	}

	bc, err := chain.New(cfg.TransactionLimit)
	if err != nil {
		logger.Fatalf("💥 genesis failed: %v", err)
	}
	logger.Printf("✅ genesis block constructed")

	peerClient := server.NewHTTPPeerClient()
	n := node.NewNode(id, advertisedURL, roster.Peers, bc, peerClient, node.Config{
		MaxPenalizationTime: cfg.MaxPenalizationTime,
		MaxPenalties:        cfg.MaxPenalties,
	}, log.New(os.Stdout, "[node] ", log.LstdFlags))

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 30*time.Second)
	n.Bootstrap(bootstrapCtx)
	bootstrapCancel()
	logger.Printf("🤝 peer registry bootstrapped with %d peers", len(n.Peers()))

	srv := server.New(n, log.New(os.Stdout, "[server] ", log.LstdFlags))
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Printf("🌐 listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("🛑 shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
}

// indexFromRoster assigns identity from the size of the bootstrapped peer
// map, matching the original source's node.py convention.
func indexFromRoster(peers map[string]string) string {
	return strconv.Itoa(len(peers))
}
