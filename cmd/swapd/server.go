package main

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightningnetwork/lnd/tor"
	"golang.org/x/sync/errgroup"

	"github.com/hashbridge/swapd/announce"
	"github.com/hashbridge/swapd/chainwatch/btcwatch"
	"github.com/hashbridge/swapd/chainwatch/ethwatch"
	"github.com/hashbridge/swapd/clock"
	"github.com/hashbridge/swapd/config"
	"github.com/hashbridge/swapd/healthcheck"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/swapdb"
	"github.com/hashbridge/swapd/swaplog"
	"github.com/hashbridge/swapd/swapwire"
	"github.com/hashbridge/swapd/ticker"
	"github.com/hashbridge/swapd/walletrpc"
	"github.com/hashbridge/swapd/walletrpc/btcwallet"
	"github.com/hashbridge/swapd/walletrpc/ethwallet"
)

// server wires every subsystem together, in the construction-then-start
// shape of the teacher daemon.
type server struct {
	cfg *config.Config
	log btclog.Logger

	seed      []byte
	master    *hdkeychain.ExtendedKey
	netParams *chaincfg.Params

	db         *swapdb.DB
	manager    *swap.Manager
	btcWatcher *btcwatch.Watcher
	ethWatcher *ethwatch.Watcher
	btcWallet  *btcwallet.Wallet
	ethWallet  *ethwallet.Wallet
	negotiator *announce.Negotiator
	metrics    *metrics
	monitors   []*healthcheck.Monitor

	listener *swapwire.Listener
	httpSrv  *http.Server

	mu       sync.Mutex
	peer     *swapwire.Peer
	pending  map[swap.ID]chan swapwire.Frame
	watchers map[swap.ID][]func()

	eg   errgroup.Group
	quit chan struct{}
}

func newServer(cfg *config.Config) (*server, error) {
	netParams, err := cfg.BitcoinNetParams()
	if err != nil {
		return nil, err
	}

	seed, err := loadOrCreateSeed(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	master, err := masterKey(seed, netParams)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}

	db, err := swapdb.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	btcRPC, err := dialBitcoin(cfg.Bitcoin)
	if err != nil {
		db.Close()
		return nil, err
	}
	ethRPC, err := ethclient.Dial(cfg.Ethereum.NodeURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to ethereum node: %w", err)
	}

	ethKey, err := walletrpc.EthereumAccountPath(master)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &server{
		cfg:       cfg,
		log:       swaplog.Logger(swaplog.SubDaemon),
		seed:      seed,
		master:    master,
		netParams: netParams,
		db:        db,
		metrics:   newMetrics(),
		pending:   make(map[swap.ID]chan swapwire.Frame),
		watchers:  make(map[swap.ID][]func()),
		quit:      make(chan struct{}),
	}

	s.btcWatcher = btcwatch.New(btcwatch.Config{
		RPC:       btcRPC,
		Ledger:    ledger.Bitcoin(cfg.Bitcoin.Network),
		NetParams: netParams,
		Ticker:    ticker.New(cfg.Bitcoin.PollInterval),
		Log:       swaplog.Logger(swaplog.SubChain),
	})
	s.ethWatcher = ethwatch.New(ethwatch.Config{
		RPC:    ethRPC,
		Ledger: ledger.Ethereum(cfg.Ethereum.ChainID),
		Ticker: ticker.New(cfg.Ethereum.PollInterval),
		Log:    swaplog.Logger(swaplog.SubChain),
	})

	s.btcWallet = btcwallet.New(btcwallet.Config{
		RPC:       btcRPC,
		NetParams: netParams,
		MasterKey: master,
	})
	s.ethWallet = ethwallet.New(ethwallet.Config{
		RPC: ethRPC,
		GasOracle: ethwallet.NewCachingGasOracle(
			ethRPC, 5*time.Second, 30*time.Second,
		),
		ChainID: new(big.Int).SetUint64(cfg.Ethereum.ChainID),
		Key:     ethKey.ToECDSA(),
	})

	s.manager = swap.NewManager(swap.Config{
		Store:        db,
		Log:          swaplog.Logger(swaplog.SubSwap),
		OnTransition: s.onTransition,
		OnTerminal:   s.onTerminal,
	})

	s.negotiator = announce.NewNegotiator(announce.Config{
		Clock:         clock.NewDefaultClock(),
		Log:           swaplog.Logger(swaplog.SubAnno),
		LocalIdentity: s.localIdentity,
		OnFinalized:   s.onFinalized,
	})

	s.monitors = []*healthcheck.Monitor{
		healthcheck.New(healthcheck.Config{
			Name: "bitcoin-rpc",
			Check: func(ctx context.Context) error {
				_, err := btcRPC.GetBlockCount()
				return err
			},
			Interval:   30 * time.Second,
			Timeout:    10 * time.Second,
			Backoff:    5 * time.Second,
			MaxBackoff: 2 * time.Minute,
			RetryCap:   5,
			OnUnavailable: func(err error) {
				s.log.Errorf("bitcoin ledger unavailable: %v", err)
			},
			OnRecovered: func() {
				s.log.Infof("bitcoin ledger recovered")
			},
		}),
		healthcheck.New(healthcheck.Config{
			Name: "ethereum-rpc",
			Check: func(ctx context.Context) error {
				_, err := ethRPC.BlockNumber(ctx)
				return err
			},
			Interval:   30 * time.Second,
			Timeout:    10 * time.Second,
			Backoff:    5 * time.Second,
			MaxBackoff: 2 * time.Minute,
			RetryCap:   5,
			OnUnavailable: func(err error) {
				s.log.Errorf("ethereum ledger unavailable: %v", err)
			},
			OnRecovered: func() {
				s.log.Infof("ethereum ledger recovered")
			},
		}),
	}

	return s, nil
}

// start brings every subsystem up: watchers, health monitors, the wire
// listener, the HTTP action API, and recovery of persisted swaps.
func (s *server) start() error {
	if err := s.btcWatcher.Start(); err != nil {
		return err
	}
	if err := s.ethWatcher.Start(); err != nil {
		return err
	}
	for _, m := range s.monitors {
		m.Start()
	}

	transportKey, err := s.transportKey()
	if err != nil {
		return err
	}

	s.listener, err = swapwire.Listen(
		"tcp", s.cfg.ListenAddr, transportKey,
		swaplog.Logger(swaplog.SubWire),
	)
	if err != nil {
		return err
	}
	s.eg.Go(s.acceptLoop)

	if s.cfg.PeerAddr != "" {
		if err := s.dialPeer(transportKey); err != nil {
			s.log.Warnf("dialing peer %s: %v (will serve inbound only)",
				s.cfg.PeerAddr, err)
		}
	}

	if err := s.startHTTP(); err != nil {
		return err
	}

	return s.recoverSwaps()
}

// stop tears the daemon down in reverse dependency order.
func (s *server) stop() {
	close(s.quit)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpSrv.Shutdown(ctx)
		cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.Close()
	}

	for _, m := range s.monitors {
		m.Stop()
	}
	s.btcWatcher.Stop()
	s.ethWatcher.Stop()

	s.eg.Wait()
	s.db.Close()
}

func (s *server) transportKey() (*ecdh.PrivateKey, error) {
	raw, err := deriveTransportKeySeed(s.seed)
	if err != nil {
		return nil, err
	}
	key, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("building transport key: %w", err)
	}
	return key, nil
}

// dialPeer connects to the configured counterparty, through Tor when a
// SOCKS proxy is configured.
func (s *server) dialPeer(key *ecdh.PrivateKey) error {
	var conn net.Conn
	var err error

	if s.cfg.TorSocks != "" {
		proxyNet := &tor.ProxyNet{SOCKS: s.cfg.TorSocks, StreamIsolation: true}
		conn, err = proxyNet.Dial("tcp", s.cfg.PeerAddr, 30*time.Second)
	} else {
		conn, err = net.DialTimeout("tcp", s.cfg.PeerAddr, 30*time.Second)
	}
	if err != nil {
		return err
	}

	secure, err := swapwire.Handshake(conn, key, true)
	if err != nil {
		conn.Close()
		return err
	}

	peer := swapwire.NewPeer(secure, swaplog.Logger(swaplog.SubWire))
	s.adoptPeer(peer)
	return nil
}

func (s *server) acceptLoop() error {
	for {
		peer, err := s.listener.AcceptPeer()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.log.Warnf("accepting peer: %v", err)
				continue
			}
		}
		s.adoptPeer(peer)
	}
}

// adoptPeer installs peer as the active counterparty connection and
// serves its frames until it closes.
func (s *server) adoptPeer(peer *swapwire.Peer) {
	s.mu.Lock()
	old := s.peer
	s.peer = peer
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	handlers := s.negotiator.Handlers(peer)
	handlers[swapwire.RequestSwap] = s.handleSwapRequest

	dispatcher := swapwire.Dispatcher{
		Handlers: handlers,
		Headers:  swapwire.SwapKnownHeaders(),
	}

	s.eg.Go(func() error {
		if err := peer.Serve(dispatcher); err != nil {
			s.log.Debugf("peer connection closed: %v", err)
		}
		return nil
	})
}

// localIdentity supplies this node's per-swap identity fields for the
// announce protocol's identity exchange.
func (s *server) localIdentity(req swap.Request) announce.RemoteIdentity {
	ident := announce.RemoteIdentity{SecretHash: req.SecretHash}

	btcKey, err := walletrpc.SwapIdentityPath(s.master, swapIDIndex(req.SwapID), s.netParams)
	if err != nil {
		s.log.Errorf("deriving identity for %s: %v", req.SwapID, err)
		return ident
	}
	btcIdent := ledger.PublicKey(btcKey.PubKey().SerializeCompressed())
	ethIdent := ledger.PublicKey(common.HexToAddress(s.ethWallet.Address().String()).Bytes())

	if req.AlphaLedger.Chain == ledger.ChainBitcoin {
		ident.AlphaIdentity, ident.BetaIdentity = btcIdent, ethIdent
	} else {
		ident.AlphaIdentity, ident.BetaIdentity = ethIdent, btcIdent
	}
	return ident
}

func (s *server) onFinalized(f announce.Finalized) {
	s.log.Infof("swap finalized with shared id %s", f.SharedSwapID)
}
