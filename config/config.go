// Package config loads the daemon's startup configuration: defaults,
// overlaid by a YAML file, overlaid by command-line flags. Per spec §6,
// everything here is read once at startup and never re-read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Bitcoin configures the Bitcoin node connection and network.
type Bitcoin struct {
	Network      string        `long:"network" yaml:"network" description:"Bitcoin network: mainnet, testnet3 or regtest"`
	NodeURL      string        `long:"nodeurl" yaml:"node_url" description:"Bitcoin node RPC URL"`
	RPCUser      string        `long:"rpcuser" yaml:"rpc_user" description:"Bitcoin node RPC username"`
	RPCPass      string        `long:"rpcpass" yaml:"rpc_pass" description:"Bitcoin node RPC password"`
	PollInterval time.Duration `long:"pollinterval" yaml:"poll_interval" description:"Chain watcher poll interval; defaults to one block time"`
}

// Ethereum configures the Ethereum node connection and chain.
type Ethereum struct {
	ChainID      uint64        `long:"chainid" yaml:"chain_id" description:"EIP-155 chain id"`
	NodeURL      string        `long:"nodeurl" yaml:"node_url" description:"Ethereum JSON-RPC URL"`
	PollInterval time.Duration `long:"pollinterval" yaml:"poll_interval" description:"Chain watcher poll interval; defaults to half a block time"`
}

// Config is the daemon's full configuration surface.
type Config struct {
	ConfigFile string `long:"config" short:"c" yaml:"-" description:"Path to a YAML configuration file"`

	DataDir    string `long:"datadir" yaml:"data_dir" description:"Directory for the swap database and keys"`
	LogDir     string `long:"logdir" yaml:"log_dir" description:"Directory for log files"`
	LogLevel   string `long:"loglevel" yaml:"log_level" description:"Log level: trace, debug, info, warn, error"`
	TLSCert    string `long:"tlscert" yaml:"tls_cert" description:"Path to the HTTP API TLS certificate"`
	TLSKey     string `long:"tlskey" yaml:"tls_key" description:"Path to the HTTP API TLS key"`
	ListenAddr string `long:"listen" yaml:"listen_addr" description:"Peer-to-peer wire protocol listen address"`
	HTTPAddr   string `long:"httpaddr" yaml:"http_addr" description:"Action surface HTTP API listen address"`
	PeerAddr   string `long:"peer" yaml:"peer_addr" description:"Counterparty node address to dial"`

	TorSocks string `long:"tor.socks" yaml:"tor_socks" description:"SOCKS5 proxy address of a local Tor instance; when set, outbound peer connections are dialed through it"`

	SafetyMargin time.Duration `long:"safetymargin" yaml:"safety_margin" description:"Minimum required gap between alpha and beta expiries"`

	Bitcoin  Bitcoin  `group:"Bitcoin" namespace:"bitcoin" yaml:"bitcoin"`
	Ethereum Ethereum `group:"Ethereum" namespace:"ethereum" yaml:"ethereum"`
}

// DefaultConfig returns the baseline configuration the file and flags
// overlay. Defaults live here rather than in struct tags so a value set
// by the YAML file isn't clobbered by a tag default during flag parsing.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "~/.swapd/data",
		LogDir:       "~/.swapd/logs",
		LogLevel:     "info",
		TLSCert:      "~/.swapd/tls.cert",
		TLSKey:       "~/.swapd/tls.key",
		ListenAddr:   "0.0.0.0:9939",
		HTTPAddr:     "127.0.0.1:8000",
		SafetyMargin: 12 * time.Hour,
		Bitcoin: Bitcoin{
			Network: "regtest",
			NodeURL: "http://127.0.0.1:18443",
			// Spec §4.3: Bitcoin polls at one block time.
			PollInterval: 10 * time.Minute,
		},
		Ethereum: Ethereum{
			ChainID: 1337,
			NodeURL: "http://127.0.0.1:8545",
			// Spec §4.3: Ethereum polls at roughly half a block time.
			PollInterval: 7 * time.Second,
		},
	}
}

// Load parses flags over defaults and, if --config names a file, the
// YAML file between them: defaults < file < flags.
func Load(args []string) (*Config, error) {
	// First pass only picks up --config.
	pre := &Config{}
	preParser := flags.NewParser(pre, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if pre.ConfigFile != "" {
		raw, err := os.ReadFile(expandPath(pre.ConfigFile))
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", pre.ConfigFile, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", pre.ConfigFile, err)
		}
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.LogDir = expandPath(cfg.LogDir)
	cfg.TLSCert = expandPath(cfg.TLSCert)
	cfg.TLSKey = expandPath(cfg.TLSKey)

	if _, err := cfg.BitcoinNetParams(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BitcoinNetParams resolves the configured network name to chain
// parameters.
func (c *Config) BitcoinNetParams() (*chaincfg.Params, error) {
	switch c.Bitcoin.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown bitcoin network %q", c.Bitcoin.Network)
	}
}

// expandPath resolves a leading ~ against the user's home directory.
func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Clean(path)
}
