package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, "regtest", cfg.Bitcoin.Network)
	require.Equal(t, uint64(1337), cfg.Ethereum.ChainID)
	require.Equal(t, 12*time.Hour, cfg.SafetyMargin)
	require.Equal(t, 10*time.Minute, cfg.Bitcoin.PollInterval)

	params, err := cfg.BitcoinNetParams()
	require.NoError(t, err)
	require.Equal(t, "regtest", params.Name)
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "swapd.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"listen_addr: 10.0.0.1:1111\nhttp_addr: 10.0.0.1:2222\n"+
			"bitcoin:\n  network: testnet3\n",
	), 0600))

	cfg, err := Load([]string{
		"--config", file,
		"--httpaddr", "127.0.0.1:9999",
	})
	require.NoError(t, err)

	// File value survives where no flag overrides it...
	require.Equal(t, "10.0.0.1:1111", cfg.ListenAddr)
	require.Equal(t, "testnet3", cfg.Bitcoin.Network)
	// ...and the explicit flag wins where one does.
	require.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
}

func TestUnknownBitcoinNetworkRejected(t *testing.T) {
	_, err := Load([]string{"--bitcoin.network", "signet9"})
	require.Error(t, err)
}
