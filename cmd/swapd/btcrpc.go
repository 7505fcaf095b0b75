package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashbridge/swapd/config"
	"github.com/hashbridge/swapd/walletrpc/btcwallet"
)

// btcRPC adapts btcd's rpcclient.Client to the narrow interfaces the
// chain watcher and wallet adapter expose: the raw client satisfies
// btcwatch.RPCClient directly, and this wrapper translates ListUnspent's
// btcjson rows into btcwallet.Utxo values.
type btcRPC struct {
	*rpcclient.Client
}

func dialBitcoin(cfg config.Bitcoin) (*btcRPC, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         trimScheme(cfg.NodeURL),
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to bitcoin node: %w", err)
	}
	return &btcRPC{Client: client}, nil
}

// ListUnspent translates the node's listunspent rows.
//
// NOTE: Part of the btcwallet.RPCClient interface.
func (c *btcRPC) ListUnspent() ([]btcwallet.Utxo, error) {
	rows, err := c.Client.ListUnspent()
	if err != nil {
		return nil, err
	}

	utxos := make([]btcwallet.Utxo, 0, len(rows))
	for _, row := range rows {
		txid, err := chainhash.NewHashFromStr(row.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo txid %q: %w", row.TxID, err)
		}
		pkScript, err := hex.DecodeString(row.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo script: %w", err)
		}
		amount, err := btcutil.NewAmount(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo amount: %w", err)
		}

		utxos = append(utxos, btcwallet.Utxo{
			OutPoint: *wire.NewOutPoint(txid, row.Vout),
			Value:    amount,
			PkScript: pkScript,
		})
	}
	return utxos, nil
}

// trimScheme strips an http:// or https:// prefix, since rpcclient takes
// a bare host:port.
func trimScheme(url string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}
