package ethwallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
)

// Erc20Funding describes the two-transaction ERC-20 HTLC funding flow of
// spec §4.2: the token must be approved for the HTLC's address before the
// HTLC itself exists, so the HTLC address is predicted from this wallet's
// account and the nonce the deployment will use.
type Erc20Funding struct {
	// Token is the ERC-20 contract holding the asset.
	Token common.Address

	// ApproveCalldata builds the token.approve(htlcAddr, amount)
	// calldata once the HTLC address is known.
	ApproveCalldata func(htlcAddr common.Address) ([]byte, error)

	// InitCode is the HTLC contract's deployment init code.
	InitCode []byte

	ApproveGasLimit uint64
	DeployGasLimit  uint64
}

// PendingNonce returns the nonce this wallet's next broadcast will use,
// without consuming it.
func (w *Wallet) PendingNonce() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentNonce(context.Background())
}

// FundErc20 sends exactly two transactions, in order: first
// token.approve(htlcAddr, amount) at the current nonce n, then the HTLC
// deployment at nonce n+1, where htlcAddr is derived from (this account,
// n+1) before either transaction is broadcast (spec §4.2; spec §8
// Scenario E). Each broadcast individually follows the nonce discipline
// of signAndBroadcast; a failed approve leaves both nonces unconsumed and
// the deployment is never attempted.
//
// Concurrent sends from the same wallet between the two broadcasts would
// invalidate the predicted address, so callers serialize funding flows
// per wallet, the same exclusivity spec §5 gives Bitcoin UTXO selection.
func (w *Wallet) FundErc20(f Erc20Funding) (
	approveTxid, deployTxid ledger.Txid, htlcAddr common.Address, err error) {

	nonce, err := w.PendingNonce()
	if err != nil {
		return ledger.Txid{}, ledger.Txid{}, common.Address{}, wrapErr("fund_erc20", err)
	}

	htlcAddr, err = htlc.ContractAddress(w.address, nonce+1)
	if err != nil {
		return ledger.Txid{}, ledger.Txid{}, common.Address{}, wrapErr("fund_erc20", err)
	}

	calldata, err := f.ApproveCalldata(htlcAddr)
	if err != nil {
		return ledger.Txid{}, ledger.Txid{}, common.Address{}, wrapErr("fund_erc20", err)
	}

	approveTxid, err = w.CallContract(
		ledger.NewEthereumAddress(f.Token.Hex()), calldata, f.ApproveGasLimit,
	)
	if err != nil {
		return ledger.Txid{}, ledger.Txid{}, common.Address{}, err
	}

	deployTxid, err = w.DeployContract(f.InitCode, ledger.EtherAmount{}, f.DeployGasLimit)
	if err != nil {
		return approveTxid, ledger.Txid{}, htlcAddr, err
	}

	return approveTxid, deployTxid, htlcAddr, nil
}
