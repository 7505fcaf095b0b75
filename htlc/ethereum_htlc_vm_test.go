package htlc

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
)

// These tests execute the assembled HTLC bytecode against a real EVM and
// in-memory state, asserting the on-chain semantics of spec §4.2 and the
// boundary behaviour of spec §8 (properties 9 and 10) — the unit-level
// analog of deploying the contracts against a dev chain.

const vmTestExpiry = ledger.Timestamp(500_000_000)

var (
	vmDeployer   = common.HexToAddress("0x00a329c0648769A73afAc7F9381E08FB43dBEA72")
	vmTokenAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	vmRedeemAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vmRefundAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// calldataEchoToken is a stub token contract: it logs its full calldata
// and returns success, so tests can assert the exact transfer() call an
// ERC-20 HTLC makes.
//
//	calldatacopy(0, 0, calldatasize); log0(0, calldatasize); stop
var calldataEchoToken = []byte{
	0x36, 0x60, 0x00, 0x60, 0x00, 0x37,
	0x36, 0x60, 0x00, 0xa0,
	0x00,
}

type evmHarness struct {
	t       *testing.T
	statedb *state.StateDB
	cfg     *runtime.Config
}

// newHarness builds an EVM execution environment whose block timestamp is
// now, with the deployer account funded.
func newHarness(t *testing.T, now uint64) *evmHarness {
	t.Helper()

	statedb, err := state.New(
		types.EmptyRootHash,
		state.NewDatabase(rawdb.NewMemoryDatabase()), nil,
	)
	require.NoError(t, err)
	statedb.SetBalance(vmDeployer, big.NewInt(params.Ether))

	return &evmHarness{
		t:       t,
		statedb: statedb,
		cfg: &runtime.Config{
			ChainConfig: params.TestChainConfig,
			State:       statedb,
			Origin:      vmDeployer,
			BlockNumber: big.NewInt(1),
			Difficulty:  big.NewInt(1),
			Time:        now,
			GasLimit:    10_000_000,
			GasPrice:    big.NewInt(0),
			Value:       big.NewInt(0),
		},
	}
}

// deploy runs initCode as a contract creation carrying value.
func (h *evmHarness) deploy(initCode []byte, value *big.Int) common.Address {
	h.t.Helper()

	h.cfg.Value = value
	defer func() { h.cfg.Value = big.NewInt(0) }()

	_, addr, _, err := runtime.Create(initCode, h.cfg)
	require.NoError(h.t, err)
	return addr
}

func (h *evmHarness) call(addr common.Address, input []byte) error {
	_, _, err := runtime.Call(addr, input, h.cfg)
	return err
}

func (h *evmHarness) balance(addr common.Address) *big.Int {
	return h.statedb.GetBalance(addr)
}

func (h *evmHarness) logsFor(addr common.Address) []*types.Log {
	var out []*types.Log
	for _, l := range h.statedb.Logs() {
		if l.Address == addr {
			out = append(out, l)
		}
	}
	return out
}

func vmEtherParams(secretHash ledger.SecretHash) EthereumParams {
	return EthereumParams{
		RefundAddress: vmRefundAddr,
		RedeemAddress: vmRedeemAddr,
		SecretHash:    secretHash,
		Expiry:        vmTestExpiry,
	}
}

func hashOf(secret ledger.Secret) ledger.SecretHash {
	return ledger.SecretHash(sha256.Sum256(secret[:]))
}

func TestEtherHTLCRedeemTransfersBalance(t *testing.T) {
	var secret ledger.Secret
	secret[0], secret[31] = 0x42, 0x99
	p := vmEtherParams(hashOf(secret))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(1_000_000_000)
	htlcAddr := h.deploy(initCode, value)
	require.Equal(t, value, h.balance(htlcAddr))

	require.NoError(t, h.call(htlcAddr, secret[:]))

	require.Equal(t, value, h.balance(vmRedeemAddr))
	require.Zero(t, h.balance(htlcAddr).Sign())

	logs := h.logsFor(htlcAddr)
	require.Len(t, logs, 1)
	require.Equal(t, RedeemedTopic, logs[0].Topics[0])
	require.Equal(t, secret[:], logs[0].Data)
}

// TestEtherHTLCZeroSecretRedeems is spec §8 boundary case 10: a secret of
// 32 zero bytes is a valid preimage like any other.
func TestEtherHTLCZeroSecretRedeems(t *testing.T) {
	var zero ledger.Secret
	p := vmEtherParams(hashOf(zero))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(777)
	htlcAddr := h.deploy(initCode, value)

	require.NoError(t, h.call(htlcAddr, zero[:]))
	require.Equal(t, value, h.balance(vmRedeemAddr))

	logs := h.logsFor(htlcAddr)
	require.Len(t, logs, 1)
	require.Equal(t, RedeemedTopic, logs[0].Topics[0])
	require.Equal(t, zero[:], logs[0].Data)
}

// TestEtherHTLCWrongLengthPreimage is spec §8 boundary case 9: a call
// whose preimage is not exactly 32 bytes neither emits Redeemed nor
// transfers funds.
func TestEtherHTLCWrongLengthPreimage(t *testing.T) {
	var secret ledger.Secret
	secret[0] = 0x42
	p := vmEtherParams(hashOf(secret))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(1_000_000_000)
	htlcAddr := h.deploy(initCode, value)

	for _, input := range [][]byte{
		secret[:31],
		append(append([]byte{}, secret[:]...), 0x00),
		nil,
	} {
		require.Error(t, h.call(htlcAddr, input))
		require.Equal(t, value, h.balance(htlcAddr))
		require.Zero(t, h.balance(vmRedeemAddr).Sign())
		require.Empty(t, h.logsFor(htlcAddr))
	}
}

func TestEtherHTLCWrongPreimageReverts(t *testing.T) {
	var secret ledger.Secret
	secret[0] = 0x42
	p := vmEtherParams(hashOf(secret))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(500)
	htlcAddr := h.deploy(initCode, value)

	wrong := ledger.Secret{0x66}
	require.Error(t, h.call(htlcAddr, wrong[:]))
	require.Equal(t, value, h.balance(htlcAddr))
	require.Empty(t, h.logsFor(htlcAddr))
}

func TestEtherHTLCRefundAfterExpiry(t *testing.T) {
	var secret ledger.Secret
	secret[0] = 0x42
	p := vmEtherParams(hashOf(secret))

	// block.timestamp == expiry is already refundable (>= expiry).
	h := newHarness(t, uint64(vmTestExpiry))
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(2_000_000)
	htlcAddr := h.deploy(initCode, value)

	require.NoError(t, h.call(htlcAddr, nil))
	require.Equal(t, value, h.balance(vmRefundAddr))
	require.Zero(t, h.balance(htlcAddr).Sign())

	logs := h.logsFor(htlcAddr)
	require.Len(t, logs, 1)
	require.Equal(t, RefundedTopic, logs[0].Topics[0])
	require.Empty(t, logs[0].Data)
}

func TestEtherHTLCRefundBeforeExpiryReverts(t *testing.T) {
	var secret ledger.Secret
	secret[0] = 0x42
	p := vmEtherParams(hashOf(secret))

	h := newHarness(t, uint64(vmTestExpiry)-1)
	initCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	value := big.NewInt(2_000_000)
	htlcAddr := h.deploy(initCode, value)

	require.Error(t, h.call(htlcAddr, nil))
	require.Equal(t, value, h.balance(htlcAddr))
	require.Zero(t, h.balance(vmRefundAddr).Sign())
}

func TestErc20HTLCRedeemCallsTokenTransfer(t *testing.T) {
	var secret ledger.Secret
	secret[5] = 0x77
	p := vmEtherParams(hashOf(secret))
	amount := ledger.NewErc20Amount(big.NewInt(5_000_000))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	h.statedb.SetCode(vmTokenAddr, calldataEchoToken)

	initCode, err := Erc20HTLCBytecode(vmTokenAddr, amount, p)
	require.NoError(t, err)
	htlcAddr := h.deploy(initCode, big.NewInt(0))

	require.NoError(t, h.call(htlcAddr, secret[:]))

	tokenLogs := h.logsFor(vmTokenAddr)
	require.Len(t, tokenLogs, 1)
	wantCalldata, err := PackTransfer(vmRedeemAddr, amount)
	require.NoError(t, err)
	require.Equal(t, wantCalldata, tokenLogs[0].Data)

	htlcLogs := h.logsFor(htlcAddr)
	require.Len(t, htlcLogs, 1)
	require.Equal(t, RedeemedTopic, htlcLogs[0].Topics[0])
	require.Equal(t, secret[:], htlcLogs[0].Data)
}

func TestErc20HTLCRefundCallsTokenTransfer(t *testing.T) {
	var secret ledger.Secret
	secret[5] = 0x77
	p := vmEtherParams(hashOf(secret))
	amount := ledger.NewErc20Amount(big.NewInt(123))

	h := newHarness(t, uint64(vmTestExpiry)+10)
	h.statedb.SetCode(vmTokenAddr, calldataEchoToken)

	initCode, err := Erc20HTLCBytecode(vmTokenAddr, amount, p)
	require.NoError(t, err)
	htlcAddr := h.deploy(initCode, big.NewInt(0))

	require.NoError(t, h.call(htlcAddr, nil))

	tokenLogs := h.logsFor(vmTokenAddr)
	require.Len(t, tokenLogs, 1)
	wantCalldata, err := PackTransfer(vmRefundAddr, amount)
	require.NoError(t, err)
	require.Equal(t, wantCalldata, tokenLogs[0].Data)

	htlcLogs := h.logsFor(htlcAddr)
	require.Len(t, htlcLogs, 1)
	require.Equal(t, RefundedTopic, htlcLogs[0].Topics[0])
}

// TestErc20HTLCWrongLengthPreimage mirrors boundary case 9 for the ERC-20
// variant: no token call, no Redeemed event, and a revert before expiry.
func TestErc20HTLCWrongLengthPreimage(t *testing.T) {
	var secret ledger.Secret
	secret[5] = 0x77
	p := vmEtherParams(hashOf(secret))
	amount := ledger.NewErc20Amount(big.NewInt(123))

	h := newHarness(t, uint64(vmTestExpiry)-1000)
	h.statedb.SetCode(vmTokenAddr, calldataEchoToken)

	initCode, err := Erc20HTLCBytecode(vmTokenAddr, amount, p)
	require.NoError(t, err)
	htlcAddr := h.deploy(initCode, big.NewInt(0))

	require.Error(t, h.call(htlcAddr, secret[:20]))
	require.Empty(t, h.logsFor(vmTokenAddr))
	require.Empty(t, h.logsFor(htlcAddr))
}
