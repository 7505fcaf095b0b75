package htlc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/hashbridge/swapd/ledger"
)

// EthereumParams bundles the fields that fully determine one party's
// Ethereum-side HTLC, mirroring spec §3 "HTLC parameters (per ledger)".
type EthereumParams struct {
	RefundAddress common.Address
	RedeemAddress common.Address
	SecretHash    ledger.SecretHash
	Expiry        ledger.Timestamp
}

// RedeemedEventSignature and RefundedEventSignature are the canonical
// event signatures emitted by both the ether and ERC-20 HTLC contracts,
// per spec §4.2/§6.
const (
	RedeemedEventSignature = "Redeemed(bytes32)"
	RefundedEventSignature = "Refunded()"
)

// RedeemedTopic and RefundedTopic are the Keccak256 topic hashes the chain
// watcher matches a log entry's first topic against for an
// EthereumCalled(contract, topic) query (spec §4.2 "Watchers rely on event
// topics, not calldata, for reliability").
var (
	RedeemedTopic = crypto.Keccak256Hash([]byte(RedeemedEventSignature))
	RefundedTopic = crypto.Keccak256Hash([]byte(RefundedEventSignature))
)

// EtherHTLCBytecode returns the deployable init code for the ether HTLC
// described in spec §4.2: a 32-byte preimage whose SHA-256 equals
// SecretHash pays the contract's full balance to RedeemAddress and emits
// Redeemed(secret); once block.timestamp >= Expiry, anyone may trigger
// payout to RefundAddress, emitting Refunded(); any other call reverts.
// The contract is deployed with the ether value attached.
//
// The swap's parameters are embedded in the code itself (see bytecode.go),
// so both parties derive bit-identical init code — and therefore the same
// deterministic contract address from (deployer, nonce) via the standard
// CREATE formula.
func EtherHTLCBytecode(p EthereumParams) ([]byte, error) {
	return deployInitCode(etherHTLCRuntime(p)), nil
}

// Erc20HTLCBytecode returns the init code for the ERC-20 HTLC described
// in spec §4.2: on successful preimage submission it calls
// token.transfer(RedeemAddress, amount); on expiry,
// token.transfer(RefundAddress, amount).
func Erc20HTLCBytecode(
	token common.Address, amount ledger.Erc20Amount, p EthereumParams,
) ([]byte, error) {
	return deployInitCode(erc20HTLCRuntime(token, amount, p)), nil
}

// erc20Abi is the minimal ERC-20 ABI surface this repo needs: approve and
// transfer, used to build the two transactions of the ERC-20 funding flow
// (spec §4.2, Scenario E).
var erc20Abi = mustABIMethods(map[string][]abi.Argument{
	"approve":  mustArguments(abi.Argument{Type: mustType("address")}, abi.Argument{Type: mustType("uint256")}),
	"transfer": mustArguments(abi.Argument{Type: mustType("address")}, abi.Argument{Type: mustType("uint256")}),
})

// PackApprove builds the calldata for token.approve(spender, amount), the
// first of the two ERC-20-funding transactions (spec §4.2).
func PackApprove(spender common.Address, amount ledger.Erc20Amount) ([]byte, error) {
	return packMethod("approve", spender, amount.Units())
}

// PackTransfer builds the calldata for token.transfer(to, amount), used by
// the deployed HTLC contract itself on redeem/refund, and exposed here so
// tests can assert on expected calldata.
func PackTransfer(to common.Address, amount ledger.Erc20Amount) ([]byte, error) {
	return packMethod("transfer", to, amount.Units())
}

func packMethod(name string, args ...interface{}) ([]byte, error) {
	method, ok := erc20Abi[name]
	if !ok {
		return nil, fmt.Errorf("htlc: unknown erc20 method %q", name)
	}
	selector := crypto.Keccak256([]byte(name + methodSignatureSuffix(method)))[:4]
	packedArgs, err := method.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("htlc: packing %s args: %w", name, err)
	}
	return append(selector, packedArgs...), nil
}

func methodSignatureSuffix(args abi.Arguments) string {
	sig := "("
	for i, a := range args {
		if i > 0 {
			sig += ","
		}
		sig += a.Type.String()
	}
	return sig + ")"
}

// ContractAddress predicts the address a contract creation transaction
// from the given sender at the given nonce will deploy to, using the
// standard CREATE formula: keccak256(rlp([sender, nonce]))[12:]. The
// ERC-20 funding flow (spec §4.2) uses this to compute the HTLC address
// before the deployment transaction is sent, so the approve transaction
// can name it as spender.
func ContractAddress(sender common.Address, nonce uint64) (common.Address, error) {
	encoded, err := rlp.EncodeToBytes([]interface{}{sender, nonce})
	if err != nil {
		return common.Address{}, fmt.Errorf("htlc: rlp-encoding (sender, nonce): %w", err)
	}
	hash := crypto.Keccak256(encoded)
	var addr common.Address
	copy(addr[:], hash[12:])
	return addr, nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("htlc: invalid ABI type %q: %v", t, err))
	}
	return typ
}

func mustArguments(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

func mustABIMethods(defs map[string][]abi.Argument) map[string]abi.Arguments {
	out := make(map[string]abi.Arguments, len(defs))
	for name, args := range defs {
		out[name] = abi.Arguments(args)
	}
	return out
}
