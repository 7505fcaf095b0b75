package htlc

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
)

func testEthereumParams() EthereumParams {
	return EthereumParams{
		RefundAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		RedeemAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		SecretHash:    ledger.SecretHash{0xaa, 0xbb},
		Expiry:        ledger.Timestamp(500_000_000),
	}
}

// TestEtherHTLCBytecodeEmbedsParams checks every swap parameter appears
// as an embedded constant in the init code, which is what makes the
// EthereumDeployed query's exact-bytecode match (spec §4.3) work.
func TestEtherHTLCBytecodeEmbedsParams(t *testing.T) {
	p := testEthereumParams()

	code, err := EtherHTLCBytecode(p)
	require.NoError(t, err)

	require.True(t, bytes.Contains(code, p.SecretHash[:]))
	require.True(t, bytes.Contains(code, p.RedeemAddress.Bytes()))
	require.True(t, bytes.Contains(code, p.RefundAddress.Bytes()))
	require.True(t, bytes.Contains(code, expiryBytes(p.Expiry)))
	require.True(t, bytes.Contains(code, RedeemedTopic.Bytes()))
	require.True(t, bytes.Contains(code, RefundedTopic.Bytes()))
}

func TestEtherHTLCBytecodeDeterministic(t *testing.T) {
	p := testEthereumParams()

	code1, err := EtherHTLCBytecode(p)
	require.NoError(t, err)
	code2, err := EtherHTLCBytecode(p)
	require.NoError(t, err)
	require.Equal(t, code1, code2)

	p2 := p
	p2.Expiry++
	code3, err := EtherHTLCBytecode(p2)
	require.NoError(t, err)
	require.NotEqual(t, code1, code3)
}

func TestErc20HTLCBytecodeEmbedsTokenAndAmount(t *testing.T) {
	p := testEthereumParams()
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	amount := ledger.NewErc20Amount(big.NewInt(1_000_000))

	code, err := Erc20HTLCBytecode(token, amount, p)
	require.NoError(t, err)

	require.True(t, bytes.Contains(code, token.Bytes()))
	require.True(t, bytes.Contains(code, amount.Units().FillBytes(make([]byte, 32))))
	require.True(t, bytes.Contains(code, p.SecretHash[:]))

	// The two contracts share their clause structure but not their code.
	etherCode, err := EtherHTLCBytecode(p)
	require.NoError(t, err)
	require.NotEqual(t, etherCode, code)
}

func TestPackApproveAndTransfer(t *testing.T) {
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := ledger.NewErc20Amount(big.NewInt(42))

	approveCalldata, err := PackApprove(spender, amount)
	require.NoError(t, err)
	require.Len(t, approveCalldata, 4+2*32)

	transferCalldata, err := PackTransfer(spender, amount)
	require.NoError(t, err)
	require.Len(t, transferCalldata, 4+2*32)

	require.NotEqual(t, approveCalldata[:4], transferCalldata[:4])
}

func TestContractAddressDeterministic(t *testing.T) {
	sender := common.HexToAddress("0x5555555555555555555555555555555555555555")

	addr1, err := ContractAddress(sender, 0)
	require.NoError(t, err)
	addr2, err := ContractAddress(sender, 0)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)

	addr3, err := ContractAddress(sender, 1)
	require.NoError(t, err)
	require.NotEqual(t, addr1, addr3)
}

func TestRedeemedAndRefundedTopicsDiffer(t *testing.T) {
	require.NotEqual(t, RedeemedTopic, RefundedTopic)
	require.True(t, MatchesRedeemedTopic(RedeemedTopic))
	require.False(t, MatchesRedeemedTopic(RefundedTopic))
	require.True(t, MatchesRefundedTopic(RefundedTopic))
}
