// Package ledger defines the primitive types shared by every other package
// in this repository: amounts, addresses, transaction ids, timestamps, and
// the small closed set of ledger/asset variants a swap can be made of.
package ledger

import "fmt"

// Chain identifies which blockchain a Ledger value refers to.
type Chain uint8

const (
	// ChainBitcoin identifies the Bitcoin ledger.
	ChainBitcoin Chain = iota
	// ChainEthereum identifies an EVM-compatible Ethereum ledger.
	ChainEthereum
)

// String returns a human-readable name for the chain.
func (c Chain) String() string {
	switch c {
	case ChainBitcoin:
		return "bitcoin"
	case ChainEthereum:
		return "ethereum"
	default:
		return fmt.Sprintf("unknown-chain(%d)", uint8(c))
	}
}

// Ledger identifies one of the two blockchains a swap can use, along with
// the network/chain parameters that distinguish mainnet from a testnet.
//
//	Ledger ∈ {Bitcoin(network), Ethereum(chain_id)}
type Ledger struct {
	Chain Chain

	// BitcoinNetwork names the Bitcoin network ("mainnet", "testnet3",
	// "regtest"). Only meaningful when Chain == ChainBitcoin.
	BitcoinNetwork string

	// EthereumChainID is the EIP-155 chain id. Only meaningful when
	// Chain == ChainEthereum.
	EthereumChainID uint64
}

// Bitcoin constructs a Bitcoin Ledger value for the given network name.
func Bitcoin(network string) Ledger {
	return Ledger{Chain: ChainBitcoin, BitcoinNetwork: network}
}

// Ethereum constructs an Ethereum Ledger value for the given chain id.
func Ethereum(chainID uint64) Ledger {
	return Ledger{Chain: ChainEthereum, EthereumChainID: chainID}
}

// String renders the ledger as "bitcoin/regtest" or "ethereum/1337".
func (l Ledger) String() string {
	switch l.Chain {
	case ChainBitcoin:
		return fmt.Sprintf("bitcoin/%s", l.BitcoinNetwork)
	case ChainEthereum:
		return fmt.Sprintf("ethereum/%d", l.EthereumChainID)
	default:
		return l.Chain.String()
	}
}

// Equal reports whether two Ledger values name the same chain and network.
func (l Ledger) Equal(other Ledger) bool {
	return l == other
}

// AssetKind distinguishes the three supported asset variants.
type AssetKind uint8

const (
	// AssetBitcoin is native satoshis.
	AssetBitcoin AssetKind = iota
	// AssetEther is native wei.
	AssetEther
	// AssetErc20 is an ERC-20 token amount.
	AssetErc20
)

// Asset is a tagged union over the three supported asset kinds:
//
//	Asset ∈ {Bitcoin(sats), Ether(wei), Erc20{contract, wei}}
//
// Exactly one of the BitcoinAmount/EtherAmount/Erc20Amount fields is
// meaningful, selected by Kind.
type Asset struct {
	Kind AssetKind

	Bitcoin BitcoinAmount
	Ether   EtherAmount
	Erc20   Erc20Amount

	// Erc20Contract is the token contract address. Only meaningful when
	// Kind == AssetErc20.
	Erc20Contract Address
}

// NewBitcoinAsset constructs an Asset wrapping a Bitcoin amount.
func NewBitcoinAsset(amt BitcoinAmount) Asset {
	return Asset{Kind: AssetBitcoin, Bitcoin: amt}
}

// NewEtherAsset constructs an Asset wrapping an ether amount.
func NewEtherAsset(amt EtherAmount) Asset {
	return Asset{Kind: AssetEther, Ether: amt}
}

// NewErc20Asset constructs an Asset wrapping an ERC-20 token amount at a
// given contract address.
func NewErc20Asset(contract Address, amt Erc20Amount) Asset {
	return Asset{Kind: AssetErc20, Erc20Contract: contract, Erc20: amt}
}

// String renders the asset for logging purposes.
func (a Asset) String() string {
	switch a.Kind {
	case AssetBitcoin:
		return fmt.Sprintf("%s BTC", a.Bitcoin)
	case AssetEther:
		return fmt.Sprintf("%s ETH", a.Ether)
	case AssetErc20:
		return fmt.Sprintf("%s of %s", a.Erc20, a.Erc20Contract)
	default:
		return "unknown-asset"
	}
}

// Kind is the (alpha_ledger, beta_ledger, alpha_asset, beta_asset) tuple
// that fully determines a swap's shape. Per spec §3, only the four
// permutations {Bitcoin↔Ether, Bitcoin↔ERC20} (in either direction) are
// supported.
type Kind struct {
	AlphaLedger Ledger
	BetaLedger  Ledger
	AlphaAsset  AssetKind
	BetaAsset   AssetKind
}

// ErrUnsupportedKind is returned when a swap request names a
// ledger/asset combination outside the four supported permutations.
type ErrUnsupportedKind struct {
	Kind Kind
}

func (e ErrUnsupportedKind) Error() string {
	return fmt.Sprintf(
		"unsupported swap kind: alpha=%s(%v) beta=%s(%v)",
		e.Kind.AlphaLedger, e.Kind.AlphaAsset,
		e.Kind.BetaLedger, e.Kind.BetaAsset,
	)
}

// Validate rejects any (ledger, asset) combination outside the four
// supported permutations: one side must be Bitcoin/Bitcoin-asset, and the
// other must be Ethereum paired with either Ether or an ERC-20 asset.
func (k Kind) Validate() error {
	isBitcoinLeg := func(l Ledger, a AssetKind) bool {
		return l.Chain == ChainBitcoin && a == AssetBitcoin
	}
	isEthereumLeg := func(l Ledger, a AssetKind) bool {
		return l.Chain == ChainEthereum && (a == AssetEther || a == AssetErc20)
	}

	btcAlpha := isBitcoinLeg(k.AlphaLedger, k.AlphaAsset)
	ethBeta := isEthereumLeg(k.BetaLedger, k.BetaAsset)
	btcBeta := isBitcoinLeg(k.BetaLedger, k.BetaAsset)
	ethAlpha := isEthereumLeg(k.AlphaLedger, k.AlphaAsset)

	if (btcAlpha && ethBeta) || (btcBeta && ethAlpha) {
		return nil
	}

	return ErrUnsupportedKind{Kind: k}
}
