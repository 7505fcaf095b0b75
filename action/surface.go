package action

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

// SwapSource provides the current state of a swap, whether it is still
// active in memory or already terminal and only in swapdb.
type SwapSource interface {
	SwapState(id swap.ID) (swap.State, error)
}

// BitcoinSigner builds the fully signed HTLC spend the bitcoin redeem and
// refund payloads carry. It signs but never broadcasts; broadcasting is
// the caller's decision (spec §2: "the action surface lets the user
// decide when to execute actions that require their approval").
type BitcoinSigner interface {
	SignRedeem(st swap.State, to ledger.Address, feePerByte float64) (string, error)
	SignRefund(st swap.State, to ledger.Address, feePerByte float64) (string, error)
}

// EthereumAccount exposes the local Ethereum account the ERC-20 approve
// payload needs: the approve's spender is the HTLC address predicted from
// this account and the nonce its deployment will use (spec §4.2).
type EthereumAccount interface {
	Address() ledger.Address
	PendingNonce() (uint64, error)
}

// Config bundles a Surface's dependencies.
type Config struct {
	Swaps    SwapSource
	BtcNet   *chaincfg.Params
	Bitcoin  BitcoinSigner
	Ethereum EthereumAccount
	Log      btclog.Logger
}

// Surface derives concrete action payloads for swaps.
type Surface struct {
	cfg Config
}

// NewSurface constructs a Surface.
func NewSurface(cfg Config) *Surface {
	return &Surface{cfg: cfg}
}

// Params carries the raw query parameters an action endpoint received.
type Params struct {
	Address    string
	FeePerByte string
}

// bitcoinSpend validates the two parameters every bitcoin redeem/refund
// requires, returning the structured field description on any failure.
func (p Params) bitcoinSpend(net *chaincfg.Params) (ledger.Address, float64, error) {
	if p.Address == "" || p.FeePerByte == "" {
		return ledger.Address{}, 0, errBitcoinSpendParams()
	}
	fee, err := strconv.ParseFloat(p.FeePerByte, 64)
	if err != nil || fee <= 0 {
		return ledger.Address{}, 0, errBitcoinSpendParams()
	}
	if _, err := btcutil.DecodeAddress(p.Address, net); err != nil {
		return ledger.Address{}, 0, errBitcoinSpendParams()
	}
	return ledger.NewBitcoinAddress(p.Address), fee, nil
}

// legInfo gathers the fields that fully determine one ledger leg's HTLC.
type legInfo struct {
	ledger   ledger.Ledger
	asset    ledger.Asset
	expiry   ledger.Timestamp
	refund   ledger.PublicKey
	redeem   ledger.PublicKey
	location ledger.Address
}

func alphaLeg(st swap.State) (legInfo, error) {
	if st.Accept == nil {
		return legInfo{}, fmt.Errorf("action: swap %s has no accept yet", st.SwapID)
	}
	return legInfo{
		ledger:   st.Request.AlphaLedger,
		asset:    st.Request.AlphaAsset,
		expiry:   st.Request.AlphaExpiry,
		refund:   st.Request.AlphaLedgerRefundIdentity,
		redeem:   st.Accept.AlphaLedgerRedeemIdentity,
		location: st.AlphaHtlcLocation,
	}, nil
}

func betaLeg(st swap.State) (legInfo, error) {
	if st.Accept == nil {
		return legInfo{}, fmt.Errorf("action: swap %s has no accept yet", st.SwapID)
	}
	return legInfo{
		ledger:   st.Request.BetaLedger,
		asset:    st.Request.BetaAsset,
		expiry:   st.Request.BetaExpiry,
		refund:   st.Accept.BetaLedgerRefundIdentity,
		redeem:   st.Request.BetaLedgerRedeemIdentity,
		location: st.BetaHtlcLocation,
	}, nil
}

// fundLeg is the leg the local party funds (and later refunds): alpha for
// Alice, beta for Bob.
func fundLeg(st swap.State) (legInfo, error) {
	if st.Role == swap.RoleAlice {
		return alphaLeg(st)
	}
	return betaLeg(st)
}

// redeemLeg is the leg the local party redeems: beta for Alice, alpha for
// Bob.
func redeemLeg(st swap.State) (legInfo, error) {
	if st.Role == swap.RoleAlice {
		return betaLeg(st)
	}
	return alphaLeg(st)
}

// Fund derives the funding payload for the local party's leg.
func (s *Surface) Fund(id swap.ID) (Response, error) {
	st, err := s.ensure(id, Fund)
	if err != nil {
		return Response{}, err
	}
	leg, err := fundLeg(st)
	if err != nil {
		return Response{}, err
	}

	switch leg.ledger.Chain {
	case ledger.ChainBitcoin:
		addr, _, err := htlc.BitcoinAddress(bitcoinParams(leg, st), s.cfg.BtcNet)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Type: typeBitcoinSend,
			Payload: BitcoinSendAmountToAddress{
				To:      addr.String(),
				Amount:  leg.asset.Bitcoin.String(),
				Network: leg.ledger.BitcoinNetwork,
			},
		}, nil

	default:
		if leg.asset.Kind == ledger.AssetEther {
			initCode, err := htlc.EtherHTLCBytecode(ethereumParams(leg, st))
			if err != nil {
				return Response{}, err
			}
			return Response{
				Type: typeEthereumDeploy,
				Payload: EthereumDeployContract{
					Data:     hexData(initCode),
					Amount:   leg.asset.Ether.String(),
					GasLimit: etherDeployGasLimit,
					Network:  ethNetwork(leg.ledger),
				},
			}, nil
		}

		// ERC-20: funding means approving the not-yet-deployed HTLC as
		// spender, at the address it will be created at (spec §4.2,
		// Scenario E: derived from sender and nonce + 1).
		nonce, err := s.cfg.Ethereum.PendingNonce()
		if err != nil {
			return Response{}, err
		}
		sender := common.HexToAddress(s.cfg.Ethereum.Address().String())
		htlcAddr, err := htlc.ContractAddress(sender, nonce+1)
		if err != nil {
			return Response{}, err
		}
		calldata, err := htlc.PackApprove(htlcAddr, leg.asset.Erc20)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Type: typeEthereumCall,
			Payload: EthereumCallContract{
				ContractAddress: leg.asset.Erc20Contract.String(),
				Data:            hexData(calldata),
				GasLimit:        approveGasLimit,
				Network:         ethNetwork(leg.ledger),
			},
		}, nil
	}
}

// Deploy derives the HTLC deployment payload for an ERC-20 leg, the
// second transaction of the funding flow.
func (s *Surface) Deploy(id swap.ID) (Response, error) {
	st, err := s.ensure(id, Deploy)
	if err != nil {
		return Response{}, err
	}
	leg, err := fundLeg(st)
	if err != nil {
		return Response{}, err
	}

	token := common.HexToAddress(leg.asset.Erc20Contract.String())
	initCode, err := htlc.Erc20HTLCBytecode(token, leg.asset.Erc20, ethereumParams(leg, st))
	if err != nil {
		return Response{}, err
	}
	return Response{
		Type: typeEthereumDeploy,
		Payload: EthereumDeployContract{
			Data:     hexData(initCode),
			Amount:   "0",
			GasLimit: erc20DeployGasLimit,
			Network:  ethNetwork(leg.ledger),
		},
	}, nil
}

// Redeem derives the redemption payload for the local party's redeem leg.
func (s *Surface) Redeem(id swap.ID, p Params) (Response, error) {
	st, err := s.ensure(id, Redeem)
	if err != nil {
		return Response{}, err
	}
	leg, err := redeemLeg(st)
	if err != nil {
		return Response{}, err
	}

	if st.Secret == nil {
		return Response{}, &NoSuchActionError{
			SwapID: id, Action: Redeem,
			Reason: "secret not yet known",
		}
	}

	switch leg.ledger.Chain {
	case ledger.ChainBitcoin:
		to, fee, err := p.bitcoinSpend(s.cfg.BtcNet)
		if err != nil {
			return Response{}, err
		}
		rawTx, err := s.cfg.Bitcoin.SignRedeem(st, to, fee)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Type: typeBitcoinBroadcast,
			Payload: BitcoinBroadcastSignedTransaction{
				Hex:     rawTx,
				Network: leg.ledger.BitcoinNetwork,
			},
		}, nil

	default:
		if leg.location.IsZero() {
			return Response{}, &NoSuchActionError{
				SwapID: id, Action: Redeem,
				Reason: "HTLC contract not yet deployed",
			}
		}
		return Response{
			Type: typeEthereumCall,
			Payload: EthereumCallContract{
				ContractAddress: leg.location.String(),
				Data:            hexData(st.Secret[:]),
				GasLimit:        htlcCallGasLimit,
				Network:         ethNetwork(leg.ledger),
			},
		}, nil
	}
}

// Refund derives the refund payload for the local party's funded leg. The
// payload carries the earliest time the ledger will accept it, so the
// caller doesn't burn fees on consensus-invalid attempts.
func (s *Surface) Refund(id swap.ID, p Params) (Response, error) {
	st, err := s.ensure(id, Refund)
	if err != nil {
		return Response{}, err
	}
	leg, err := fundLeg(st)
	if err != nil {
		return Response{}, err
	}

	switch leg.ledger.Chain {
	case ledger.ChainBitcoin:
		to, fee, err := p.bitcoinSpend(s.cfg.BtcNet)
		if err != nil {
			return Response{}, err
		}
		rawTx, err := s.cfg.Bitcoin.SignRefund(st, to, fee)
		if err != nil {
			return Response{}, err
		}
		minTime := uint32(leg.expiry)
		return Response{
			Type: typeBitcoinBroadcast,
			Payload: BitcoinBroadcastSignedTransaction{
				Hex:                rawTx,
				Network:            leg.ledger.BitcoinNetwork,
				MinMedianBlockTime: &minTime,
			},
		}, nil

	default:
		if leg.location.IsZero() {
			return Response{}, &NoSuchActionError{
				SwapID: id, Action: Refund,
				Reason: "HTLC contract not yet deployed",
			}
		}
		minTime := uint32(leg.expiry)
		return Response{
			Type: typeEthereumCall,
			Payload: EthereumCallContract{
				ContractAddress:   leg.location.String(),
				Data:              "0x",
				GasLimit:          htlcCallGasLimit,
				Network:           ethNetwork(leg.ledger),
				MinBlockTimestamp: &minTime,
			},
		}, nil
	}
}

// ensure loads the swap and verifies k is among its available actions.
func (s *Surface) ensure(id swap.ID, k Kind) (swap.State, error) {
	st, err := s.cfg.Swaps.SwapState(id)
	if err != nil {
		return swap.State{}, err
	}

	for _, avail := range Available(st) {
		if avail == k {
			return st, nil
		}
	}
	return swap.State{}, &NoSuchActionError{
		SwapID: id, Action: k,
		Reason: fmt.Sprintf("state %s offers %v to %s",
			st.Kind, Available(st), st.Role),
	}
}

func bitcoinParams(leg legInfo, st swap.State) htlc.BitcoinParams {
	return htlc.BitcoinParams{
		RefundIdentity: leg.refund,
		RedeemIdentity: leg.redeem,
		SecretHash:     st.Request.SecretHash,
		Expiry:         leg.expiry,
	}
}

func ethereumParams(leg legInfo, st swap.State) htlc.EthereumParams {
	return htlc.EthereumParams{
		RefundAddress: common.BytesToAddress(leg.refund),
		RedeemAddress: common.BytesToAddress(leg.redeem),
		SecretHash:    st.Request.SecretHash,
		Expiry:        leg.expiry,
	}
}

func ethNetwork(l ledger.Ledger) string {
	return strconv.FormatUint(l.EthereumChainID, 10)
}

func hexData(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
