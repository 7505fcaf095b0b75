package swapwire

import (
	"encoding/json"
	"fmt"
	"strconv"

	goerrors "github.com/go-errors/errors"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/tlv"
)

// The SWAP request's mandatory headers (spec §4.6 "Known request types").
// Per spec §6, a header name starting with an uppercase letter is
// mandatory; all six below are.
const (
	HeaderID          tlv.Type = "Id"
	HeaderAlphaLedger tlv.Type = "AlphaLedger"
	HeaderBetaLedger  tlv.Type = "BetaLedger"
	HeaderAlphaAsset  tlv.Type = "AlphaAsset"
	HeaderBetaAsset   tlv.Type = "BetaAsset"
	HeaderProtocol    tlv.Type = "Protocol"
)

// ProtocolName identifies the swap protocol version spoken in the SWAP
// request's Protocol header.
const ProtocolName = "swap-htlc-sha256/1"

// swapHeaderSet is every header a SWAP request may legitimately carry.
var swapHeaderSet = []tlv.Type{
	HeaderID, HeaderAlphaLedger, HeaderBetaLedger,
	HeaderAlphaAsset, HeaderBetaAsset, HeaderProtocol,
}

// SwapKnownHeaders returns the KnownHeaders allowlist for SWAP frames,
// for registration in a Dispatcher.
func SwapKnownHeaders() KnownHeaders {
	known := make(KnownHeaders, len(swapHeaderSet))
	for _, t := range swapHeaderSet {
		known[t] = struct{}{}
	}
	return known
}

// ledgerJSON is the wire form of a ledger.Ledger.
type ledgerJSON struct {
	Name    string `json:"name"`
	Network string `json:"network,omitempty"`
	ChainID string `json:"chain_id,omitempty"`
}

// assetJSON is the wire form of a ledger.Asset. Quantities are decimal
// strings per spec §4.1.
type assetJSON struct {
	Name          string `json:"name"`
	Quantity      string `json:"quantity"`
	TokenContract string `json:"token_contract,omitempty"`
}

// swapRequestBody is the SWAP request frame's body: the full swap request
// field set of spec §3.
type swapRequestBody struct {
	SwapID              string     `json:"swap_id"`
	AlphaLedger         ledgerJSON `json:"alpha_ledger"`
	BetaLedger          ledgerJSON `json:"beta_ledger"`
	AlphaAsset          assetJSON  `json:"alpha_asset"`
	BetaAsset           assetJSON  `json:"beta_asset"`
	HashFunction        string     `json:"hash_function"`
	AlphaRefundIdentity string     `json:"alpha_ledger_refund_identity"`
	BetaRedeemIdentity  string     `json:"beta_ledger_redeem_identity"`
	AlphaExpiry         string     `json:"alpha_expiry"`
	BetaExpiry          string     `json:"beta_expiry"`
	SecretHash          string     `json:"secret_hash"`
}

// SwapResponseBody is the RESPONSE frame body answering a SWAP request:
// either Bob's accept identities, or a decline with an optional reason.
type SwapResponseBody struct {
	Decision            Decision `json:"decision"`
	SwapID              string   `json:"swap_id"`
	AlphaRedeemIdentity string   `json:"alpha_ledger_redeem_identity,omitempty"`
	BetaRefundIdentity  string   `json:"beta_ledger_refund_identity,omitempty"`
	Reason              string   `json:"reason,omitempty"`
}

// hashFunctionSHA256 is the only hash function the protocol supports
// (spec §3 "hash_function = SHA-256").
const hashFunctionSHA256 = "SHA-256"

// EncodeSwapRequest renders req as a SWAP request frame, headers and body
// both populated per spec §4.6.
func EncodeSwapRequest(req swap.Request) (Frame, error) {
	body, err := json.Marshal(swapRequestBody{
		SwapID:              req.SwapID.String(),
		AlphaLedger:         ledgerToJSON(req.AlphaLedger),
		BetaLedger:          ledgerToJSON(req.BetaLedger),
		AlphaAsset:          assetToJSON(req.AlphaAsset),
		BetaAsset:           assetToJSON(req.BetaAsset),
		HashFunction:        hashFunctionSHA256,
		AlphaRefundIdentity: req.AlphaLedgerRefundIdentity.String(),
		BetaRedeemIdentity:  req.BetaLedgerRedeemIdentity.String(),
		AlphaExpiry:         req.AlphaExpiry.String(),
		BetaExpiry:          req.BetaExpiry.String(),
		SecretHash:          req.SecretHash.String(),
	})
	if err != nil {
		return Frame{}, goerrors.Errorf("swapwire: encoding swap body: %w", err)
	}

	headers := tlv.NewStream()
	headers.AddRecord(HeaderID, []byte(req.SwapID.String()))
	headers.AddRecord(HeaderAlphaLedger, []byte(req.AlphaLedger.String()))
	headers.AddRecord(HeaderBetaLedger, []byte(req.BetaLedger.String()))
	headers.AddRecord(HeaderAlphaAsset, []byte(req.AlphaAsset.String()))
	headers.AddRecord(HeaderBetaAsset, []byte(req.BetaAsset.String()))
	headers.AddRecord(HeaderProtocol, []byte(ProtocolName))

	return Frame{
		Type:    TypeRequest,
		ID:      req.SwapID.String(),
		Kind:    RequestSwap,
		Headers: headers,
		Body:    body,
	}, nil
}

// DecodeSwapRequest parses a SWAP request frame back into a swap.Request,
// validating the mandatory header set and the supported ledger/asset kind.
// A missing mandatory header surfaces as an error the caller answers with
// an SE-1 automatic response (spec §8, Scenario C).
func DecodeSwapRequest(f Frame) (swap.Request, error) {
	if f.Headers == nil {
		return swap.Request{}, fmt.Errorf("swapwire: swap request has no headers")
	}
	if err := f.Headers.Validate(swapHeaderSet); err != nil {
		return swap.Request{}, err
	}

	var body swapRequestBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return swap.Request{}, ErrMalformed{Underlying: err}
	}
	if body.HashFunction != hashFunctionSHA256 {
		return swap.Request{}, fmt.Errorf(
			"swapwire: unsupported hash function %q", body.HashFunction)
	}

	var (
		req swap.Request
		err error
	)
	if req.SwapID, err = swap.ParseID(body.SwapID); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaLedger, err = ledgerFromJSON(body.AlphaLedger); err != nil {
		return swap.Request{}, err
	}
	if req.BetaLedger, err = ledgerFromJSON(body.BetaLedger); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaAsset, err = assetFromJSON(body.AlphaAsset); err != nil {
		return swap.Request{}, err
	}
	if req.BetaAsset, err = assetFromJSON(body.BetaAsset); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaLedgerRefundIdentity, err = ledger.ParsePublicKey(body.AlphaRefundIdentity); err != nil {
		return swap.Request{}, err
	}
	if req.BetaLedgerRedeemIdentity, err = ledger.ParsePublicKey(body.BetaRedeemIdentity); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaExpiry, err = ledger.ParseTimestamp(body.AlphaExpiry); err != nil {
		return swap.Request{}, err
	}
	if req.BetaExpiry, err = ledger.ParseTimestamp(body.BetaExpiry); err != nil {
		return swap.Request{}, err
	}
	if req.SecretHash, err = ledger.ParseSecretHash(body.SecretHash); err != nil {
		return swap.Request{}, err
	}

	// Unsupported combinations are rejected at the system boundary (spec
	// §9 "Heterogeneous asset/ledger handling").
	if err := req.Kind().Validate(); err != nil {
		return swap.Request{}, err
	}

	return req, nil
}

// EncodeSwapAccept renders Bob's accept as the RESPONSE frame for the
// originating request.
func EncodeSwapAccept(requestID string, acc swap.Accept) Frame {
	body, _ := json.Marshal(SwapResponseBody{
		Decision:            DecisionAccepted,
		SwapID:              acc.SwapID.String(),
		AlphaRedeemIdentity: acc.AlphaLedgerRedeemIdentity.String(),
		BetaRefundIdentity:  acc.BetaLedgerRefundIdentity.String(),
	})
	return Frame{Type: TypeResponse, ID: requestID, Body: body}
}

// EncodeSwapDecline renders Bob's decline as the RESPONSE frame for the
// originating request.
func EncodeSwapDecline(requestID string, dec swap.Decline) Frame {
	body, _ := json.Marshal(SwapResponseBody{
		Decision: DecisionDeclined,
		SwapID:   dec.SwapID.String(),
		Reason:   dec.Reason,
	})
	return Frame{Type: TypeResponse, ID: requestID, Body: body}
}

// DecodeSwapResponse parses a SWAP response frame into either an accept or
// a decline, exactly one of which is non-nil on success.
func DecodeSwapResponse(f Frame) (*swap.Accept, *swap.Decline, error) {
	var body SwapResponseBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return nil, nil, ErrMalformed{Underlying: err}
	}

	id, err := swap.ParseID(body.SwapID)
	if err != nil {
		return nil, nil, err
	}

	switch body.Decision {
	case DecisionAccepted:
		acc := &swap.Accept{SwapID: id}
		if acc.AlphaLedgerRedeemIdentity, err = ledger.ParsePublicKey(body.AlphaRedeemIdentity); err != nil {
			return nil, nil, err
		}
		if acc.BetaLedgerRefundIdentity, err = ledger.ParsePublicKey(body.BetaRefundIdentity); err != nil {
			return nil, nil, err
		}
		return acc, nil, nil

	case DecisionDeclined:
		return nil, &swap.Decline{SwapID: id, Reason: body.Reason}, nil

	default:
		return nil, nil, fmt.Errorf("swapwire: unknown decision %q", body.Decision)
	}
}

func ledgerToJSON(l ledger.Ledger) ledgerJSON {
	switch l.Chain {
	case ledger.ChainBitcoin:
		return ledgerJSON{Name: "bitcoin", Network: l.BitcoinNetwork}
	default:
		return ledgerJSON{
			Name:    "ethereum",
			ChainID: strconv.FormatUint(l.EthereumChainID, 10),
		}
	}
}

func ledgerFromJSON(j ledgerJSON) (ledger.Ledger, error) {
	switch j.Name {
	case "bitcoin":
		if j.Network == "" {
			return ledger.Ledger{}, fmt.Errorf("swapwire: bitcoin ledger missing network")
		}
		return ledger.Bitcoin(j.Network), nil
	case "ethereum":
		chainID, err := strconv.ParseUint(j.ChainID, 10, 64)
		if err != nil {
			return ledger.Ledger{}, fmt.Errorf("swapwire: invalid chain_id %q: %w", j.ChainID, err)
		}
		return ledger.Ethereum(chainID), nil
	default:
		return ledger.Ledger{}, fmt.Errorf("swapwire: unknown ledger %q", j.Name)
	}
}

func assetToJSON(a ledger.Asset) assetJSON {
	switch a.Kind {
	case ledger.AssetBitcoin:
		return assetJSON{Name: "bitcoin", Quantity: a.Bitcoin.String()}
	case ledger.AssetEther:
		return assetJSON{Name: "ether", Quantity: a.Ether.String()}
	default:
		return assetJSON{
			Name:          "erc20",
			Quantity:      a.Erc20.String(),
			TokenContract: a.Erc20Contract.String(),
		}
	}
}

func assetFromJSON(j assetJSON) (ledger.Asset, error) {
	switch j.Name {
	case "bitcoin":
		amt, err := ledger.ParseBitcoinAmount(j.Quantity)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewBitcoinAsset(amt), nil
	case "ether":
		amt, err := ledger.ParseEtherAmount(j.Quantity)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewEtherAsset(amt), nil
	case "erc20":
		amt, err := ledger.ParseErc20Amount(j.Quantity)
		if err != nil {
			return ledger.Asset{}, err
		}
		if j.TokenContract == "" {
			return ledger.Asset{}, fmt.Errorf("swapwire: erc20 asset missing token_contract")
		}
		return ledger.NewErc20Asset(
			ledger.NewEthereumAddress(j.TokenContract), amt,
		), nil
	default:
		return ledger.Asset{}, fmt.Errorf("swapwire: unknown asset %q", j.Name)
	}
}
