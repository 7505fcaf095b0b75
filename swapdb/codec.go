package swapdb

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

// Per spec §4.8, every stored field is text: amounts as decimal strings,
// identities as hex, timestamps as unsigned 32-bit seconds. The record
// types below are the JSON row shapes each bucket stores.

// swapInfoRecord is the swaps-bucket row: role, counterparty peer, and
// the kind tag that names which request bucket holds the swap's request.
type swapInfoRecord struct {
	Role         string `json:"role"`
	Counterparty string `json:"counterparty"`
	Kind         string `json:"kind"`
}

// ledgerRecord stores one ledger.Ledger.
type ledgerRecord struct {
	Chain   string `json:"chain"`
	Network string `json:"network,omitempty"`
	ChainID string `json:"chain_id,omitempty"`
}

// requestRecord is a request-bucket row. The asset kinds are implied by
// which of the four request buckets the row lives in; only the numeric
// quantities and, for ERC-20 swaps, the token contract are stored here.
type requestRecord struct {
	SwapID              string       `json:"swap_id"`
	AlphaLedger         ledgerRecord `json:"alpha_ledger"`
	BetaLedger          ledgerRecord `json:"beta_ledger"`
	AlphaAmount         string       `json:"alpha_amount"`
	BetaAmount          string       `json:"beta_amount"`
	Erc20Contract       string       `json:"erc20_contract,omitempty"`
	AlphaRefundIdentity string       `json:"alpha_ledger_refund_identity"`
	BetaRedeemIdentity  string       `json:"beta_ledger_redeem_identity"`
	AlphaExpiry         uint32       `json:"alpha_expiry"`
	BetaExpiry          uint32       `json:"beta_expiry"`
	SecretHash          string       `json:"secret_hash"`
}

// acceptRecord is an accept-bucket row.
type acceptRecord struct {
	SwapID              string `json:"swap_id"`
	AlphaRedeemIdentity string `json:"alpha_ledger_redeem_identity"`
	BetaRefundIdentity  string `json:"beta_ledger_refund_identity"`
}

// declineRecord is the declines-bucket row. Reason is the schema's only
// nullable column.
type declineRecord struct {
	SwapID string  `json:"swap_id"`
	Reason *string `json:"reason"`
}

// eventRecord is one events-bucket entry: the full swap.Event, flattened
// to text fields.
type eventRecord struct {
	Kind          string         `json:"kind"`
	TxidChain     string         `json:"txid_chain,omitempty"`
	Txid          string         `json:"txid,omitempty"`
	LocationChain string         `json:"location_chain,omitempty"`
	Location      string         `json:"location,omitempty"`
	Vout          uint32         `json:"vout,omitempty"`
	Secret        string         `json:"secret,omitempty"`
	Accept        *acceptRecord  `json:"accept,omitempty"`
	Decline       *declineRecord `json:"decline,omitempty"`
}

func marshalInfo(rec swapInfoRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func unmarshalInfo(raw []byte) (swapInfoRecord, error) {
	var rec swapInfoRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swapInfoRecord{}, fmt.Errorf("swapdb: decoding swap row: %w", err)
	}
	return rec, nil
}

// The kind tags stored in swapInfoRecord.Kind, one per request bucket.
const (
	kindBtcEth   = "bitcoin-ether"
	kindBtcErc20 = "bitcoin-erc20"
	kindEthBtc   = "ether-bitcoin"
	kindErc20Btc = "erc20-bitcoin"
)

// kindTag classifies a validated request into one of the four supported
// kind tags.
func kindTag(req swap.Request) (string, error) {
	k := req.Kind()
	if err := k.Validate(); err != nil {
		return "", err
	}

	switch {
	case k.AlphaAsset == ledger.AssetBitcoin && k.BetaAsset == ledger.AssetEther:
		return kindBtcEth, nil
	case k.AlphaAsset == ledger.AssetBitcoin && k.BetaAsset == ledger.AssetErc20:
		return kindBtcErc20, nil
	case k.AlphaAsset == ledger.AssetEther:
		return kindEthBtc, nil
	default:
		return kindErc20Btc, nil
	}
}

// requestBucketFor maps a kind tag to its request bucket.
func requestBucketFor(tag string) ([]byte, error) {
	switch tag {
	case kindBtcEth:
		return requestBtcEthBucket, nil
	case kindBtcErc20:
		return requestBtcErc20Bucket, nil
	case kindEthBtc:
		return requestEthBtcBucket, nil
	case kindErc20Btc:
		return requestErc20BtcBucket, nil
	default:
		return nil, fmt.Errorf("swapdb: unknown kind tag %q", tag)
	}
}

// acceptBucketFor maps a kind tag to the accept bucket for its alpha
// chain.
func acceptBucketFor(tag string) ([]byte, error) {
	switch tag {
	case kindBtcEth, kindBtcErc20:
		return acceptAlphaBtcBucket, nil
	case kindEthBtc, kindErc20Btc:
		return acceptAlphaEthBucket, nil
	default:
		return nil, fmt.Errorf("swapdb: unknown kind tag %q", tag)
	}
}

func roleToString(r swap.Role) string { return r.String() }

func roleFromString(s string) (swap.Role, error) {
	switch s {
	case "alice":
		return swap.RoleAlice, nil
	case "bob":
		return swap.RoleBob, nil
	default:
		return 0, fmt.Errorf("swapdb: unknown role %q", s)
	}
}

func ledgerToRecord(l ledger.Ledger) ledgerRecord {
	switch l.Chain {
	case ledger.ChainBitcoin:
		return ledgerRecord{Chain: "bitcoin", Network: l.BitcoinNetwork}
	default:
		return ledgerRecord{
			Chain:   "ethereum",
			ChainID: strconv.FormatUint(l.EthereumChainID, 10),
		}
	}
}

func ledgerFromRecord(r ledgerRecord) (ledger.Ledger, error) {
	switch r.Chain {
	case "bitcoin":
		return ledger.Bitcoin(r.Network), nil
	case "ethereum":
		chainID, err := strconv.ParseUint(r.ChainID, 10, 64)
		if err != nil {
			return ledger.Ledger{}, fmt.Errorf("swapdb: invalid chain_id %q: %w",
				r.ChainID, err)
		}
		return ledger.Ethereum(chainID), nil
	default:
		return ledger.Ledger{}, fmt.Errorf("swapdb: unknown chain %q", r.Chain)
	}
}

// serializeRequest renders req as its bucket row.
func serializeRequest(req swap.Request) ([]byte, error) {
	rec := requestRecord{
		SwapID:              req.SwapID.String(),
		AlphaLedger:         ledgerToRecord(req.AlphaLedger),
		BetaLedger:          ledgerToRecord(req.BetaLedger),
		AlphaRefundIdentity: req.AlphaLedgerRefundIdentity.String(),
		BetaRedeemIdentity:  req.BetaLedgerRedeemIdentity.String(),
		AlphaExpiry:         uint32(req.AlphaExpiry),
		BetaExpiry:          uint32(req.BetaExpiry),
		SecretHash:          req.SecretHash.String(),
	}

	rec.AlphaAmount = assetAmount(req.AlphaAsset)
	rec.BetaAmount = assetAmount(req.BetaAsset)
	if req.AlphaAsset.Kind == ledger.AssetErc20 {
		rec.Erc20Contract = req.AlphaAsset.Erc20Contract.String()
	}
	if req.BetaAsset.Kind == ledger.AssetErc20 {
		rec.Erc20Contract = req.BetaAsset.Erc20Contract.String()
	}

	return json.Marshal(rec)
}

func assetAmount(a ledger.Asset) string {
	switch a.Kind {
	case ledger.AssetBitcoin:
		return a.Bitcoin.String()
	case ledger.AssetEther:
		return a.Ether.String()
	default:
		return a.Erc20.String()
	}
}

// deserializeRequest reconstructs a swap.Request from its bucket row. tag
// names the bucket the row came from, which decides the asset kinds.
func deserializeRequest(raw []byte, tag string) (swap.Request, error) {
	var rec requestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swap.Request{}, fmt.Errorf("swapdb: decoding request: %w", err)
	}

	var (
		req swap.Request
		err error
	)
	if req.SwapID, err = swap.ParseID(rec.SwapID); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaLedger, err = ledgerFromRecord(rec.AlphaLedger); err != nil {
		return swap.Request{}, err
	}
	if req.BetaLedger, err = ledgerFromRecord(rec.BetaLedger); err != nil {
		return swap.Request{}, err
	}
	if req.AlphaLedgerRefundIdentity, err = ledger.ParsePublicKey(rec.AlphaRefundIdentity); err != nil {
		return swap.Request{}, err
	}
	if req.BetaLedgerRedeemIdentity, err = ledger.ParsePublicKey(rec.BetaRedeemIdentity); err != nil {
		return swap.Request{}, err
	}
	req.AlphaExpiry = ledger.Timestamp(rec.AlphaExpiry)
	req.BetaExpiry = ledger.Timestamp(rec.BetaExpiry)
	if req.SecretHash, err = ledger.ParseSecretHash(rec.SecretHash); err != nil {
		return swap.Request{}, err
	}

	if req.AlphaAsset, err = assetFromAmount(tag, true, rec); err != nil {
		return swap.Request{}, err
	}
	if req.BetaAsset, err = assetFromAmount(tag, false, rec); err != nil {
		return swap.Request{}, err
	}

	return req, nil
}

func assetFromAmount(tag string, alpha bool, rec requestRecord) (ledger.Asset, error) {
	amount := rec.AlphaAmount
	if !alpha {
		amount = rec.BetaAmount
	}

	bitcoinSide := (tag == kindBtcEth || tag == kindBtcErc20) == alpha
	if bitcoinSide {
		amt, err := ledger.ParseBitcoinAmount(amount)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewBitcoinAsset(amt), nil
	}

	erc20 := tag == kindBtcErc20 || tag == kindErc20Btc
	if erc20 {
		amt, err := ledger.ParseErc20Amount(amount)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewErc20Asset(
			ledger.NewEthereumAddress(rec.Erc20Contract), amt,
		), nil
	}

	amt, err := ledger.ParseEtherAmount(amount)
	if err != nil {
		return ledger.Asset{}, err
	}
	return ledger.NewEtherAsset(amt), nil
}

func serializeAccept(acc swap.Accept) ([]byte, error) {
	return json.Marshal(acceptRecord{
		SwapID:              acc.SwapID.String(),
		AlphaRedeemIdentity: acc.AlphaLedgerRedeemIdentity.String(),
		BetaRefundIdentity:  acc.BetaLedgerRefundIdentity.String(),
	})
}

func deserializeAccept(raw []byte) (swap.Accept, error) {
	var rec acceptRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swap.Accept{}, fmt.Errorf("swapdb: decoding accept: %w", err)
	}
	return acceptFromRecord(rec)
}

func acceptFromRecord(rec acceptRecord) (swap.Accept, error) {
	var (
		acc swap.Accept
		err error
	)
	if acc.SwapID, err = swap.ParseID(rec.SwapID); err != nil {
		return swap.Accept{}, err
	}
	if acc.AlphaLedgerRedeemIdentity, err = ledger.ParsePublicKey(rec.AlphaRedeemIdentity); err != nil {
		return swap.Accept{}, err
	}
	if acc.BetaLedgerRefundIdentity, err = ledger.ParsePublicKey(rec.BetaRefundIdentity); err != nil {
		return swap.Accept{}, err
	}
	return acc, nil
}

func serializeDecline(dec swap.Decline) ([]byte, error) {
	rec := declineRecord{SwapID: dec.SwapID.String()}
	if dec.Reason != "" {
		rec.Reason = &dec.Reason
	}
	return json.Marshal(rec)
}

func deserializeDecline(raw []byte) (swap.Decline, error) {
	var rec declineRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swap.Decline{}, fmt.Errorf("swapdb: decoding decline: %w", err)
	}
	return declineFromRecord(rec)
}

func declineFromRecord(rec declineRecord) (swap.Decline, error) {
	id, err := swap.ParseID(rec.SwapID)
	if err != nil {
		return swap.Decline{}, err
	}
	dec := swap.Decline{SwapID: id}
	if rec.Reason != nil {
		dec.Reason = *rec.Reason
	}
	return dec, nil
}

// eventKindNames maps each swap.EventKind to its stored name.
var eventKindNames = map[swap.EventKind]string{
	swap.EventAccepted:        "accepted",
	swap.EventDeclined:        "declined",
	swap.EventResponseTimeout: "response_timeout",
	swap.EventAlphaFunded:     "alpha_funded",
	swap.EventBetaFunded:      "beta_funded",
	swap.EventAlphaRedeemed:   "alpha_redeemed",
	swap.EventBetaRedeemed:    "beta_redeemed",
	swap.EventAlphaRefunded:   "alpha_refunded",
	swap.EventBetaRefunded:    "beta_refunded",
}

var eventKindByName = func() map[string]swap.EventKind {
	m := make(map[string]swap.EventKind, len(eventKindNames))
	for k, name := range eventKindNames {
		m[name] = k
	}
	return m
}()

func serializeEvent(ev swap.Event) ([]byte, error) {
	name, ok := eventKindNames[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("swapdb: unknown event kind %d", ev.Kind)
	}

	rec := eventRecord{Kind: name, Vout: ev.Vout}
	if !ev.Txid.IsZero() {
		rec.TxidChain = ev.Txid.Chain().String()
		rec.Txid = ev.Txid.String()
	}
	if !ev.Location.IsZero() {
		rec.LocationChain = ev.Location.Chain().String()
		rec.Location = ev.Location.String()
	}
	if ev.Secret != nil {
		rec.Secret = ev.Secret.String()
	}
	if ev.Accept != nil {
		rec.Accept = &acceptRecord{
			SwapID:              ev.Accept.SwapID.String(),
			AlphaRedeemIdentity: ev.Accept.AlphaLedgerRedeemIdentity.String(),
			BetaRefundIdentity:  ev.Accept.BetaLedgerRefundIdentity.String(),
		}
	}
	if ev.Decline != nil {
		rec.Decline = &declineRecord{SwapID: ev.Decline.SwapID.String()}
		if ev.Decline.Reason != "" {
			reason := ev.Decline.Reason
			rec.Decline.Reason = &reason
		}
	}

	return json.Marshal(rec)
}

func deserializeEvent(raw []byte) (swap.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swap.Event{}, fmt.Errorf("swapdb: decoding event: %w", err)
	}

	kind, ok := eventKindByName[rec.Kind]
	if !ok {
		return swap.Event{}, fmt.Errorf("swapdb: unknown event kind %q", rec.Kind)
	}

	ev := swap.Event{Kind: kind, Vout: rec.Vout}
	if rec.Txid != "" {
		ev.Txid = txidFromChain(rec.TxidChain, rec.Txid)
	}
	if rec.Location != "" {
		ev.Location = addressFromChain(rec.LocationChain, rec.Location)
	}
	if rec.Secret != "" {
		secret, err := ledger.ParseSecret(rec.Secret)
		if err != nil {
			return swap.Event{}, err
		}
		ev.Secret = &secret
	}
	if rec.Accept != nil {
		acc, err := acceptFromRecord(*rec.Accept)
		if err != nil {
			return swap.Event{}, err
		}
		ev.Accept = &acc
	}
	if rec.Decline != nil {
		dec, err := declineFromRecord(*rec.Decline)
		if err != nil {
			return swap.Event{}, err
		}
		ev.Decline = &dec
	}

	return ev, nil
}

func txidFromChain(chain, text string) ledger.Txid {
	if chain == "ethereum" {
		return ledger.NewEthereumTxid(text)
	}
	return ledger.NewBitcoinTxid(text)
}

func addressFromChain(chain, text string) ledger.Address {
	if chain == "ethereum" {
		return ledger.NewEthereumAddress(text)
	}
	return ledger.NewBitcoinAddress(text)
}
