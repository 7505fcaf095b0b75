// Package action derives, for each swap, the set of actions the local
// party can currently execute — accept, decline, deploy, fund, redeem,
// refund — together with the concrete on-chain parameters each one needs
// (spec §4.9, component C9), and serves them over the REST API of spec §6.
package action

import (
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

// Kind names one of the actions a swap can offer its local party.
type Kind string

const (
	Accept  Kind = "accept"
	Decline Kind = "decline"
	Deploy  Kind = "deploy"
	Fund    Kind = "fund"
	Redeem  Kind = "redeem"
	Refund  Kind = "refund"
)

// ParseKind maps a URL path segment to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Accept, Decline, Deploy, Fund, Redeem, Refund:
		return Kind(s), true
	default:
		return "", false
	}
}

// Available enumerates the actions the local party can take in st, per
// the state machine's transition table (spec §4.5) and each party's
// responsibilities: Alice funds alpha and redeems beta; Bob funds beta
// and redeems alpha once the secret is revealed.
func Available(st swap.State) []Kind {
	alice := st.Role == swap.RoleAlice

	switch st.Kind {
	case swap.KindSent:
		if !alice {
			return []Kind{Accept, Decline}
		}

	case swap.KindAccepted:
		if alice {
			return fundActions(st.Request.AlphaAsset.Kind)
		}

	case swap.KindAlphaFunded:
		if alice {
			return []Kind{Refund}
		}
		return fundActions(st.Request.BetaAsset.Kind)

	case swap.KindBothFunded:
		if alice {
			return []Kind{Redeem, Refund}
		}
		// Bob can redeem alpha only once he has extracted the secret
		// from Alice's beta redemption.
		if st.Secret != nil {
			return []Kind{Redeem, Refund}
		}
		return []Kind{Refund}

	case swap.KindAlphaFundedBetaRedeemed:
		// Beta's redemption revealed the secret; Bob redeems alpha,
		// while Alice can still fall back to her alpha refund after
		// expiry.
		if alice {
			return []Kind{Refund}
		}
		if st.Secret != nil {
			return []Kind{Redeem}
		}

	case swap.KindAlphaFundedBetaRefunded:
		if alice {
			return []Kind{Refund}
		}
		if st.Secret != nil {
			return []Kind{Redeem}
		}

	case swap.KindAlphaRedeemedBetaFunded:
		if alice {
			return []Kind{Redeem}
		}
		return []Kind{Refund}

	case swap.KindAlphaRefundedBetaFunded:
		// Alice holds the secret and can still redeem beta even after
		// refunding alpha; Bob's recourse is his beta refund.
		if alice {
			return []Kind{Redeem}
		}
		return []Kind{Refund}
	}

	return nil
}

// fundActions returns the funding actions an unfunded leg offers: a plain
// Fund for Bitcoin and ether, and the two-step Fund (token approval) plus
// Deploy (HTLC deployment) for ERC-20, per the funding flow of spec §4.2.
func fundActions(asset ledger.AssetKind) []Kind {
	if asset == ledger.AssetErc20 {
		return []Kind{Fund, Deploy}
	}
	return []Kind{Fund}
}
