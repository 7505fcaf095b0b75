package action

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

type fakeLister struct {
	ids []swap.ID
}

func (f *fakeLister) SwapIDs() ([]swap.ID, error) { return f.ids, nil }

type fakeResponder struct {
	accepted []swap.ID
	declined []swap.ID
	reason   string
}

func (f *fakeResponder) AcceptSwap(id swap.ID) error {
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeResponder) DeclineSwap(id swap.ID, reason string) error {
	f.declined = append(f.declined, id)
	f.reason = reason
	return nil
}

func newTestServer(t *testing.T, states ...swap.State) (*httptest.Server, *fakeResponder) {
	t.Helper()

	surface, _ := newTestSurface(states...)
	ids := make([]swap.ID, len(states))
	for i, st := range states {
		ids[i] = st.SwapID
	}

	responder := &fakeResponder{}
	srv := httptest.NewServer(NewServer(ServerConfig{
		Surface:   surface,
		Responder: responder,
		Lister:    &fakeLister{ids: ids},
	}))
	t.Cleanup(srv.Close)
	return srv, responder
}

func TestGetFundEndpoint(t *testing.T) {
	t.Parallel()

	st := btcEthState(t, swap.RoleAlice, swap.KindAccepted)
	srv, _ := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/swaps/" + st.SwapID.String() + "/fund")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Type    string                     `json:"type"`
		Payload BitcoinSendAmountToAddress `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "bitcoin-send-amount-to-address", body.Type)
	require.Equal(t, "100000000", body.Payload.Amount)
	require.Equal(t, "regtest", body.Payload.Network)
	require.NotEmpty(t, body.Payload.To)
}

// TestRedeemMissingParams asserts the 400 carries the structured field
// descriptions of spec §4.9.
func TestRedeemMissingParams(t *testing.T) {
	t.Parallel()

	st := btcEthState(t, swap.RoleBob, swap.KindAlphaFundedBetaRedeemed)
	secret := ledger.Secret{0x01}
	st.Secret = &secret
	srv, _ := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/swaps/" + st.SwapID.String() + "/redeem")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Fields, 2)
	require.Equal(t, "address", body.Fields[0].Name)
	require.Equal(t, "fee_per_byte", body.Fields[1].Name)
}

func TestUnavailableActionIs404(t *testing.T) {
	t.Parallel()

	st := btcEthState(t, swap.RoleAlice, swap.KindBothRedeemed)
	srv, _ := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/swaps/" + st.SwapID.String() + "/redeem")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAcceptDeclineEndpoints(t *testing.T) {
	t.Parallel()

	st := btcEthState(t, swap.RoleBob, swap.KindSent)
	srv, responder := newTestServer(t, st)

	resp, err := http.Post(
		srv.URL+"/swaps/"+st.SwapID.String()+"/accept", "application/json", nil,
	)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []swap.ID{st.SwapID}, responder.accepted)

	resp, err = http.Post(
		srv.URL+"/swaps/"+st.SwapID.String()+"/decline", "application/json",
		strings.NewReader(`{"reason":"too slow"}`),
	)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []swap.ID{st.SwapID}, responder.declined)
	require.Equal(t, "too slow", responder.reason)
}

func TestListAndShow(t *testing.T) {
	t.Parallel()

	st := btcEthState(t, swap.RoleBob, swap.KindSent)
	srv, _ := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/swaps")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, st.SwapID.String(), list[0].ID)
	require.Equal(t, "sent", list[0].State)
	require.Equal(t, []Kind{Accept, Decline}, list[0].Actions)

	showResp, err := http.Get(srv.URL + "/swaps/" + st.SwapID.String())
	require.NoError(t, err)
	defer showResp.Body.Close()
	require.Equal(t, http.StatusOK, showResp.StatusCode)

	var shown summary
	require.NoError(t, json.NewDecoder(showResp.Body).Decode(&shown))
	require.Equal(t, st.SwapID.String(), shown.ID)
	require.Equal(t, "sent", shown.State)
	require.Equal(t, []Kind{Accept, Decline}, shown.Actions)
}
