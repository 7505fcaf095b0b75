package action

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/swap"
)

// Creator starts a new swap from an externally submitted request body;
// the daemon owns parsing and validation so the HTTP layer stays thin.
type Creator interface {
	CreateSwap(body json.RawMessage) (swap.ID, error)
}

// Responder executes the accept and decline actions, which unlike the
// on-chain four are performed by the node itself rather than handed back
// to the caller as a payload.
type Responder interface {
	AcceptSwap(id swap.ID) error
	DeclineSwap(id swap.ID, reason string) error
}

// Lister enumerates every swap the node knows, active or terminal.
type Lister interface {
	SwapIDs() ([]swap.ID, error)
}

// ServerConfig bundles the HTTP handler's collaborators.
type ServerConfig struct {
	Surface   *Surface
	Creator   Creator
	Responder Responder
	Lister    Lister
	Log       btclog.Logger
}

// Server is the REST front door of spec §6: GET
// /swaps/{id}/{deploy|fund|redeem|refund} plus the swap creation and
// accept/decline endpoints.
type Server struct {
	cfg ServerConfig
}

// NewServer constructs a Server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// summary is the GET /swaps/{id} response body.
type summary struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	State   string `json:"state"`
	Actions []Kind `json:"actions"`
}

// errorBody is the JSON shape every error response carries.
type errorBody struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields,omitempty"`
}

// declineBody is the POST /swaps/{id}/decline request body.
type declineBody struct {
	Reason string `json:"reason,omitempty"`
}

// createResponse is the POST /swaps response body.
type createResponse struct {
	ID string `json:"id"`
}

// ServeHTTP routes /swaps requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/swaps"), "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			s.handleList(w)
		case http.MethodPost:
			s.handleCreate(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		parts := strings.SplitN(path, "/", 2)
		id, err := swap.ParseID(parts[0])
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errorBody{Title: "invalid swap id"})
			return
		}

		if len(parts) == 1 {
			s.handleShow(w, id)
			return
		}
		s.handleAction(w, r, id, parts[1])
	}
}

func (s *Server) handleList(w http.ResponseWriter) {
	ids, err := s.cfg.Lister.SwapIDs()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, errorBody{Title: err.Error()})
		return
	}

	out := make([]summary, 0, len(ids))
	for _, id := range ids {
		st, err := s.cfg.Surface.cfg.Swaps.SwapState(id)
		if err != nil {
			continue
		}
		out = append(out, stateSummary(st))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errorBody{Title: "malformed body"})
		return
	}

	id, err := s.cfg.Creator.CreateSwap(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errorBody{Title: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, createResponse{ID: id.String()})
}

func (s *Server) handleShow(w http.ResponseWriter, id swap.ID) {
	st, err := s.cfg.Surface.cfg.Swaps.SwapState(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, errorBody{Title: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, stateSummary(st))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, id swap.ID, name string) {
	kind, ok := ParseKind(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, errorBody{Title: "unknown action " + name})
		return
	}

	switch kind {
	case Accept, Decline:
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleResponse(w, r, id, kind)

	default:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params := Params{
			Address:    r.URL.Query().Get("address"),
			FeePerByte: r.URL.Query().Get("fee_per_byte"),
		}

		var (
			resp Response
			err  error
		)
		switch kind {
		case Deploy:
			resp, err = s.cfg.Surface.Deploy(id)
		case Fund:
			resp, err = s.cfg.Surface.Fund(id)
		case Redeem:
			resp, err = s.cfg.Surface.Redeem(id, params)
		case Refund:
			resp, err = s.cfg.Surface.Refund(id, params)
		}
		if err != nil {
			s.writeActionError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request, id swap.ID, kind Kind) {
	var err error
	if kind == Accept {
		err = s.cfg.Responder.AcceptSwap(id)
	} else {
		var body declineBody
		// An empty body is fine; reason is optional.
		_ = json.NewDecoder(r.Body).Decode(&body)
		err = s.cfg.Responder.DeclineSwap(id, body.Reason)
	}
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeActionError translates the surface's error taxonomy to status
// codes: structured parameter errors are 400s carrying the expected field
// set, missing actions are 404s, everything else is a 500.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var invalid *InvalidParamsError
	if errors.As(err, &invalid) {
		s.writeError(w, http.StatusBadRequest, errorBody{
			Title:  "missing or invalid query parameters",
			Fields: invalid.Fields,
		})
		return
	}
	if IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, errorBody{Title: err.Error()})
		return
	}

	if s.cfg.Log != nil {
		s.cfg.Log.Errorf("action: %v", err)
	}
	s.writeError(w, http.StatusInternalServerError, errorBody{Title: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.cfg.Log != nil {
		s.cfg.Log.Errorf("action: encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, body errorBody) {
	s.writeJSON(w, status, body)
}

func stateSummary(st swap.State) summary {
	return summary{
		ID:      st.SwapID.String(),
		Role:    st.Role.String(),
		State:   st.Kind.String(),
		Actions: Available(st),
	}
}
