package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/service"
)

// Simulator is the control surface over the in-memory asset, yield pool and
// oracle. It is only registered when the service runs without a chain.
type Simulator interface {
	Mint(ctx context.Context, account common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, marketID string, owner common.Address, amount *uint256.Int) error
	Balance(ctx context.Context, account common.Address) (*uint256.Int, error)
	Accrue(ctx context.Context, marketID string, bps uint64) (*uint256.Int, error)
	Answer(ctx context.Context, marketID string, outcome int) error
	RunReference(ctx context.Context, owner common.Address) (service.ReferenceRun, error)
}

// SimulationHandler serves the simulation endpoints.
type SimulationHandler struct {
	sim    Simulator
	logger *slog.Logger
}

// NewSimulationHandler creates a SimulationHandler.
func NewSimulationHandler(sim Simulator, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{sim: sim, logger: logHandler(logger, "simulation")}
}

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (req amountRequest) parse() (common.Address, *uint256.Int, error) {
	addr, err := parseAddress("account", req.Account)
	if err != nil {
		return common.Address{}, nil, err
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, amt, nil
}

// Mint credits base asset to an account.
// POST /api/sim/mint
func (h *SimulationHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	account, amt, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sim.Mint(r.Context(), account, amt); err != nil {
		writeServiceError(w, r, h.logger, "mint", err)
		return
	}
	h.writeBalance(w, r, account)
}

// Approve lets the market's custody account pull up to amount from account.
// POST /api/sim/markets/{id}/approve
func (h *SimulationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	account, amt, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := h.sim.Approve(r.Context(), id, account, amt); err != nil {
		writeServiceError(w, r, h.logger, "approve", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "allowance": amt.Dec()})
}

// Balance reports an account's base-asset balance.
// GET /api/sim/balances/{account}
func (h *SimulationHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", pathParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeBalance(w, r, account)
}

func (h *SimulationHandler) writeBalance(w http.ResponseWriter, r *http.Request, account common.Address) {
	bal, err := h.sim.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "balance": bal.Dec()})
}

type accrueRequest struct {
	BPS uint64 `json:"bps"`
}

// Accrue grows the market's yield position by bps basis points.
// POST /api/sim/markets/{id}/accrue
func (h *SimulationHandler) Accrue(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := pathParam(r, "id")
	interest, err := h.sim.Accrue(r.Context(), id, req.BPS)
	if err != nil {
		writeServiceError(w, r, h.logger, "accrue", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id, "interest": interest.Dec()})
}

type answerRequest struct {
	Outcome int `json:"outcome"`
}

// Answer finalizes the oracle answer for the market's question.
// POST /api/sim/markets/{id}/answer
func (h *SimulationHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := h.sim.Answer(r.Context(), id, req.Outcome); err != nil {
		writeServiceError(w, r, h.logger, "answer", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "outcome": req.Outcome})
}

type referenceRequest struct {
	Owner string `json:"owner"`
}

type referenceResponse struct {
	Market  marketView   `json:"market"`
	Payouts []payoutView `json:"payouts"`
}

// RunReference plays the reference market end to end.
// POST /api/sim/reference
func (h *SimulationHandler) RunReference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := h.sim.RunReference(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "reference run", err)
		return
	}
	resp := referenceResponse{Market: newMarketView(run.Market)}
	for _, p := range run.Payouts {
		resp.Payouts = append(resp.Payouts, newPayoutView(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
