package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// PositionService defines the betting and payout methods the position
// handler requires.
type PositionService interface {
	PlaceBet(ctx context.Context, id string, user common.Address, outcome int, amount *uint256.Int) ([]domain.Position, error)
	Withdraw(ctx context.Context, id string, user common.Address) (domain.Payout, error)
	PreviewPayout(ctx context.Context, id string, user common.Address) (domain.Payout, error)
	Positions(ctx context.Context, id string) ([]domain.Position, error)
	UserPositions(ctx context.Context, id string, user common.Address) ([]domain.Position, error)
	PositionHistory(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves bet, withdrawal and position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

type placeBetRequest struct {
	User    string `json:"user"`
	Outcome *int   `json:"outcome"`
	Amount  string `json:"amount"`
}

// PlaceBet stakes amount on an outcome. The user must already have approved
// the market's custody account for at least amount.
// POST /api/markets/{id}/bets
func (h *PositionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := pathParam(r, "id")
	positions, err := h.positions.PlaceBet(r.Context(), id, user, *req.Outcome, amt)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err,
			slog.String("market_id", id),
			slog.String("user", user.Hex()),
		)
		return
	}
	writeJSON(w, http.StatusCreated, listPositionsResponse{Positions: newPositionViews(positions)})
}

type withdrawRequest struct {
	User string `json:"user"`
}

// Withdraw pays out everything the user is owed in a resolved market.
// POST /api/markets/{id}/withdrawals
func (h *PositionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	payout, err := h.positions.Withdraw(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err,
			slog.String("market_id", id),
			slog.String("user", user.Hex()),
		)
		return
	}
	writeJSON(w, http.StatusOK, newPayoutView(payout))
}

// PreviewPayout reports what a withdrawal would pay without moving funds.
// GET /api/markets/{id}/payouts/{user}
func (h *PositionHandler) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	payout, err := h.positions.PreviewPayout(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "preview payout", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, newPayoutView(payout))
}

// ListPositions returns a market's positions, or one user's when ?user= is set.
// GET /api/markets/{id}/positions?user=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var (
		positions []domain.Position
		err       error
	)
	if u := r.URL.Query().Get("user"); u != "" {
		user, perr := parseAddress("user", u)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		positions, err = h.positions.UserPositions(r.Context(), id, user)
	} else {
		positions, err = h.positions.Positions(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: newPositionViews(positions)})
}

// UserHistory returns the user's persisted positions across all markets,
// most recently updated first.
// GET /api/users/{user}/positions
func (h *PositionHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.positions.PositionHistory(r.Context(), user, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "position history", err, slog.String("user", user.Hex()))
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: newPositionViews(positions)})
}
