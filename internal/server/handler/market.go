package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/oracle"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, params domain.CreateMarketParams) (domain.Market, error)
	DeployOutcomeToken(ctx context.Context, id string, caller common.Address, name, symbol string) (domain.Market, error)
	IncrementState(ctx context.Context, id string, caller common.Address) (domain.Market, error)
	DetermineWinner(ctx context.Context, id string, caller common.Address) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, state *domain.MarketState, opts domain.ListOpts) []domain.Market
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets hosted by this process in creation order.
// GET /api/markets?state=betting&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *domain.MarketState
	if v := r.URL.Query().Get("state"); v != "" {
		st, err := domain.ParseMarketState(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		state = &st
	}

	markets := h.markets.ListMarkets(r.Context(), state, opts)
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, newMarketView(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market))
}

// createMarketRequest carries either a raw oracle question or the title,
// outcomes and category to build one from.
type createMarketRequest struct {
	EventName      string    `json:"event_name"`
	Question       string    `json:"question"`
	Title          string    `json:"title"`
	Outcomes       []string  `json:"outcomes"`
	Category       string    `json:"category"`
	OutcomeCount   int       `json:"outcome_count"`
	OpeningTime    time.Time `json:"opening_time"`
	ResolutionTime time.Time `json:"resolution_time"`
	Arbitrator     string    `json:"arbitrator"`
	Owner          string    `json:"owner"`
}

func (req createMarketRequest) params() (domain.CreateMarketParams, error) {
	p := domain.CreateMarketParams{
		EventName:      req.EventName,
		Question:       req.Question,
		OutcomeCount:   req.OutcomeCount,
		OpeningTime:    req.OpeningTime,
		ResolutionTime: req.ResolutionTime,
	}
	if p.Question == "" {
		p.Question = oracle.Question{
			Title:    req.Title,
			Outcomes: req.Outcomes,
			Category: req.Category,
			Lang:     "en",
		}.String()
	}
	if p.OutcomeCount == 0 {
		p.OutcomeCount = len(req.Outcomes)
	}
	var err error
	if p.Owner, err = parseAddress("owner", req.Owner); err != nil {
		return p, err
	}
	if req.Arbitrator != "" {
		if p.Arbitrator, err = parseAddress("arbitrator", req.Arbitrator); err != nil {
			return p, err
		}
	}
	return p, nil
}

// CreateMarket registers a new market in the Created state.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	market, err := h.markets.CreateMarket(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(market))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type deployTokenRequest struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// DeployOutcomeToken deploys and attaches the market's next outcome token.
// POST /api/markets/{id}/tokens
func (h *MarketHandler) DeployOutcomeToken(w http.ResponseWriter, r *http.Request) {
	var req deployTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "name and symbol are required")
		return
	}
	id := pathParam(r, "id")
	market, err := h.markets.DeployOutcomeToken(r.Context(), id, caller, req.Name, req.Symbol)
	if err != nil {
		writeServiceError(w, r, h.logger, "deploy outcome token", err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(market))
}

// IncrementState advances the market one lifecycle step.
// POST /api/markets/{id}/state
func (h *MarketHandler) IncrementState(w http.ResponseWriter, r *http.Request) {
	h.callerAction(w, r, "increment state", h.markets.IncrementState)
}

// DetermineWinner resolves the market from the oracle's final answer.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) DetermineWinner(w http.ResponseWriter, r *http.Request) {
	h.callerAction(w, r, "determine winner", h.markets.DetermineWinner)
}

func (h *MarketHandler) callerAction(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, string, common.Address) (domain.Market, error)) {
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	market, err := fn(r.Context(), id, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err, slog.String("market_id", id))
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market))
}
