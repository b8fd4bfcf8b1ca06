package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/server/middleware"
	"github.com/alanyoungcy/marketescrow/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	PlaceBet(ctx context.Context, in service.PlaceBetInput) (domain.Bet, error)
	DeclareWinner(ctx context.Context, marketID, callerID string, winner domain.Option) (domain.SettlementRecord, error)
	GetMarket(ctx context.Context, id string) (domain.MarketDetail, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	History(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger.With(slog.String("component", "market_handler")),
	}
}

type createMarketRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	OptionA       string          `json:"option_a"`
	OptionB       string          `json:"option_b"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	DurationHours int             `json:"duration_hours"`
	WalletAddress string          `json:"wallet_address"`
	TxHash        string          `json:"tx_hash"`
}

// CreateMarket opens a market backed by a verified creator deposit.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), service.CreateMarketInput{
		CreatorID:     middleware.UserID(r.Context()),
		Title:         req.Title,
		Description:   req.Description,
		OptionA:       req.OptionA,
		OptionB:       req.OptionB,
		EntryPrice:    req.EntryPrice,
		DurationHours: req.DurationHours,
		Wallet:        req.WalletAddress,
		TxHash:        req.TxHash,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"market": m})
}

type placeBetRequest struct {
	SelectedOption domain.Option   `json:"selected_option"`
	Amount         decimal.Decimal `json:"amount"`
	WalletAddress  string          `json:"wallet_address"`
	TxHash         string          `json:"tx_hash"`
}

// PlaceBet records the caller's paid pick.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	bet, err := h.markets.PlaceBet(r.Context(), service.PlaceBetInput{
		MarketID: r.PathValue("id"),
		UserID:   middleware.UserID(r.Context()),
		Option:   req.SelectedOption,
		Amount:   req.Amount,
		Wallet:   req.WalletAddress,
		TxHash:   req.TxHash,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"bet": bet})
}

type declareWinnerRequest struct {
	WinningOption domain.Option `json:"winning_option"`
}

// DeclareWinner settles a closed market. Only its creator may call it.
// POST /api/markets/{id}/declare-winner
func (h *MarketHandler) DeclareWinner(w http.ResponseWriter, r *http.Request) {
	var req declareWinnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rec, err := h.markets.DeclareWinner(r.Context(), r.PathValue("id"), middleware.UserID(r.Context()), req.WinningOption)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"settlement": rec})
}

// GetMarket returns a market with its bets and payouts.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	d, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"market":  d.Market,
		"bets":    nonNil(d.Bets),
		"payouts": nonNil(d.Payouts),
	})
}

// ListMarkets lists markets, optionally filtered by status.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	status := domain.MarketStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.MarketActive, domain.MarketClosed, domain.MarketFinalized, domain.MarketAwaitingAdmin:
	default:
		writeError(w, r, h.logger, domain.ErrInvalidInput.With("unknown status %q", status).WithDetail("field", "status"))
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), status, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"markets": nonNil(markets),
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// GetHistory returns the market's audit trail.
// GET /api/markets/{id}/history?limit=50&offset=0
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.markets.History(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"history": nonNil(entries),
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
