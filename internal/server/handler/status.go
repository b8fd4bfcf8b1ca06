package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

// Rules are the public market parameters clients need before paying.
type Rules struct {
	MinEntryPrice    decimal.Decimal `json:"min_entry_price"`
	CreatorDeposit   decimal.Decimal `json:"creator_deposit"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	MaxDurationHours int             `json:"max_duration_hours"`
	SettlementHours  float64         `json:"settlement_window_hours"`
	TokenContract    string          `json:"token_contract"`
	TokenDecimals    int32           `json:"token_decimals"`
	MinConfirmations int             `json:"min_confirmations"`
}

// StatusHandler serves the process mode and market rules.
type StatusHandler struct {
	Mode  string
	Rules Rules
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, rules Rules) *StatusHandler {
	return &StatusHandler{Mode: mode, Rules: rules}
}

// GetStatus responds with the current mode and market rules.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"mode":  h.Mode,
		"rules": h.Rules,
	})
}
