package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// writeDomainError maps domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	var settlementErr *domain.SettlementError
	if errors.As(err, &settlementErr) {
		WriteError(w, http.StatusBadGateway, "settlement_failure", settlementErr.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientHoldings):
		WriteError(w, http.StatusBadRequest, "insufficient_holdings", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", "Order not found")
	case errors.Is(err, domain.ErrTradeNotFound):
		WriteError(w, http.StatusNotFound, "trade_not_found", "Trade not found")
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", "Caller is not allowed to do this")
	case errors.Is(err, domain.ErrInsufficientRemainingAmount):
		WriteError(w, http.StatusConflict, "insufficient_remaining_amount", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		WriteError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrDuplicateOrder):
		WriteError(w, http.StatusConflict, "duplicate_order", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
