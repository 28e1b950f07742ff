package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrNoStake, http.StatusNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrInvalidOutcome, http.StatusBadRequest},
	{domain.ErrInvalidParams, http.StatusBadRequest},
	{domain.ErrZeroAmount, http.StatusBadRequest},
	{domain.ErrAmountOverflow, http.StatusBadRequest},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrInsufficientAllowance, http.StatusUnprocessableEntity},
	{domain.ErrMarketNotOpen, http.StatusConflict},
	{domain.ErrInvalidStateTransition, http.StatusConflict},
	{domain.ErrOutcomeNotFinal, http.StatusConflict},
	{domain.ErrAlreadyWithdrawn, http.StatusConflict},
	{domain.ErrRedemptionAlreadyPerformed, http.StatusConflict},
	{domain.ErrAlreadyExists, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
}

// statusOf maps a service error to its HTTP status, 500 if unrecognized.
func statusOf(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err to the client. Domain errors are echoed;
// anything else is logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error, attrs ...any) {
	status := statusOf(err)
	if status != http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		append(attrs, slog.String("error", err.Error()))...,
	)
	writeError(w, status, op+" failed")
}
