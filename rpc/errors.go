package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"lendledger/native/lending"
	nativecommon "lendledger/native/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps engine sentinels onto HTTP status codes. Unknown errors are
// treated as internal.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidRatio),
		errors.Is(err, lending.ErrExactDebtRequired),
		errors.Is(err, lending.ErrIncorrectDebtAmount):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrMarketNotEligible):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrMarketFrozen),
		errors.Is(err, lending.ErrMarketAlreadyFrozen),
		errors.Is(err, lending.ErrMarketNotFrozen),
		errors.Is(err, lending.ErrMarketRemoved),
		errors.Is(err, lending.ErrMarketHasDeposits),
		errors.Is(err, lending.ErrDebtOutstanding),
		errors.Is(err, lending.ErrNoOpenDebt),
		errors.Is(err, lending.ErrNoBaseLent),
		errors.Is(err, lending.ErrNoYield),
		errors.Is(err, lending.ErrNotEligibleForFullLiquidation),
		errors.Is(err, lending.ErrNotEligibleForPartialLiquidation):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrExceedsMarketDebt),
		errors.Is(err, lending.ErrExceedsEntitlement),
		errors.Is(err, lending.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrOracleUnavailable),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	message := "internal error"
	if status != http.StatusInternalServerError && err != nil {
		message = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
	return status
}

func writeBadRequest(w http.ResponseWriter, message string) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, payload interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
	return http.StatusOK
}
