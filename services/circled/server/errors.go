package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "circlefi/native/common"
	"circlefi/native/lending"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	errMissingCaller = errors.New("caller identity required")
	errBadRequest    = errors.New("malformed request")
)

// classify maps an engine error onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, errMissingCaller):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	switch lending.Kind(err) {
	case lending.ErrValidation:
		return http.StatusBadRequest, "validation"
	case lending.ErrAuthorization:
		return http.StatusForbidden, "unauthorized"
	case lending.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case lending.ErrInvalidCollateral:
		return http.StatusUnprocessableEntity, "invalid_collateral"
	case lending.ErrInsufficientCollateral:
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case lending.ErrInsufficientBalance:
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case lending.ErrInsufficientLiquidity:
		return http.StatusUnprocessableEntity, "insufficient_liquidity"
	case lending.ErrNotOverdue:
		return http.StatusConflict, "not_overdue"
	case lending.ErrAlreadyLiquidated:
		return http.StatusConflict, "already_liquidated"
	case lending.ErrAlreadyInactive:
		return http.StatusConflict, "already_inactive"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
