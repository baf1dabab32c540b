package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type validationDetails struct {
	Fields     []core.FieldError     `json:"fields,omitempty"`
	Recipients []core.RecipientError `json:"recipients,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// fail maps a domain error onto a status code and error body.
//
//	validation                      400
//	forbidden                       403
//	not found                       404
//	stock shortfall, conflicts      409
//	usage over remaining, vendor    422
//	anything else                   500
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *core.ValidationError
		shortfall  *core.InsufficientStockError
		exhausted  *core.StockPoolExhaustedError
		overuse    *core.UsageExceedsAvailableError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), validationDetails{
			Fields:     validation.Fields,
			Recipients: validation.Recipients,
		})
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)

	case errors.As(err, &shortfall):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error(), map[string]any{
			"actor":     shortfall.Actor,
			"item":      shortfall.Item,
			"available": shortfall.Available,
			"requested": shortfall.Requested,
		})
	case errors.As(err, &exhausted):
		writeError(w, http.StatusConflict, "stock_pool_exhausted", err.Error(), map[string]any{
			"item":      exhausted.Item,
			"balance":   exhausted.Balance,
			"requested": exhausted.Requested,
		})
	case errors.As(err, &overuse):
		writeError(w, http.StatusUnprocessableEntity, "usage_exceeds_available", err.Error(), map[string]any{
			"record_id": overuse.RecordID,
			"recipient": overuse.Recipient,
			"remaining": overuse.Remaining,
			"requested": overuse.Requested,
		})
	case errors.Is(err, core.ErrNotEligibleForVendor):
		writeError(w, http.StatusUnprocessableEntity, "not_eligible_for_vendor", err.Error(), nil)

	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error(), nil)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrClaimRejected):
		writeError(w, http.StatusConflict, "claim_rejected", err.Error(), nil)
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error(), nil)
	case core.IsRetryable(err):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error(), nil)

	default:
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
