package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status and a stable code clients
// can switch on. Malformed ledger data gets its own code so it is never
// mistaken for a connectivity problem.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, products.ErrMalformedHistory):
		return http.StatusBadGateway, "data_integrity"
	case errors.Is(err, products.ErrConnectivity):
		return http.StatusServiceUnavailable, "ledger_unavailable"
	case errors.Is(err, products.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, products.ErrValidation):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, products.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, products.ErrTransactionRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, products.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, catalog.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := statusFor(err)
	writeJSON(w, code, errorBody{Error: err.Error(), Code: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "invalid"})
}
