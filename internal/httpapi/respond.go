package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/STTM-NSU/crypto-trader/internal/quotes"
	"github.com/STTM-NSU/crypto-trader/internal/trading"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	_headerUserID = "X-User-ID"
	_headerRoles  = "X-User-Roles"
	_roleAdmin    = "ADMIN"
)

var errUnauthenticated = errors.New("missing or invalid caller identity")

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, trading.ErrValidation), errors.Is(err, quotes.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, trading.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrForbidden), errors.Is(err, trading.ErrTradingDisabled):
		return http.StatusForbidden
	case errors.Is(err, trading.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, trading.ErrInsufficientFunds), errors.Is(err, trading.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, trading.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, quotes.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Errorf("%s: %s %s", err, r.Method, r.URL.Path)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// principal reads the identity set by the upstream gateway.
func principal(r *http.Request) (trading.Principal, error) {
	id, err := uuid.Parse(r.Header.Get(_headerUserID))
	if err != nil {
		return trading.Principal{}, errUnauthenticated
	}

	p := trading.Principal{UserID: id}
	for _, role := range splitRoles(r.Header.Get(_headerRoles)) {
		if role == _roleAdmin {
			p.Admin = true
		}
	}
	return p, nil
}

func splitRoles(header string) []string {
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			roles = append(roles, strings.TrimPrefix(r, "ROLE_"))
		}
	}
	return roles
}
