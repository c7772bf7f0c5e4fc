package httpapi

import (
	"fmt"
	"net/http"

	"github.com/STTM-NSU/crypto-trader/internal/model"
	"github.com/STTM-NSU/crypto-trader/internal/tools"
	"github.com/STTM-NSU/crypto-trader/internal/trading"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const _maxBodyBytes = 1 << 16

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, _maxBodyBytes)
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %s", trading.ErrValidation, err)
	}
	if err := a.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", trading.ErrValidation, err)
	}
	return nil
}

func (a *API) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var req orderRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.trader.PlaceMarketOrder(r.Context(), trading.OrderRequest{
		IBAN:     req.IBAN,
		Asset:    req.Asset,
		Side:     model.Side(req.Side),
		Quantity: req.Quantity,
	}, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newOrderResponse(res))
}

func accountIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.URL.Query().Get("accountId"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: accountId must be a uuid", trading.ErrValidation)
	}
	return id, nil
}

func (a *API) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	positions, err := a.trader.Portfolio(r.Context(), accountID, r.URL.Query().Get("vs"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, pos := range positions {
		out = append(out, newPositionResponse(pos))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	orders, err := a.trader.Orders(r.Context(), accountID, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	respondJSON(w, http.StatusOK, out)
}

type fundsMove func(r *http.Request, iban string, amount decimal.Decimal, p trading.Principal) (model.Account, error)

func (a *API) handleCredit(w http.ResponseWriter, r *http.Request) {
	a.handleFunds(w, r, func(r *http.Request, iban string, amount decimal.Decimal, p trading.Principal) (model.Account, error) {
		return a.trader.Credit(r.Context(), iban, amount, p)
	})
}

func (a *API) handleDebit(w http.ResponseWriter, r *http.Request) {
	a.handleFunds(w, r, func(r *http.Request, iban string, amount decimal.Decimal, p trading.Principal) (model.Account, error) {
		return a.trader.Debit(r.Context(), iban, amount, p)
	})
}

func (a *API) handleFunds(w http.ResponseWriter, r *http.Request, move fundsMove) {
	p, err := principal(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var req fundsRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	acc, err := move(r, mux.Vars(r)["iban"], req.Amount, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, accountResponse{
		IBAN:     acc.IBAN,
		Balance:  tools.FormatFiat(acc.Balance),
		Currency: acc.Currency,
	})
}
