package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) handleSimplePrice(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r); err != nil {
		a.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	prices, err := a.market.SimplePrices(r.Context(), []string{q.Get("ids")}, []string{q.Get("vs")})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]simplePriceView, 0, len(prices))
	for _, p := range prices {
		out = append(out, newSimplePriceView(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r); err != nil {
		a.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	h, err := a.market.History(r.Context(), q.Get("id"), q.Get("vs"), q.Get("days"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newHistoryView(h))
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	txs, err := a.trader.Transactions(r.Context(), mux.Vars(r)["iban"], p)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionView(tx))
	}
	respondJSON(w, http.StatusOK, out)
}
