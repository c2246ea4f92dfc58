package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": h.node.Ledger.BalanceOf(addr),
	})
}

// ListReceipts pages through receipts in index order from ?from=
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		h.writeError(w, r, errNotAvailable)
		return
	}
	from, err := fromParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipts, err := h.receipts.Range(from, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if receipts == nil {
		receipts = []*ledger.Receipt{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": receipts})
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		h.writeError(w, r, errNotAvailable)
		return
	}
	index, err := uintParam(r, "index")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.receipts.Get(index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) GetReceiptByHash(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		h.writeError(w, r, errNotAvailable)
		return
	}
	hash, err := merkle.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, r, badRequest(err.Error()))
		return
	}
	receipt, err := h.receipts.GetByHash(hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// ContractEvents lists persisted events; {contract} is an address or a
// deployment label
func (h *Handler) ContractEvents(w http.ResponseWriter, r *http.Request) {
	contract, err := h.contractParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := fromParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.events.EventsByContract(r.Context(), contract, from, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) PatientOrders(w http.ResponseWriter, r *http.Request) {
	patient, err := addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	orders, err := h.orders.OrdersByPatient(r.Context(), patient, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// ProjectedCatalog serves the medication catalog as seen by the indexer
func (h *Handler) ProjectedCatalog(w http.ResponseWriter, r *http.Request) {
	meds, err := h.catalog.Medications(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"medications": meds})
}

func (h *Handler) contractParam(r *http.Request) (ledger.Address, error) {
	s := chi.URLParam(r, "contract")
	if addr, err := ledger.ParseAddress(s); err == nil {
		return addr, nil
	}
	n := h.node
	byLabel := map[string]ledger.Address{
		n.Ledger.Label(n.Doctors.Address()):       n.Doctors.Address(),
		n.Ledger.Label(n.Patients.Address()):      n.Patients.Address(),
		n.Ledger.Label(n.Pharmacies.Address()):    n.Pharmacies.Address(),
		n.Ledger.Label(n.Users.Address()):         n.Users.Address(),
		n.Ledger.Label(n.Authorization.Address()): n.Authorization.Address(),
		n.Ledger.Label(n.Prescriptions.Address()): n.Prescriptions.Address(),
		n.Ledger.Label(n.Laboratory.Address()):    n.Laboratory.Address(),
		n.Ledger.Label(n.Exchange.Address()):      n.Exchange.Address(),
	}
	if addr, ok := byLabel[s]; ok {
		return addr, nil
	}
	return ledger.Address{}, badRequest("unknown contract " + s)
}

func fromParam(r *http.Request) (uint64, error) {
	s := r.URL.Query().Get("from")
	if s == "" {
		return 0, nil
	}
	from, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, badRequest("invalid from")
	}
	return from, nil
}
