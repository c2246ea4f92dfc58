package handlers

import (
	"net/http"

	"github.com/drfirst/rxchain/internal/domain/order"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

type PrepareOrderRequest struct {
	Patient       ledger.Address `json:"patient"`
	MedicineIDs   []uint64       `json:"medicine_ids"`
	Quantities    []uint64       `json:"quantities"`
	TotalPrice    uint64         `json:"total_price"`
	PharmacyProof *[]merkle.Hash `json:"pharmacy_proof,omitempty"`
}

type PharmacyProofRequest struct {
	PharmacyProof *[]merkle.Hash `json:"pharmacy_proof,omitempty"`
}

type PatientProofRequest struct {
	PatientProof *[]merkle.Hash `json:"patient_proof,omitempty"`
}

type PayOrderRequest struct {
	Value        uint64         `json:"value"`
	PatientProof *[]merkle.Hash `json:"patient_proof,omitempty"`
}

// decodeOptional accepts an empty body for routes whose fields all have defaults
func decodeOptional(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func (h *Handler) PrepareOrder(w http.ResponseWriter, r *http.Request) {
	var req PrepareOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	caller, _ := callerOf(r)
	proof := h.callerProof(r, req.PharmacyProof, roles.RolePharmacy)
	ex := h.node.Exchange
	h.execute(w, r, ex.Address(), 0, http.StatusCreated, func(tx *ledger.Tx) (interface{}, error) {
		id, err := ex.PrepareOrder(tx, caller, req.Patient, req.MedicineIDs, req.Quantities, req.TotalPrice, proof)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"order_id": id}, nil
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var o order.Order
	err = h.node.Read(r.Context(), func() error {
		var err error
		o, err = h.node.Exchange.Order(id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

func (h *Handler) MakeOrderReady(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PharmacyProofRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	proof := h.callerProof(r, req.PharmacyProof, roles.RolePharmacy)
	ex := h.node.Exchange
	h.execute(w, r, ex.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, ex.MakeOrderReady(tx, id, proof)
	})
}

func (h *Handler) IsOrderReady(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var ready bool
	err = h.node.Read(r.Context(), func() error {
		var err error
		ready, err = h.node.Exchange.IsOrderReady(id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"order_id": id, "ready": ready})
}

// GetOrderPrice is a read that depends on the caller, so it runs as a view
func (h *Handler) GetOrderPrice(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PatientProofRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	proof := h.callerProof(r, req.PatientProof, roles.RolePatient)
	ex := h.node.Exchange

	var price uint64
	err = h.view(r, ex.Address(), func(tx *ledger.Tx) error {
		var err error
		price, err = ex.GetOrderPrice(tx, id, proof)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]uint64{"order_id": id, "total_price": price})
}

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req PayOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	proof := h.callerProof(r, req.PatientProof, roles.RolePatient)
	ex := h.node.Exchange
	h.execute(w, r, ex.Address(), req.Value, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, ex.PayOrder(tx, id, proof)
	})
}
