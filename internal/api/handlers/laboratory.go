package handlers

import (
	"net/http"

	"github.com/drfirst/rxchain/internal/domain/laboratory"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

type MedicationsRequest struct {
	Medications []laboratory.Medication `json:"medications"`
}

type ItemsRequest struct {
	IDs        []uint64 `json:"ids"`
	Quantities []uint64 `json:"quantities"`
}

type MintMedicationsRequest struct {
	ItemsRequest
	Value         uint64         `json:"value"`
	PharmacyProof *[]merkle.Hash `json:"pharmacy_proof,omitempty"`
}

type TransferMedicationsRequest struct {
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	IDs    []uint64       `json:"ids"`
	Values []uint64       `json:"values"`
}

type ApprovalRequest struct {
	Operator ledger.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

type MedicationResponse struct {
	laboratory.Medication
	URI string `json:"uri"`
}

func (h *Handler) ListMedications(w http.ResponseWriter, r *http.Request) {
	lab := h.node.Laboratory
	var meds []laboratory.Medication
	_ = h.node.Read(r.Context(), func() error {
		meds = lab.Medications()
		return nil
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"medications": meds})
}

func (h *Handler) GetMedication(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lab := h.node.Laboratory
	var resp MedicationResponse
	err = h.node.Read(r.Context(), func() error {
		m, ok := lab.MedicationData(id)
		if !ok {
			return errNotFound
		}
		resp = MedicationResponse{Medication: m, URI: lab.URI(id)}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpsertMedications(w http.ResponseWriter, r *http.Request) {
	var req MedicationsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lab := h.node.Laboratory
	h.execute(w, r, lab.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, lab.AddOrUpdateMedications(tx, req.Medications)
	})
}

func (h *Handler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var req ItemsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var total uint64
	err := h.node.Read(r.Context(), func() error {
		var err error
		total, err = h.node.Laboratory.CalculateTotalPrice(req.IDs, req.Quantities)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]uint64{"total_price": total})
}

func (h *Handler) MintMedications(w http.ResponseWriter, r *http.Request) {
	var req MintMedicationsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	proof := h.callerProof(r, req.PharmacyProof, roles.RolePharmacy)
	lab := h.node.Laboratory
	h.execute(w, r, lab.Address(), req.Value, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, lab.MintMedications(tx, req.IDs, req.Quantities, proof)
	})
}

func (h *Handler) TransferMedications(w http.ResponseWriter, r *http.Request) {
	var req TransferMedicationsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lab := h.node.Laboratory
	h.execute(w, r, lab.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		if len(req.IDs) == 1 && len(req.Values) == 1 {
			return nil, lab.SafeTransferFrom(tx, req.From, req.To, req.IDs[0], req.Values[0])
		}
		return nil, lab.SafeBatchTransferFrom(tx, req.From, req.To, req.IDs, req.Values)
	})
}

func (h *Handler) MedicationBalance(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var balance uint64
	_ = h.node.Read(r.Context(), func() error {
		balance = h.node.Laboratory.BalanceOf(account, id)
		return nil
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "id": id, "balance": balance})
}

func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lab := h.node.Laboratory
	h.execute(w, r, lab.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, lab.SetApprovalForAll(tx, req.Operator, req.Approved)
	})
}
