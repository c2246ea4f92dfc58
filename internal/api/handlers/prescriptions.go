package handlers

import (
	"net/http"

	"github.com/drfirst/rxchain/internal/domain/prescription"
	"github.com/drfirst/rxchain/internal/domain/roles"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

type MintPrescriptionRequest struct {
	To           ledger.Address `json:"to"`
	DoctorProof  *[]merkle.Hash `json:"doctor_proof,omitempty"`
	PatientProof *[]merkle.Hash `json:"patient_proof,omitempty"`
}

type TransferPrescriptionRequest struct {
	To            ledger.Address `json:"to"`
	PatientProof  *[]merkle.Hash `json:"patient_proof,omitempty"`
	PharmacyProof *[]merkle.Hash `json:"pharmacy_proof,omitempty"`
}

type BaseURIRequest struct {
	URI string `json:"uri"`
}

type PrescriptionResponse struct {
	TokenID uint64              `json:"token_id"`
	Owner   ledger.Address      `json:"owner"`
	URI     string              `json:"uri"`
	Patient ledger.Address      `json:"patient"`
	Doctor  ledger.Address      `json:"doctor"`
	Status  prescription.Status `json:"status"`
}

func (h *Handler) MintPrescription(w http.ResponseWriter, r *http.Request) {
	var req MintPrescriptionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	doctorProof := h.callerProof(r, req.DoctorProof, roles.RoleDoctor)
	patientProof := h.proof(req.PatientProof, roles.RolePatient, req.To)

	rx := h.node.Prescriptions
	h.execute(w, r, rx.Address(), 0, http.StatusCreated, func(tx *ledger.Tx) (interface{}, error) {
		id, err := rx.MintPrescription(tx, req.To, doctorProof, patientProof)
		if err != nil {
			return nil, err
		}
		uri, _ := rx.TokenURI(id)
		return map[string]interface{}{"token_id": id, "uri": uri}, nil
	})
}

func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rx := h.node.Prescriptions
	var resp PrescriptionResponse
	err = h.node.Read(r.Context(), func() error {
		owner, err := rx.OwnerOf(id)
		if err != nil {
			return err
		}
		uri, err := rx.TokenURI(id)
		if err != nil {
			return err
		}
		token, _ := rx.Token(id)
		resp = PrescriptionResponse{
			TokenID: id,
			Owner:   owner,
			URI:     uri,
			Patient: token.Patient,
			Doctor:  token.Doctor,
			Status:  token.Status,
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) TransferToPharmacy(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TransferPrescriptionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	patientProof := h.callerProof(r, req.PatientProof, roles.RolePatient)
	pharmacyProof := h.proof(req.PharmacyProof, roles.RolePharmacy, req.To)

	rx := h.node.Prescriptions
	h.execute(w, r, rx.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, rx.TransferToPharmacy(tx, patientProof, req.To, pharmacyProof, id)
	})
}

func (h *Handler) BurnPrescription(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rx := h.node.Prescriptions
	h.execute(w, r, rx.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, rx.Burn(tx, id)
	})
}

func (h *Handler) SetPrescriptionBaseURI(w http.ResponseWriter, r *http.Request) {
	var req BaseURIRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rx := h.node.Prescriptions
	h.execute(w, r, rx.Address(), 0, http.StatusOK, func(tx *ledger.Tx) (interface{}, error) {
		return nil, rx.SetBaseURI(tx, req.URI)
	})
}

func (h *Handler) PrescriptionBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var balance uint64
	err = h.node.Read(r.Context(), func() error {
		var err error
		balance, err = h.node.Prescriptions.BalanceOf(owner)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner, "balance": balance})
}
