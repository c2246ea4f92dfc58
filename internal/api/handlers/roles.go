package handlers

import (
	"net/http"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

type RootResponse struct {
	Role string      `json:"role"`
	Root merkle.Hash `json:"root"`
}

// SetRootRequest carries either an explicit root or the full member list.
// With members the node can serve proofs for the new whitelist.
type SetRootRequest struct {
	Root    *merkle.Hash     `json:"root,omitempty"`
	Members []ledger.Address `json:"members,omitempty"`
}

type CheckRequest struct {
	Address ledger.Address `json:"address"`
	Proof   *[]merkle.Hash `json:"proof,omitempty"`
}

type ProofResponse struct {
	Address ledger.Address `json:"address"`
	Root    merkle.Hash    `json:"root"`
	Proof   []merkle.Hash  `json:"proof"`
}

func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	root, err := h.node.Root(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RootResponse{Role: string(role), Root: root})
}

func (h *Handler) SetRoot(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req SetRootRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if (req.Root == nil) == (req.Members == nil) {
		h.writeError(w, r, badRequest("exactly one of root or members is required"))
		return
	}
	caller, ok := callerOf(r)
	if !ok {
		h.writeError(w, r, errNoCaller)
		return
	}

	var receipt *ledger.Receipt
	if req.Members != nil {
		receipt, err = h.node.SetWhitelist(r.Context(), caller, role, req.Members)
	} else {
		receipt, err = h.node.SetRoot(r.Context(), caller, role, *req.Root)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	root, _ := h.node.Root(r.Context(), role)
	h.writeJSON(w, http.StatusOK, TxResponse{
		Receipt: receipt.Index,
		Hash:    receipt.Hash,
		Result:  RootResponse{Role: string(role), Root: root},
	})
}

func (h *Handler) SetManagerRoot(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req SetRootRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Root == nil {
		h.writeError(w, r, badRequest("root is required"))
		return
	}
	caller, ok := callerOf(r)
	if !ok {
		h.writeError(w, r, errNoCaller)
		return
	}
	receipt, err := h.node.SetManagerRoot(r.Context(), caller, role, *req.Root)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TxResponse{
		Receipt: receipt.Index,
		Hash:    receipt.Hash,
		Result:  RootResponse{Role: string(role), Root: *req.Root},
	})
}

func (h *Handler) CheckMember(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CheckRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reg, err := h.node.Registry(role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proof := h.proof(req.Proof, role, req.Address)

	var member bool
	err = h.node.Read(r.Context(), func() error {
		member = reg.IsMember(req.Address, proof)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"address": req.Address,
		"member":  member,
	})
}

func (h *Handler) GetProof(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proof, err := h.node.Proof(role, addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	root, err := h.node.Root(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProofResponse{Address: addr, Root: root, Proof: proof})
}
