package roles

import (
	"fmt"

	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// Role names a whitelisted group
type Role string

const (
	RoleDoctor   Role = "doctor"
	RolePatient  Role = "patient"
	RolePharmacy Role = "pharmacy"
	RoleUser     Role = "user"
)

// ParseRole accepts singular or plural role names
func ParseRole(s string) (Role, error) {
	switch s {
	case "doctor", "doctors":
		return RoleDoctor, nil
	case "patient", "patients":
		return RolePatient, nil
	case "pharmacy", "pharmacies":
		return RolePharmacy, nil
	case "user", "users":
		return RoleUser, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Checker answers whether an address belongs to a whitelist
type Checker interface {
	IsMember(addr ledger.Address, proof []merkle.Hash) bool
}

// Leaf is the whitelist leaf of an address
func Leaf(addr ledger.Address) merkle.Hash {
	return merkle.Leaf(addr.Bytes())
}

// BuildTree builds the whitelist tree for a set of addresses
func BuildTree(members []ledger.Address) *merkle.Tree {
	leaves := make([]merkle.Hash, len(members))
	for i, m := range members {
		leaves[i] = Leaf(m)
	}
	return merkle.NewTree(leaves)
}

// Registry holds one role's whitelist commitment behind an administrator
type Registry struct {
	Ownable
	address ledger.Address
	role    Role
	root    merkle.Hash
}

// NewRegistry creates a registry deployed at address
func NewRegistry(address ledger.Address, role Role, owner ledger.Address, root merkle.Hash) *Registry {
	return &Registry{
		Ownable: NewOwnable(owner),
		address: address,
		role:    role,
		root:    root,
	}
}

// Address returns the registry contract address
func (r *Registry) Address() ledger.Address { return r.address }

// Role returns the whitelisted role
func (r *Registry) Role() Role { return r.role }

// MerkleRoot returns the current commitment
func (r *Registry) MerkleRoot() merkle.Hash { return r.root }

// IsMember verifies addr against the current commitment. A denial is false, never an error.
func (r *Registry) IsMember(addr ledger.Address, proof []merkle.Hash) bool {
	return merkle.Verify(proof, r.root, Leaf(addr))
}

// SetMerkleRoot rotates the commitment; proofs against the previous root stop validating
func (r *Registry) SetMerkleRoot(tx *ledger.Tx, root merkle.Hash) error {
	if err := r.OnlyOwner(tx); err != nil {
		return err
	}
	r.setRoot(tx, root)
	return nil
}

func (r *Registry) setRoot(tx *ledger.Tx, root merkle.Hash) {
	previous := r.root
	r.root = root
	tx.OnRevert(func() { r.root = previous })

	tx.Emit(string(EventUpdatedMerkleRoot), &UpdatedMerkleRootData{
		Role:     r.role,
		Root:     root,
		Previous: previous,
	})
}

// Doctors is the doctor registry
type Doctors struct{ *Registry }

// NewDoctors creates the doctor registry
func NewDoctors(address, owner ledger.Address, root merkle.Hash) *Doctors {
	return &Doctors{NewRegistry(address, RoleDoctor, owner, root)}
}

// IsDoctor reports doctor membership
func (d *Doctors) IsDoctor(addr ledger.Address, proof []merkle.Hash) bool {
	return d.IsMember(addr, proof)
}

// Patients is the patient registry
type Patients struct{ *Registry }

// NewPatients creates the patient registry
func NewPatients(address, owner ledger.Address, root merkle.Hash) *Patients {
	return &Patients{NewRegistry(address, RolePatient, owner, root)}
}

// IsPatient reports patient membership
func (p *Patients) IsPatient(addr ledger.Address, proof []merkle.Hash) bool {
	return p.IsMember(addr, proof)
}

// Pharmacies is the pharmacy registry
type Pharmacies struct{ *Registry }

// NewPharmacies creates the pharmacy registry
func NewPharmacies(address, owner ledger.Address, root merkle.Hash) *Pharmacies {
	return &Pharmacies{NewRegistry(address, RolePharmacy, owner, root)}
}

// IsPharmacy reports pharmacy membership
func (p *Pharmacies) IsPharmacy(addr ledger.Address, proof []merkle.Hash) bool {
	return p.IsMember(addr, proof)
}

// Users is the generic user registry
type Users struct{ *Registry }

// NewUsers creates the generic user registry
func NewUsers(address, owner ledger.Address, root merkle.Hash) *Users {
	return &Users{NewRegistry(address, RoleUser, owner, root)}
}

// IsUser reports user membership
func (u *Users) IsUser(addr ledger.Address, proof []merkle.Hash) bool {
	return u.IsMember(addr, proof)
}
