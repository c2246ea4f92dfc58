package roles

import (
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/pkg/merkle"
)

// Manager keeps the doctor, patient and pharmacy commitments behind one administrator
type Manager struct {
	Ownable
	address    ledger.Address
	doctors    *Registry
	patients   *Registry
	pharmacies *Registry
}

// ManagerRoots are the initial commitments of a Manager
type ManagerRoots struct {
	Doctors    merkle.Hash
	Patients   merkle.Hash
	Pharmacies merkle.Hash
}

// NewManager creates an authorization manager deployed at address
func NewManager(address, owner ledger.Address, roots ManagerRoots) *Manager {
	return &Manager{
		Ownable:    NewOwnable(owner),
		address:    address,
		doctors:    NewRegistry(address, RoleDoctor, owner, roots.Doctors),
		patients:   NewRegistry(address, RolePatient, owner, roots.Patients),
		pharmacies: NewRegistry(address, RolePharmacy, owner, roots.Pharmacies),
	}
}

// Address returns the manager contract address
func (m *Manager) Address() ledger.Address { return m.address }

func (m *Manager) IsDoctor(addr ledger.Address, proof []merkle.Hash) bool {
	return m.doctors.IsMember(addr, proof)
}

func (m *Manager) IsPatient(addr ledger.Address, proof []merkle.Hash) bool {
	return m.patients.IsMember(addr, proof)
}

func (m *Manager) IsPharmacy(addr ledger.Address, proof []merkle.Hash) bool {
	return m.pharmacies.IsMember(addr, proof)
}

func (m *Manager) DoctorsMerkleRoot() merkle.Hash    { return m.doctors.MerkleRoot() }
func (m *Manager) PatientsMerkleRoot() merkle.Hash   { return m.patients.MerkleRoot() }
func (m *Manager) PharmaciesMerkleRoot() merkle.Hash { return m.pharmacies.MerkleRoot() }

func (m *Manager) SetDoctorsMerkleRoot(tx *ledger.Tx, root merkle.Hash) error {
	return m.set(tx, m.doctors, root)
}

func (m *Manager) SetPatientsMerkleRoot(tx *ledger.Tx, root merkle.Hash) error {
	return m.set(tx, m.patients, root)
}

func (m *Manager) SetPharmaciesMerkleRoot(tx *ledger.Tx, root merkle.Hash) error {
	return m.set(tx, m.pharmacies, root)
}

// Checker exposes one of the managed whitelists
func (m *Manager) Checker(role Role) (Checker, bool) {
	switch role {
	case RoleDoctor:
		return m.doctors, true
	case RolePatient:
		return m.patients, true
	case RolePharmacy:
		return m.pharmacies, true
	}
	return nil, false
}

func (m *Manager) set(tx *ledger.Tx, r *Registry, root merkle.Hash) error {
	if err := m.OnlyOwner(tx); err != nil {
		return err
	}
	r.setRoot(tx, root)
	return nil
}
